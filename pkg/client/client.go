// Package client talks to the tracking service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobwatch/pkg/jobs"
	"jobwatch/pkg/telemetry"
)

// DialTimeout bounds connection establishment. Requests themselves are not cancelled by
// the client; callers pass a context when they need a deadline.
const DialTimeout = 5 * time.Second

const jobsPath = "/api/jobs"

// StatusError reports a non-2xx response from the tracking service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracking service returned %d", e.Code)
	}
	return fmt.Sprintf("tracking service returned %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the tracking service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client issues tracking calls against one backend.
type Client struct {
	base string
	http *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend url must use http or https: %q", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend url has no host: %q", baseURL)
	}

	c := &Client{
		base: strings.TrimRight(parsed.String(), "/"),
		http: NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClient returns an HTTP client with a short connect timeout and traced transport.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: DialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = DialTimeout
	return &http.Client{Transport: telemetry.Transport(transport)}
}

// BaseURL returns the normalised backend URL.
func (c *Client) BaseURL() string { return c.base }

// StartJob creates a RUNNING execution for the natural key.
func (c *Client) StartJob(ctx context.Context, key jobs.NaturalKey) (jobs.Execution, error) {
	var out jobs.Execution
	err := c.do(ctx, http.MethodPost, jobsPath, nil, jobs.StartRequest{JobName: key.JobName, RunID: key.RunID}, &out)
	return out, err
}

// UpdateJob applies patch to the execution with the given id.
func (c *Client) UpdateJob(ctx context.Context, id int64, patch jobs.Patch) (jobs.Execution, error) {
	var out jobs.Execution
	err := c.do(ctx, http.MethodPut, jobsPath+"/"+strconv.FormatInt(id, 10), nil, patch, &out)
	return out, err
}

// UpdateJobByKey applies patch to the most recent execution carrying key.
func (c *Client) UpdateJobByKey(ctx context.Context, key jobs.NaturalKey, patch jobs.Patch) (jobs.Execution, error) {
	var out jobs.Execution
	body := jobs.KeyedPatch{JobName: key.JobName, RunID: key.RunID, Patch: patch}
	err := c.do(ctx, http.MethodPut, jobsPath, nil, body, &out)
	return out, err
}

// Update routes to UpdateJob or UpdateJobByKey depending on how ref addresses the record.
func (c *Client) Update(ctx context.Context, ref jobs.Ref, patch jobs.Patch) (jobs.Execution, error) {
	if ref.HasID() {
		return c.UpdateJob(ctx, ref.ID, patch)
	}
	return c.UpdateJobByKey(ctx, ref.Key, patch)
}

// GetJob fetches one execution.
func (c *Client) GetJob(ctx context.Context, id int64) (jobs.Execution, error) {
	var out jobs.Execution
	err := c.do(ctx, http.MethodGet, jobsPath+"/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

// ListJobs returns executions matching criteria, newest first.
func (c *Client) ListJobs(ctx context.Context, criteria jobs.Criteria) ([]jobs.Execution, error) {
	var out []jobs.Execution
	err := c.do(ctx, http.MethodGet, jobsPath, criteriaQuery(criteria), nil, &out)
	return out, err
}

// Stats returns execution counts per status plus a "total" entry.
func (c *Client) Stats(ctx context.Context) (map[string]int64, error) {
	var out map[string]int64
	err := c.do(ctx, http.MethodGet, jobsPath+"/stats", nil, nil, &out)
	return out, err
}

func criteriaQuery(c jobs.Criteria) url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			q.Set(key, value)
		}
	}
	setTime := func(key string, t *time.Time) {
		if t != nil {
			q.Set(key, t.UTC().Format(time.RFC3339Nano))
		}
	}
	set("jobName", c.JobName)
	set("runId", c.RunID)
	set("status", string(c.Status))
	setTime("startTimeFrom", c.StartTimeFrom)
	setTime("startTimeTo", c.StartTimeTo)
	setTime("endTimeFrom", c.EndTimeFrom)
	setTime("endTimeTo", c.EndTimeTo)
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Message: errorText(data)}
	}

	if dest == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorText(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
