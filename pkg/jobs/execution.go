package jobs

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{StatusRunning, StatusSuccess, StatusFailed}

// ParseStatus converts s into a Status, ignoring case and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !candidate.Valid() {
		return "", validationErrorf("unknown status %q", s)
	}
	return candidate, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Execution is the persisted record of one observed run of a job.
type Execution struct {
	ID           int64      `json:"id"`
	JobName      string     `json:"jobName"`
	RunID        string     `json:"runId"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Key returns the natural key of the execution.
func (e Execution) Key() NaturalKey {
	return NaturalKey{JobName: e.JobName, RunID: e.RunID}
}

// NaturalKey identifies a logical run independently of the server-assigned id.
type NaturalKey struct {
	JobName string `json:"jobName"`
	RunID   string `json:"runId"`
}

func (k NaturalKey) String() string {
	return k.JobName + "/" + k.RunID
}

// Ref addresses an existing execution either by persistent id or by natural key.
// A positive ID takes precedence over Key.
type Ref struct {
	ID  int64
	Key NaturalKey
}

// ByID returns a Ref addressing the execution with the given id.
func ByID(id int64) Ref { return Ref{ID: id} }

// ByKey returns a Ref addressing the execution with the given natural key.
func ByKey(jobName, runID string) Ref {
	return Ref{Key: NaturalKey{JobName: jobName, RunID: runID}}
}

// HasID reports whether the ref uses the persistent id.
func (r Ref) HasID() bool { return r.ID > 0 }

func (r Ref) String() string {
	if r.HasID() {
		return "id " + strconv.FormatInt(r.ID, 10)
	}
	return "key " + r.Key.String()
}

// StartRequest is the body of a creation call. Status, StartTime and ErrorMessage are
// accepted on the wire but ignored: creation always yields a RUNNING record started now.
type StartRequest struct {
	JobName      string          `json:"jobName"`
	RunID        string          `json:"runId"`
	Status       Status          `json:"status,omitempty"`
	StartTime    json.RawMessage `json:"startTime,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
}

// Patch is a partial update. Nil fields leave the stored value untouched.
type Patch struct {
	Status       *Status    `json:"status,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
}

// KeyedPatch is a Patch addressed by natural key in the request body.
type KeyedPatch struct {
	JobName string `json:"jobName"`
	RunID   string `json:"runId"`
	Patch
}

// TerminalPatch builds the patch an observer sends when a unit of work finishes.
func TerminalPatch(failed bool, message string) Patch {
	status := StatusSuccess
	if !failed {
		return Patch{Status: &status}
	}
	status = StatusFailed
	p := Patch{Status: &status}
	if message != "" {
		p.ErrorMessage = &message
	}
	return p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
