// Package agent correlates an execution engine's lifecycle events with execution
// records on the tracking service.
package agent

import (
	"strconv"
	"strings"

	"jobwatch/pkg/jobs"
)

// Property keys read from a unit of work's start event.
const (
	PropDescription = "job.description"
	PropGroupID     = "job.group.id"
)

// ApplicationStart is emitted once when the engine's application begins.
type ApplicationStart struct {
	AppName string
	AppID   string
}

// ApplicationEnd is emitted once when the engine's application finishes.
type ApplicationEnd struct{}

// JobStart is emitted when a unit of work begins. JobID is only meaningful inside the
// emitting engine process.
type JobStart struct {
	JobID      int
	Properties map[string]string
}

// JobEnd is emitted when a unit of work finishes.
type JobEnd struct {
	JobID  int
	Result JobResult
}

// JobResult is the outcome carried by a JobEnd.
type JobResult struct {
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Failed reports whether the unit of work did not succeed.
func (r JobResult) Failed() bool { return !r.Succeeded }

// Message is the error text recorded for a failed result.
func (r JobResult) Message() string {
	switch {
	case r.Succeeded:
		return ""
	case strings.TrimSpace(r.Error) != "":
		return r.Error
	case strings.TrimSpace(r.Reason) != "":
		return "job failed: " + r.Reason
	default:
		return "job failed"
	}
}

// Listener receives engine lifecycle callbacks. Implementations must return quickly and
// never block the engine on network calls.
type Listener interface {
	OnApplicationStart(ApplicationStart)
	OnApplicationEnd(ApplicationEnd)
	OnJobStart(JobStart)
	OnJobEnd(JobEnd)
}

// NaturalKey derives the record key for a unit of work, falling back to placeholders
// built from the ephemeral id when the engine supplied no description or group.
func (e JobStart) NaturalKey() jobs.NaturalKey {
	id := strconv.Itoa(e.JobID)
	return jobs.NaturalKey{
		JobName: property(e.Properties, PropDescription, "job-"+id),
		RunID:   property(e.Properties, PropGroupID, "unknown-run-"+id),
	}
}

func property(props map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(props[key]); v != "" {
		return v
	}
	return fallback
}

type tee []Listener

// Tee fans every callback out to each listener in order.
func Tee(listeners ...Listener) Listener { return tee(listeners) }

func (t tee) OnApplicationStart(e ApplicationStart) {
	for _, l := range t {
		l.OnApplicationStart(e)
	}
}

func (t tee) OnApplicationEnd(e ApplicationEnd) {
	for _, l := range t {
		l.OnApplicationEnd(e)
	}
}

func (t tee) OnJobStart(e JobStart) {
	for _, l := range t {
		l.OnJobStart(e)
	}
}

func (t tee) OnJobEnd(e JobEnd) {
	for _, l := range t {
		l.OnJobEnd(e)
	}
}
