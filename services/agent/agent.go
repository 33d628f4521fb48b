package agent

import (
	"fmt"
	"strings"
)

// Scope selects which lifecycle an Agent records.
type Scope string

const (
	// ScopeJob records one execution per unit of work.
	ScopeJob Scope = "job"
	// ScopeApplication records one execution for the whole application.
	ScopeApplication Scope = "application"
	// ScopeBoth records both.
	ScopeBoth Scope = "both"
)

// ParseScope validates s.
func ParseScope(s string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(s))); scope {
	case ScopeJob, ScopeApplication, ScopeBoth:
		return scope, nil
	case "":
		return ScopeJob, nil
	default:
		return "", fmt.Errorf("unknown scope %q (want job, application or both)", s)
	}
}

type waiter interface {
	Wait()
	Close()
}

// Agent is the listener for one monitored engine. Each Agent owns its correlation
// state; agents in the same process never share entries.
type Agent struct {
	Listener
	waiters []waiter
}

// New builds the listeners scope calls for, all reporting through reporter.
func New(reporter Reporter, scope Scope, opts ...Option) (*Agent, error) {
	a := &Agent{}
	var listeners []Listener

	if scope == ScopeJob || scope == ScopeBoth {
		l, err := NewJobListener(reporter, opts...)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
		a.waiters = append(a.waiters, l)
	}
	if scope == ScopeApplication || scope == ScopeBoth {
		l, err := NewAppListener(reporter, opts...)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
		a.waiters = append(a.waiters, l)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	if len(listeners) == 1 {
		a.Listener = listeners[0]
	} else {
		a.Listener = Tee(listeners...)
	}
	return a, nil
}

// Wait blocks until every report dispatched so far has completed. It must not race
// with event delivery; use Close once the engine may still be emitting.
func (a *Agent) Wait() {
	for _, w := range a.waiters {
		w.Wait()
	}
}

// Close stops every listener from dispatching new reports and waits for the
// in-flight ones.
func (a *Agent) Close() {
	for _, w := range a.waiters {
		w.Close()
	}
}
