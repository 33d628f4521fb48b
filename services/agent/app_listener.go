package agent

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"jobwatch/pkg/jobs"
)

// AppListener records one execution for the whole application. Any failed unit of work
// marks the application failed; the last failure message is reported when it ends.
type AppListener struct {
	apps     correlations[string]
	dispatch *dispatcher
	opts     options

	mu        sync.Mutex
	failed    bool
	lastError string
}

var _ Listener = (*AppListener)(nil)

// NewAppListener returns a listener reporting through reporter.
func NewAppListener(reporter Reporter, opts ...Option) (*AppListener, error) {
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	o := buildOptions(opts)
	return &AppListener{dispatch: newDispatcher(reporter, o), opts: o}, nil
}

func (l *AppListener) OnApplicationStart(ev ApplicationStart) {
	appID := strings.TrimSpace(ev.AppID)
	if appID == "" {
		appID = uuid.NewString()
	}
	name := strings.TrimSpace(ev.AppName)
	if name == "" {
		name = "application-" + appID
	}

	key := jobs.NaturalKey{JobName: name, RunID: appID}
	pending := l.apps.begin(appID, key)

	l.dispatch.start(key, func(execution jobs.Execution, err error) {
		if err != nil {
			l.apps.abandon(appID, pending)
			return
		}
		l.apps.resolve(appID, pending, execution.ID)
	})
}

func (l *AppListener) OnJobStart(JobStart) {}

func (l *AppListener) OnJobEnd(ev JobEnd) {
	if !ev.Result.Failed() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = true
	l.lastError = ev.Result.Message()
}

// OnApplicationEnd reports every tracked application and resets the failure state.
func (l *AppListener) OnApplicationEnd(ApplicationEnd) {
	l.mu.Lock()
	failed, message := l.failed, l.lastError
	l.failed, l.lastError = false, ""
	l.mu.Unlock()

	patch := jobs.TerminalPatch(failed, message)
	for _, appID := range l.apps.keys() {
		if e, ok := l.apps.take(appID); ok {
			l.dispatch.finish(e, patch)
		}
	}
}

// Failed reports the accumulated failure state and the last failure message.
func (l *AppListener) Failed() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed, l.lastError
}

// Wait blocks until every dispatched report has completed.
func (l *AppListener) Wait() { l.dispatch.wait() }

// Close stops reporting and waits for in-flight reports.
func (l *AppListener) Close() { l.dispatch.close() }

// Tracked returns the number of applications started but not yet ended.
func (l *AppListener) Tracked() int { return l.apps.len() }
