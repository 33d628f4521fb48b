package agent

import (
	"errors"

	"jobwatch/pkg/jobs"
)

// JobListener records one execution per unit of work. Start events create a RUNNING
// record; the matching end event reports its terminal status to the id the create call
// returned, or by natural key if that call has not returned yet.
type JobListener struct {
	entries  correlations[int]
	dispatch *dispatcher
	opts     options
}

var _ Listener = (*JobListener)(nil)

// NewJobListener returns a listener reporting through reporter.
func NewJobListener(reporter Reporter, opts ...Option) (*JobListener, error) {
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	o := buildOptions(opts)
	return &JobListener{dispatch: newDispatcher(reporter, o), opts: o}, nil
}

func (l *JobListener) OnApplicationStart(ApplicationStart) {}

func (l *JobListener) OnApplicationEnd(ApplicationEnd) {}

func (l *JobListener) OnJobStart(ev JobStart) {
	key := ev.NaturalKey()
	pending := l.entries.begin(ev.JobID, key)

	l.dispatch.start(key, func(execution jobs.Execution, err error) {
		if err != nil {
			l.entries.abandon(ev.JobID, pending)
			return
		}
		if !l.entries.resolve(ev.JobID, pending, execution.ID) {
			l.opts.logger.Debug().Int("job_id", ev.JobID).Int64("id", execution.ID).Msg("end already reported before start resolved")
		}
	})
}

func (l *JobListener) OnJobEnd(ev JobEnd) {
	e, ok := l.entries.take(ev.JobID)
	if !ok {
		uncorrelatedEnds.Inc()
		l.opts.logger.Debug().Int("job_id", ev.JobID).Msg("no recorded start, skipping end")
		return
	}
	l.dispatch.finish(e, jobs.TerminalPatch(ev.Result.Failed(), ev.Result.Message()))
}

// Wait blocks until every dispatched report has completed.
func (l *JobListener) Wait() { l.dispatch.wait() }

// Close stops reporting and waits for in-flight reports. Events delivered afterwards
// are dropped.
func (l *JobListener) Close() { l.dispatch.close() }

// Tracked returns the number of units of work started but not yet ended.
func (l *JobListener) Tracked() int { return l.entries.len() }
