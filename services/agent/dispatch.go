package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"jobwatch/pkg/jobs"
)

// Reporter is the subset of the tracking client the listeners call.
type Reporter interface {
	StartJob(ctx context.Context, key jobs.NaturalKey) (jobs.Execution, error)
	Update(ctx context.Context, ref jobs.Ref, patch jobs.Patch) (jobs.Execution, error)
}

var errDispatcherClosed = errors.New("listener closed")

// Option customises a listener.
type Option func(*options)

type options struct {
	ctx    context.Context
	logger zerolog.Logger
}

// WithLogger sets the logger reporting failures are written to.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithContext sets the context background reports run under. Cancelling it aborts
// in-flight calls.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func buildOptions(opts []Option) options {
	o := options{ctx: context.Background(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// dispatcher runs single-shot reporting calls off the engine's goroutine. Failures are
// logged and dropped.
type dispatcher struct {
	reporter Reporter
	ctx      context.Context
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(reporter Reporter, o options) *dispatcher {
	return &dispatcher{reporter: reporter, ctx: o.ctx, logger: o.logger}
}

// acquire registers one call unless the dispatcher is closed. Holding the read lock
// across Add keeps it from racing the Wait in close.
func (d *dispatcher) acquire(call string, key jobs.NaturalKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		reportsTotal.WithLabelValues(call, "dropped").Inc()
		d.logger.Warn().Str("job_name", key.JobName).Str("run_id", key.RunID).Msgf("listener closed, dropping %s report", call)
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *dispatcher) start(key jobs.NaturalKey, onResult func(jobs.Execution, error)) {
	if !d.acquire("start", key) {
		onResult(jobs.Execution{}, errDispatcherClosed)
		return
	}
	go func() {
		defer d.wg.Done()
		execution, err := d.reporter.StartJob(d.ctx, key)
		if err != nil {
			reportsTotal.WithLabelValues("start", "error").Inc()
			d.logger.Warn().Err(err).Str("job_name", key.JobName).Str("run_id", key.RunID).Msg("failed to report start")
		} else {
			reportsTotal.WithLabelValues("start", "ok").Inc()
			d.logger.Debug().Int64("id", execution.ID).Str("job_name", key.JobName).Str("run_id", key.RunID).Msg("start reported")
		}
		onResult(execution, err)
	}()
}

func (d *dispatcher) finish(e *entry, patch jobs.Patch) {
	if !d.acquire("update", e.key) {
		return
	}
	go func() {
		defer d.wg.Done()
		ref := e.ref()
		status := ""
		if patch.Status != nil {
			status = string(*patch.Status)
		}
		if _, err := d.reporter.Update(d.ctx, ref, patch); err != nil {
			reportsTotal.WithLabelValues("update", "error").Inc()
			d.logger.Warn().Err(err).
				Str("job_name", e.key.JobName).
				Str("run_id", e.key.RunID).
				Str("ref", ref.String()).
				Msg("failed to report end")
			return
		}
		reportsTotal.WithLabelValues("update", "ok").Inc()
		d.logger.Debug().Str("ref", ref.String()).Str("status", status).Msg("end reported")
	}()
}

// wait blocks until the calls dispatched so far have returned. Callers that may still
// be delivering events should use close instead.
func (d *dispatcher) wait() { d.wg.Wait() }

// close stops accepting calls and waits for the in-flight ones.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
