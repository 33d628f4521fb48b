package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jobwatch/services/agent"
)

const (
	defaultStepTimeout = 30 * time.Minute
	maxReasonLen       = 512
)

// ErrStepFailed is returned by Run when a step exits unsuccessfully.
var ErrStepFailed = errors.New("pipeline step failed")

// StepFunc executes one step and returns its combined output.
type StepFunc func(ctx context.Context, step Step) (string, error)

// Runner executes pipelines step by step, emitting lifecycle events to a listener.
// Steps run sequentially; the first failure stops the pipeline.
type Runner struct {
	listener agent.Listener
	logger   zerolog.Logger
	exec     StepFunc
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithStepFunc replaces the shell executor.
func WithStepFunc(fn StepFunc) RunnerOption {
	return func(r *Runner) { r.exec = fn }
}

// WithRunnerLogger sets the logger step output is written to.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner returns a Runner emitting to listener.
func NewRunner(listener agent.Listener, opts ...RunnerOption) (*Runner, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	r := &Runner{listener: listener, logger: zerolog.Nop(), exec: ShellStep}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes p. Events are delivered synchronously; listeners are expected to hand
// any network work off to their own goroutines.
func (r *Runner) Run(ctx context.Context, p *Pipeline) error {
	if p == nil {
		return errors.New("nil pipeline")
	}

	r.listener.OnApplicationStart(agent.ApplicationStart{AppName: p.Name, AppID: p.RunID})
	defer r.listener.OnApplicationEnd(agent.ApplicationEnd{})

	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		description := step.Description
		if strings.TrimSpace(description) == "" {
			description = step.Run
		}
		r.listener.OnJobStart(agent.JobStart{
			JobID: i,
			Properties: map[string]string{
				agent.PropDescription: description,
				agent.PropGroupID:     p.RunID,
			},
		})

		start := time.Now()
		output, err := r.exec(ctx, step)
		r.logger.Info().
			Int("step", i+1).
			Str("description", description).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("step finished")
		if output != "" {
			r.logger.Debug().Int("step", i+1).Str("output", output).Msg("step output")
		}

		if err != nil {
			r.listener.OnJobEnd(agent.JobEnd{JobID: i, Result: agent.JobResult{
				Error:  err.Error(),
				Reason: truncate(strings.TrimSpace(output), maxReasonLen),
			}})
			return fmt.Errorf("%w: step %d (%s): %v", ErrStepFailed, i+1, description, err)
		}
		r.listener.OnJobEnd(agent.JobEnd{JobID: i, Result: agent.JobResult{Succeeded: true}})
	}
	return nil
}

// ShellStep runs step.Run with sh -c, bounded by the step timeout.
func ShellStep(ctx context.Context, step Step) (string, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
