package tracker

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"jobwatch/pkg/jobs"
)

const (
	startedSubject  = "jobwatch.jobs.started"
	updatedSubject  = "jobwatch.jobs.updated"
	finishedSubject = "jobwatch.jobs.finished"
)

// Publisher announces lifecycle changes. Publishing is best-effort and never fails the
// request that triggered it.
type Publisher interface {
	publish(ctx context.Context, subject string, execution jobs.Execution)
}

type noopPublisher struct{}

func (noopPublisher) publish(context.Context, string, jobs.Execution) {}

type natsPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NATSPublisher returns a publisher that writes JSON events to conn. A nil conn disables
// publishing.
func NATSPublisher(conn *nats.Conn, logger zerolog.Logger) Publisher {
	if conn == nil {
		return noopPublisher{}
	}
	return natsPublisher{conn: conn, logger: logger}
}

func (p natsPublisher) publish(_ context.Context, subject string, execution jobs.Execution) {
	data, err := json.Marshal(map[string]any{
		"id":           execution.ID,
		"jobName":      execution.JobName,
		"runId":        execution.RunID,
		"status":       execution.Status,
		"startTime":    execution.StartTime,
		"endTime":      execution.EndTime,
		"errorMessage": execution.ErrorMessage,
	})
	if err != nil {
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Int64("id", execution.ID).Msg("publish lifecycle event")
	}
}
