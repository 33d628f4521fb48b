package tracker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"jobwatch/pkg/jobs"
)

// Service implements the tracking operations on top of a Store. Each call is handled
// independently; read-modify-write on one record is not wrapped in a transaction.
type Service struct {
	store  Store
	events Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithPublisher sets the sink lifecycle events are published to.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// NewService returns a Service persisting through store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	s := &Service{
		store:  store,
		events: noopPublisher{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// StartJob validates req and persists a new RUNNING execution started now.
func (s *Service) StartJob(ctx context.Context, req jobs.StartRequest) (jobs.Execution, error) {
	if err := jobs.ValidateStart(req); err != nil {
		return jobs.Execution{}, err
	}

	s.logger.Info().Str("job_name", req.JobName).Str("run_id", req.RunID).Msg("starting execution")

	execution := jobs.NewExecution(req, s.timestamp())
	if err := s.store.Create(ctx, &execution); err != nil {
		s.logger.Error().Err(err).Str("job_name", req.JobName).Str("run_id", req.RunID).Msg("failed to save execution")
		return jobs.Execution{}, err
	}

	executionsStarted.Inc()
	s.events.publish(ctx, startedSubject, execution)
	return execution, nil
}

// UpdateJob merges patch into the execution addressed by ref and persists the result.
func (s *Service) UpdateJob(ctx context.Context, ref jobs.Ref, patch jobs.Patch) (jobs.Execution, error) {
	patch, err := jobs.NormalizePatch(patch)
	if err != nil {
		return jobs.Execution{}, err
	}
	if patch.EndTime != nil {
		end := patch.EndTime.UTC().Truncate(time.Microsecond)
		patch.EndTime = &end
	}

	var existing jobs.Execution
	if ref.HasID() {
		existing, err = s.store.FindByID(ctx, ref.ID)
	} else {
		if err := jobs.ValidateKey(ref.Key); err != nil {
			return jobs.Execution{}, err
		}
		existing, err = s.store.FindByKey(ctx, ref.Key)
	}
	if err != nil {
		return jobs.Execution{}, err
	}

	s.logger.Info().Int64("id", existing.ID).Str("job_name", existing.JobName).Str("run_id", existing.RunID).Msg("updating execution")

	merged, err := jobs.ApplyUpdate(existing, patch, s.timestamp())
	if err != nil {
		return jobs.Execution{}, err
	}
	if err := s.store.Save(ctx, merged); err != nil {
		s.logger.Error().Err(err).Int64("id", existing.ID).Msg("failed to save execution")
		return jobs.Execution{}, err
	}

	executionsUpdated.WithLabelValues(string(merged.Status)).Inc()
	subject := updatedSubject
	if merged.Status.Terminal() && !existing.Status.Terminal() {
		subject = finishedSubject
	}
	s.events.publish(ctx, subject, merged)
	return merged, nil
}

// ListJobs returns the executions matching criteria, newest first.
func (s *Service) ListJobs(ctx context.Context, criteria jobs.Criteria) ([]jobs.Execution, error) {
	return s.store.List(ctx, jobs.BuildFilter(criteria))
}

// GetJob returns the execution with the given id.
func (s *Service) GetJob(ctx context.Context, id int64) (jobs.Execution, error) {
	return s.store.FindByID(ctx, id)
}

// Stats counts executions per status.
func (s *Service) Stats(ctx context.Context) (map[jobs.Status]int64, error) {
	return s.store.CountByStatus(ctx)
}
