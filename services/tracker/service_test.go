package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/pkg/jobs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	subject   string
	execution jobs.Execution
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) publish(_ context.Context, subject string, e jobs.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{subject: subject, execution: e})
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.subject)
	}
	return out
}

type serviceFixture struct {
	svc    *Service
	store  *GormStore
	clock  *fakeClock
	events *recordingPublisher
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	store := newTestStore(t)
	clock := &fakeClock{now: base}
	events := &recordingPublisher{}
	svc, err := NewService(store, WithClock(clock.Now), WithPublisher(events))
	require.NoError(t, err)
	return serviceFixture{svc: svc, store: store, clock: clock, events: events}
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestStartThenSucceed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.Equal(t, jobs.StatusRunning, created.Status)
	assert.True(t, created.StartTime.Equal(base))
	assert.Nil(t, created.EndTime)

	f.clock.Advance(90 * time.Second)
	updated, err := f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusSuccess)})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, updated.Status)
	require.NotNil(t, updated.EndTime)
	assert.True(t, updated.EndTime.Equal(base.Add(90*time.Second)))
	assert.True(t, updated.StartTime.Equal(created.StartTime))

	stored, err := f.svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, stored.Status)
	require.NotNil(t, stored.EndTime)
	assert.True(t, stored.EndTime.Equal(*updated.EndTime))
	assert.False(t, stored.EndTime.Before(stored.StartTime))

	assert.Equal(t, []string{startedSubject, finishedSubject}, f.events.subjects())
}

func TestStartIgnoresCallerStatusAndStartTime(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.StartJob(context.Background(), jobs.StartRequest{
		JobName:      "ingest",
		RunID:        "run-1",
		Status:       jobs.StatusFailed,
		StartTime:    []byte(`"1999-12-31T23:59:59Z"`),
		ErrorMessage: jobs.Ptr("should not stick"),
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, created.Status)
	assert.True(t, created.StartTime.Equal(base))
	assert.Empty(t, created.ErrorMessage)
}

func TestStartValidationPersistsNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, req := range []jobs.StartRequest{
		{RunID: "run-1"},
		{JobName: "ingest", RunID: "  "},
		{},
	} {
		_, err := f.svc.StartJob(ctx, req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, jobs.ErrValidation))
	}

	all, err := f.svc.ListJobs(ctx, jobs.Criteria{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.events.subjects())
}

func TestUpdateMissingIDMutatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	existing, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)

	_, err = f.svc.UpdateJob(ctx, jobs.ByID(existing.ID+100), jobs.Patch{Status: jobs.Ptr(jobs.StatusFailed)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrNotFound))

	all, err := f.svc.ListJobs(ctx, jobs.Criteria{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, jobs.StatusRunning, all[0].Status)
	assert.Nil(t, all[0].EndTime)
}

func TestUpdateByNaturalKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	newer, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateJob(ctx, jobs.ByKey("ingest", "run-1"), jobs.Patch{Status: jobs.Ptr(jobs.Status("failed"))})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, updated.ID)
	assert.Equal(t, jobs.StatusFailed, updated.Status)

	_, err = f.svc.UpdateJob(ctx, jobs.ByKey("ingest", "run-2"), jobs.Patch{Status: jobs.Ptr(jobs.StatusFailed)})
	assert.True(t, errors.Is(err, jobs.ErrNotFound))

	_, err = f.svc.UpdateJob(ctx, jobs.ByKey("", "run-1"), jobs.Patch{})
	assert.True(t, errors.Is(err, jobs.ErrValidation))
}

func TestErrorMessageSurvivesLaterUpdate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)

	_, err = f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr("connection refused: warehouse:5432"),
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	again, err := f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusFailed)})
	require.NoError(t, err)
	assert.Equal(t, "connection refused: warehouse:5432", again.ErrorMessage)

	stored, err := f.svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "connection refused: warehouse:5432", stored.ErrorMessage)

	assert.Equal(t, []string{startedSubject, finishedSubject, updatedSubject}, f.events.subjects())
}

func TestUpdateRejectsLeavingTerminalStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "ingest", RunID: "run-1"})
	require.NoError(t, err)
	_, err = f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusSuccess)})
	require.NoError(t, err)

	_, err = f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusRunning)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrInvalidTransition))

	stored, err := f.svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, stored.Status)
}

func TestListJobs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	start := func(name, run string) jobs.Execution {
		e, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: name, RunID: run})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		return e
	}
	daily := start("ETL-Daily", "r1")
	ingest := start("ingest", "r2")
	loader := start("loader", "r3")

	_, err := f.svc.UpdateJob(ctx, jobs.ByID(ingest.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusFailed)})
	require.NoError(t, err)
	_, err = f.svc.UpdateJob(ctx, jobs.ByID(daily.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusSuccess)})
	require.NoError(t, err)

	failed, err := f.svc.ListJobs(ctx, jobs.Criteria{Status: jobs.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ingest.ID, failed[0].ID)

	etl, err := f.svc.ListJobs(ctx, jobs.Criteria{JobName: "etl"})
	require.NoError(t, err)
	require.Len(t, etl, 1)
	assert.Equal(t, "ETL-Daily", etl[0].JobName)

	all, err := f.svc.ListJobs(ctx, jobs.Criteria{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{loader.ID, ingest.ID, daily.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})
}

func TestStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.StartJob(ctx, jobs.StartRequest{JobName: "a", RunID: "1"})
	require.NoError(t, err)
	_, err = f.svc.StartJob(ctx, jobs.StartRequest{JobName: "b", RunID: "2"})
	require.NoError(t, err)
	_, err = f.svc.UpdateJob(ctx, jobs.ByID(created.ID), jobs.Patch{Status: jobs.Ptr(jobs.StatusFailed)})
	require.NoError(t, err)

	counts, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[jobs.StatusRunning])
	assert.Equal(t, int64(1), counts[jobs.StatusFailed])
	assert.Equal(t, int64(0), counts[jobs.StatusSuccess])
}
