package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jobwatch/pkg/bus"
	"jobwatch/services/agent"
)

// Event types carried on the wire.
const (
	TypeApplicationStart = "applicationStart"
	TypeApplicationEnd   = "applicationEnd"
	TypeJobStart         = "jobStart"
	TypeJobEnd           = "jobEnd"
)

// DefaultSubject is where engines publish lifecycle events.
const DefaultSubject = "jobwatch.engine.events"

// Event is the JSON envelope of one engine lifecycle event. Source identifies the engine
// instance that emitted it; job ids are only unique within one source.
type Event struct {
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	AppName    string            `json:"appName,omitempty"`
	AppID      string            `json:"appId,omitempty"`
	JobID      int               `json:"jobId"`
	Properties map[string]string `json:"properties,omitempty"`
	Result     *agent.JobResult  `json:"result,omitempty"`
}

// Deliver invokes the listener callback matching the event type.
func (e Event) Deliver(l agent.Listener) error {
	switch e.Type {
	case TypeApplicationStart:
		l.OnApplicationStart(agent.ApplicationStart{AppName: e.AppName, AppID: e.AppID})
	case TypeApplicationEnd:
		l.OnApplicationEnd(agent.ApplicationEnd{})
	case TypeJobStart:
		l.OnJobStart(agent.JobStart{JobID: e.JobID, Properties: e.Properties})
	case TypeJobEnd:
		var result agent.JobResult
		if e.Result != nil {
			result = *e.Result
		}
		l.OnJobEnd(agent.JobEnd{JobID: e.JobID, Result: result})
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Subscriber is the subset of the bus a Feed consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Session is the listener state a Feed keeps for one engine source. *agent.Agent
// implements it.
type Session interface {
	agent.Listener
	Close()
}

// SessionFunc opens the session for a source seen for the first time.
type SessionFunc func(source string) (Session, error)

// Feed delivers events consumed from a JetStream subject, routing each source to its own
// session so that engines sharing the subject never share correlation state.
type Feed struct {
	sub        Subscriber
	subject    string
	durable    string
	newSession SessionFunc
	logger     zerolog.Logger

	mu       sync.Mutex
	stopped  bool
	sessions map[string]Session
	closing  sync.WaitGroup
}

var errFeedStopped = errors.New("feed stopped")

// NewFeed returns a Feed reading subject through a durable consumer.
func NewFeed(sub Subscriber, subject, durable string, newSession SessionFunc, logger zerolog.Logger) (*Feed, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if newSession == nil {
		return nil, errors.New("session func is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if durable == "" {
		durable = "jobwatch-agent"
	}
	return &Feed{
		sub:        sub,
		subject:    subject,
		durable:    durable,
		newSession: newSession,
		logger:     logger,
		sessions:   make(map[string]Session),
	}, nil
}

// Run consumes until ctx is cancelled, then closes every open session.
func (f *Feed) Run(ctx context.Context) error {
	closer, err := f.sub.Subscribe(ctx, f.subject, f.durable, f.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.subject, err)
	}

	f.logger.Info().Str("subject", f.subject).Str("durable", f.durable).Msg("consuming engine events")
	<-ctx.Done()
	_ = closer.Close()

	f.mu.Lock()
	f.stopped = true
	open := f.sessions
	f.sessions = make(map[string]Session)
	f.mu.Unlock()
	for source, s := range open {
		f.logger.Debug().Str("source", source).Msg("closing session on shutdown")
		s.Close()
	}
	f.closing.Wait()
	return nil
}

// Active returns the number of sources with an open session.
func (f *Feed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *Feed) session(source string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, errFeedStopped
	}
	if s, ok := f.sessions[source]; ok {
		return s, nil
	}
	s, err := f.newSession(source)
	if err != nil {
		return nil, err
	}
	f.sessions[source] = s
	return s, nil
}

// release forgets source and closes its session in the background, so the consumer is
// not held up while the final reports are sent.
func (f *Feed) release(source string, s Session) {
	f.mu.Lock()
	if f.stopped {
		// Run owns the session now and closes it.
		f.mu.Unlock()
		return
	}
	if f.sessions[source] == s {
		delete(f.sessions, source)
	}
	f.closing.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.closing.Done()
		s.Close()
	}()
}

func (f *Feed) handle(_ context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Warn().Err(err).Msg("discarding undecodable event")
		return bus.ErrPoison
	}

	s, err := f.session(ev.Source)
	if err != nil {
		if !errors.Is(err, errFeedStopped) {
			f.logger.Error().Err(err).Str("source", ev.Source).Msg("open session")
		}
		return err
	}
	if err := ev.Deliver(s); err != nil {
		f.logger.Warn().Err(err).Str("source", ev.Source).Msg("discarding event")
		return bus.ErrPoison
	}
	if ev.Type == TypeApplicationEnd {
		f.release(ev.Source, s)
	}
	return nil
}

// Publisher is the subset of the bus an Emitter publishes through.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Emitter is a listener that forwards every callback onto the bus, so that an agent in
// another process can correlate them.
type Emitter struct {
	pub     Publisher
	subject string
	source  string
	ctx     context.Context
	logger  zerolog.Logger
}

var _ agent.Listener = (*Emitter)(nil)

// NewEmitter returns an Emitter publishing to subject. Each Emitter stamps its events with
// a fresh source id.
func NewEmitter(ctx context.Context, pub Publisher, subject string, logger zerolog.Logger) (*Emitter, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Emitter{pub: pub, subject: subject, source: uuid.NewString(), ctx: ctx, logger: logger}, nil
}

// Source returns the id stamped on every event this Emitter publishes.
func (e *Emitter) Source() string { return e.source }

func (e *Emitter) emit(ev Event) {
	ev.Source = e.source
	if err := e.pub.Publish(e.ctx, e.subject, ev); err != nil {
		e.logger.Warn().Err(err).Str("type", ev.Type).Int("job_id", ev.JobID).Msg("publish engine event")
	}
}

func (e *Emitter) OnApplicationStart(ev agent.ApplicationStart) {
	e.emit(Event{Type: TypeApplicationStart, AppName: ev.AppName, AppID: ev.AppID})
}

func (e *Emitter) OnApplicationEnd(agent.ApplicationEnd) {
	e.emit(Event{Type: TypeApplicationEnd})
}

func (e *Emitter) OnJobStart(ev agent.JobStart) {
	e.emit(Event{Type: TypeJobStart, JobID: ev.JobID, Properties: ev.Properties})
}

func (e *Emitter) OnJobEnd(ev agent.JobEnd) {
	result := ev.Result
	e.emit(Event{Type: TypeJobEnd, JobID: ev.JobID, Result: &result})
}
