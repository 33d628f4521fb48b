// Package bus carries engine events over NATS JetStream.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrPoison marks a message the handler can never process. It is terminated instead of
// redelivered.
var ErrPoison = errors.New("poison message")

var errNoBus = errors.New("bus is not connected")

const (
	// eventRetention bounds how long undelivered engine events are kept.
	eventRetention = 72 * time.Hour

	// maxDeliver caps redeliveries of a nacked event.
	maxDeliver = 20
	ackWait    = 30 * time.Second
)

// Bus is a JetStream connection shared by emitters and feeds.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	once sync.Once
}

// New connects to url and opens its JetStream context.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Bus{conn: nc, js: js}, nil
}

// Close drains the connection. Safe to call more than once.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.once.Do(func() {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	})
}

func (b *Bus) ready() error {
	if b == nil || b.js == nil {
		return errNoBus
	}
	return nil
}

// EnsureStream makes sure the named stream exists and captures every subject given.
// An existing stream missing some of them is widened rather than recreated.
func (b *Bus) EnsureStream(name string, subjects ...string) error {
	if name == "" || len(subjects) == 0 {
		return errors.New("stream name and subjects are required")
	}
	if err := b.ready(); err != nil {
		return err
	}

	info, err := b.js.StreamInfo(name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = b.js.AddStream(streamConfig(name, subjects))
		return err
	case err != nil:
		return err
	}

	missing := missingSubjects(info.Config.Subjects, subjects)
	if len(missing) == 0 {
		return nil
	}
	cfg := info.Config
	cfg.Subjects = append(slices.Clone(cfg.Subjects), missing...)
	_, err = b.js.UpdateStream(&cfg)
	return err
}

func streamConfig(name string, subjects []string) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   eventRetention,
	}
}

func missingSubjects(have, want []string) []string {
	var out []string
	for _, s := range want {
		if !slices.Contains(have, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Publish marshals v to JSON and publishes it on subj, waiting for the stream's ack.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if err := b.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subj, err)
	}
	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// Handler processes one message body.
type Handler func(ctx context.Context, data []byte) error

// settlement is what happens to a message once its handler returns.
type settlement int

const (
	settleAck settlement = iota
	settleNak
	settleTerm
)

func settle(err error) settlement {
	switch {
	case err == nil:
		return settleAck
	case errors.Is(err, ErrPoison):
		return settleTerm
	default:
		return settleNak
	}
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.err = s.sub.Drain() })
	return s.err
}

// Subscribe attaches the durable consumer to subj and runs fn for each message. A nil
// error acks, ErrPoison terminates and anything else naks for redelivery. The
// subscription drains when ctx ends or Close is called.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if err := b.ready(); err != nil {
		return nil, err
	}

	sub, err := b.js.Subscribe(subj, deliver(ctx, fn),
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	s := &subscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

func deliver(ctx context.Context, fn Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		switch settle(fn(ctx, msg.Data)) {
		case settleAck:
			_ = msg.Ack()
		case settleTerm:
			_ = msg.Term()
		default:
			_ = msg.Nak()
		}
	}
}
