// Package posemux fans a single pose source out to several independent
// subscribers. Each subscriber has its own buffer. By default a full buffer
// drops the frame for that subscriber only, so a slow consumer never holds
// back the producer or any other consumer. A lossless subscriber instead
// makes the producer wait for buffer space, so it sees every frame. Frames
// reach every subscriber in producer order.
package posemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/repcount/internal/pose"
)

var (
	// ErrSourceEnded is returned by Monitor when the source reports io.EOF.
	ErrSourceEnded = errors.New("pose source ended")
	// ErrClosed is returned by Monitor when the mux was closed before or
	// during monitoring.
	ErrClosed = errors.New("pose mux closed")
)

const defaultBuffer = 1

type subscriber struct {
	id       string
	name     string
	ch       chan pose.Frame
	lossless bool
	sent     atomic.Uint64
	dropped  atomic.Uint64

	// Lossless delivery happens outside subscriberMu. sendMu orders a
	// blocked send against the close of ch, and done releases that send.
	sendMu   sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// stop closes ch once no send can be in flight.
func (s *subscriber) stop() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// deliver blocks until the frame is queued, the subscriber is stopped or
// ctx ends. It reports false only when ctx ended.
func (s *subscriber) deliver(ctx context.Context, frame pose.Frame) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- frame:
		s.sent.Add(1)
		return true
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubscriberStats reports delivery counters for one subscriber.
type SubscriberStats struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Buffer   int    `json:"buffer"`
	Lossless bool   `json:"lossless,omitempty"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscriber)

// WithBuffer sets how many frames may queue for the subscriber before new
// frames are dropped for it.
func WithBuffer(n int) SubscribeOption {
	return func(s *subscriber) {
		if n < 0 {
			n = 0
		}
		s.ch = make(chan pose.Frame, n)
	}
}

// WithLossless makes the producer wait for room in the subscriber's buffer
// rather than drop frames. Every other subscriber still receives frames
// without waiting, but a stalled lossless subscriber stalls the source.
func WithLossless() SubscribeOption {
	return func(s *subscriber) { s.lossless = true }
}

// WithName labels the subscriber in stats and logs.
func WithName(name string) SubscribeOption {
	return func(s *subscriber) { s.name = name }
}

// PoseMux broadcasts frames from one Source to many subscribers.
type PoseMux struct {
	src          pose.Source
	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex
	closed       bool

	published   atomic.Uint64
	lastFrameID atomic.Int64
}

// New creates a PoseMux reading from src. Monitor must be called to start
// the flow of frames.
func New(src pose.Source) *PoseMux {
	return &PoseMux{
		src:         src,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a new consumer and returns its id and receive channel.
// The channel is closed when the subscriber is removed or the stream ends.
// Subscribing to a closed mux returns an already-closed channel.
func (m *PoseMux) Subscribe(opts ...SubscribeOption) (string, <-chan pose.Frame) {
	s := &subscriber{id: uuid.NewString(), done: make(chan struct{})}
	WithBuffer(defaultBuffer)(s)
	for _, opt := range opts {
		opt(s)
	}

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closed {
		s.stop()
		return s.id, s.ch
	}
	m.subscribers[s.id] = s
	return s.id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *PoseMux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if s, ok := m.subscribers[id]; ok {
		delete(m.subscribers, id)
		s.stop()
	}
}

// Monitor pulls frames from the source and distributes them until the
// context is cancelled, the mux is closed or the source fails. On return every
// subscriber channel has been closed so consumers observe end-of-stream.
//
// The returned error is ctx.Err() on cancellation, ErrSourceEnded when the
// source is exhausted, ErrClosed after Close, or the wrapped source error.
func (m *PoseMux) Monitor(ctx context.Context) error {
	defer m.closeSubscribers()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := m.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return ErrSourceEnded
			case ctx.Err() != nil:
				return ctx.Err()
			case m.isClosed():
				return ErrClosed
			default:
				return fmt.Errorf("pose source: %w", err)
			}
		}

		if err := m.publish(ctx, frame); err != nil {
			return err
		}
	}
}

// publish hands the frame to every lossy subscriber without blocking, then
// waits on each lossless subscriber in turn. It fails with ErrClosed once the
// mux has been closed and with ctx.Err() if ctx ends while waiting.
func (m *PoseMux) publish(ctx context.Context, frame pose.Frame) error {
	m.subscriberMu.Lock()
	if m.closed {
		m.subscriberMu.Unlock()
		return ErrClosed
	}

	m.published.Add(1)
	m.lastFrameID.Store(frame.ID)
	var lossless []*subscriber
	for _, s := range m.subscribers {
		if s.lossless {
			lossless = append(lossless, s)
			continue
		}
		select {
		case s.ch <- frame:
			s.sent.Add(1)
		default:
			// subscriber is behind; skip so as not to block the producer
			s.dropped.Add(1)
		}
	}
	m.subscriberMu.Unlock()

	for _, s := range lossless {
		if !s.deliver(ctx, frame) {
			return ctx.Err()
		}
	}
	return nil
}

func (m *PoseMux) isClosed() bool {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return m.closed
}

func (m *PoseMux) closeSubscribers() {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closed = true
	for id, s := range m.subscribers {
		delete(m.subscribers, id)
		s.stop()
	}
}

// Close stops distribution, closes all subscriber channels and closes the
// underlying source.
func (m *PoseMux) Close() error {
	m.closeSubscribers()
	return m.src.Close()
}

// Published returns the number of frames distributed so far.
func (m *PoseMux) Published() uint64 {
	return m.published.Load()
}

// LastFrameID returns the identifier of the most recently distributed frame.
func (m *PoseMux) LastFrameID() int64 {
	return m.lastFrameID.Load()
}

// Stats returns delivery counters for every current subscriber, ordered by
// name then id.
func (m *PoseMux) Stats() []SubscriberStats {
	m.subscriberMu.Lock()
	out := make([]SubscriberStats, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		out = append(out, SubscriberStats{
			ID:       s.id,
			Name:     s.name,
			Buffer:   cap(s.ch),
			Lossless: s.lossless,
			Sent:     s.sent.Load(),
			Dropped:  s.dropped.Load(),
		})
	}
	m.subscriberMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
