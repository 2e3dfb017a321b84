// Package events implements the Event Stream (§4.7): per-user,
// per-session, and global bounded subscription queues with
// drop-newest-on-overflow delivery and an iterator-with-Close consumer
// lifecycle.
//
// Grounded on memory_event_stream.py's MemoryEventStream: the same three
// subscription scopes (per-user, per-session, global), the same
// queue-full-logs-and-drops behavior (Python's asyncio.QueueFull handler),
// and the same generator-with-finally cleanup, mapped onto a Go channel +
// explicit Close rather than an async generator.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/juyoung-min/memory-agent/pkg/memerr"
	"github.com/juyoung-min/memory-agent/pkg/memtype"
)

// DefaultQueueSize mirrors memory_event_stream.py's queue_size=100 default.
const DefaultQueueSize = 100

// Subscription is one consumer's event feed. Next blocks until an event
// arrives, ctx is cancelled, or Close is called; Close is idempotent and
// safe to call from any goroutine.
type Subscription struct {
	ch          chan memtype.Event
	unsubscribe func()
	closed      atomic.Bool
}

// Next returns the next delivered event, or ok=false once the subscription
// is closed or ctx is done.
func (s *Subscription) Next(ctx context.Context) (memtype.Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return memtype.Event{}, false
	}
}

// Close unsubscribes and releases the underlying channel.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.unsubscribe()
	}
}

// Stats reports streaming statistics (memory_event_stream.py's
// get_stats).
type Stats struct {
	UserSubscriptions    int
	SessionSubscriptions int
	GlobalSubscriptions  int
	TotalQueues          int
	TotalOverflows       int64
}

// Stream fans memtype.Event out to user, session, and global subscribers.
type Stream struct {
	mu        sync.Mutex
	byUser    map[string]map[*Subscription]struct{}
	bySession map[string]map[*Subscription]struct{}
	global    map[*Subscription]struct{}
	queueSize int
	overflows atomic.Int64
	log       *zap.Logger
}

// New builds a Stream whose per-subscriber queues hold queueSize events
// before newly emitted events are dropped.
func New(queueSize int, log *zap.Logger) *Stream {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		byUser:    make(map[string]map[*Subscription]struct{}),
		bySession: make(map[string]map[*Subscription]struct{}),
		global:    make(map[*Subscription]struct{}),
		queueSize: queueSize,
		log:       log,
	}
}

// SubscribeUser opens a feed scoped to userID.
func (s *Stream) SubscribeUser(userID string) *Subscription {
	sub := s.newSubscription()
	s.mu.Lock()
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[*Subscription]struct{})
	}
	s.byUser[userID][sub] = struct{}{}
	s.mu.Unlock()

	sub.unsubscribe = func() {
		s.mu.Lock()
		delete(s.byUser[userID], sub)
		if len(s.byUser[userID]) == 0 {
			delete(s.byUser, userID)
		}
		s.mu.Unlock()
	}
	return sub
}

// SubscribeSession opens a feed scoped to sessionID.
func (s *Stream) SubscribeSession(sessionID string) *Subscription {
	sub := s.newSubscription()
	s.mu.Lock()
	if s.bySession[sessionID] == nil {
		s.bySession[sessionID] = make(map[*Subscription]struct{})
	}
	s.bySession[sessionID][sub] = struct{}{}
	s.mu.Unlock()

	sub.unsubscribe = func() {
		s.mu.Lock()
		delete(s.bySession[sessionID], sub)
		if len(s.bySession[sessionID]) == 0 {
			delete(s.bySession, sessionID)
		}
		s.mu.Unlock()
	}
	return sub
}

// SubscribeAll opens a feed receiving every event regardless of scope.
func (s *Stream) SubscribeAll() *Subscription {
	sub := s.newSubscription()
	s.mu.Lock()
	s.global[sub] = struct{}{}
	s.mu.Unlock()

	sub.unsubscribe = func() {
		s.mu.Lock()
		delete(s.global, sub)
		s.mu.Unlock()
	}
	return sub
}

func (s *Stream) newSubscription() *Subscription {
	return &Subscription{ch: make(chan memtype.Event, s.queueSize)}
}

// Emit delivers event to every matching subscriber. Delivery is
// non-blocking per subscriber: a full queue drops the new event and
// increments the overflow counter, rather than blocking the emitter
// (memory_event_stream.py's asyncio.QueueFull handler, here applied
// eagerly instead of only after the blocking put times out).
func (s *Stream) Emit(event memtype.Event) {
	s.mu.Lock()
	var targets []*Subscription
	for sub := range s.byUser[event.UserID] {
		targets = append(targets, sub)
	}
	if event.SessionID != "" {
		for sub := range s.bySession[event.SessionID] {
			targets = append(targets, sub)
		}
	}
	for sub := range s.global {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		default:
			s.overflows.Add(1)
			s.log.Warn("subscription queue full, dropping event",
				zap.String("user_id", event.UserID),
				zap.String("event_type", string(event.EventType)))
		}
	}
}

// EmitOrError is Emit plus a SubscriptionOverflow report: it calls Emit and
// returns a memerr.Error if the global overflow counter advanced during the
// call, for callers that want overflow surfaced at a tool boundary rather
// than only logged.
func (s *Stream) EmitOrError(event memtype.Event) error {
	before := s.overflows.Load()
	s.Emit(event)
	if s.overflows.Load() > before {
		return memerr.New(memerr.KindSubscriptionOverflow, "one or more subscriber queues were full")
	}
	return nil
}

// GetStats reports current subscription counts (memory_event_stream.py's
// get_stats).
func (s *Stream) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.global)
	for _, subs := range s.byUser {
		total += len(subs)
	}
	for _, subs := range s.bySession {
		total += len(subs)
	}

	return Stats{
		UserSubscriptions:    len(s.byUser),
		SessionSubscriptions: len(s.bySession),
		GlobalSubscriptions:  len(s.global),
		TotalQueues:          total,
		TotalOverflows:       s.overflows.Load(),
	}
}
