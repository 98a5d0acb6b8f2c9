// Package broadcast implements the Subscriber side of spec.md §4.4: a
// bounded-queue handle that the session's Append path delivers into
// without blocking, and that the SSE gateway drains.
//
// Grounded on tarsy's events.ConnectionManager.Broadcast (snapshot the
// subscriber set under the lock, release the lock, then send), generalized
// from a WebSocket-connection-keyed fan-out to the generic bounded-queue
// subscriber spec.md describes.
package broadcast

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/argus-sre/argus/internal/session"
)

// DefaultQueueCapacity is SUBSCRIBER_QUEUE_CAP's default (spec.md §6).
const DefaultQueueCapacity = 256

// sentinelKind marks the two synthetic messages the broadcaster delivers
// that are never part of a session's real history (spec.md §4.4).
type sentinelKind int

const (
	sentinelNone sentinelKind = iota
	sentinelTerminal
	sentinelDropped
)

// Envelope is what the SSE gateway receives from a Subscriber's channel:
// either a real event or one of the two sentinels.
type Envelope struct {
	Event    session.Event
	Sentinel sentinelKind
}

// IsTerminal reports whether this envelope is the TERMINAL sentinel.
func (e Envelope) IsTerminal() bool { return e.Sentinel == sentinelTerminal }

// IsDropped reports whether this envelope is the DROPPED_FOR_SLOWNESS
// sentinel.
func (e Envelope) IsDropped() bool { return e.Sentinel == sentinelDropped }

// Subscriber is a bounded-queue handle satisfying session.Subscriber. The
// underlying channel is sized capacity+1: real events are only ever
// admitted up to capacity, reserving the last slot for the terminal or
// DROPPED_FOR_SLOWNESS sentinel Close delivers, so eviction (which only
// happens once the queue is already full of real events) can never lose
// its own sentinel to a full buffer.
type Subscriber struct {
	id       string
	ch       chan Envelope
	capacity int
	closeMu  sync.Mutex
	closed   bool
}

// New creates a Subscriber with the given queue capacity (0 means
// DefaultQueueCapacity).
func New(capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Subscriber{
		id:       ulid.Make().String(),
		ch:       make(chan Envelope, capacity+1),
		capacity: capacity,
	}
}

// ID implements session.Subscriber.
func (s *Subscriber) ID() string { return s.id }

// TryDeliver implements session.Subscriber: a non-blocking enqueue. The
// caller (session.Record.Append) treats a false return as "evict me". Real
// events stop being admitted once the queue holds `capacity` of them, even
// though the channel itself can hold one more — that reserved slot is for
// Close's sentinel alone.
func (s *Subscriber) TryDeliver(ev session.Event) bool {
	if len(s.ch) >= s.capacity {
		return false
	}
	select {
	case s.ch <- Envelope{Event: ev}:
		return true
	default:
		return false
	}
}

// Close implements session.Subscriber: delivers the appropriate sentinel
// and marks the channel closed. Idempotent: closeMu and the closed flag
// make only the first call deliver a sentinel and close the channel; any
// later call (from CloseAll on terminal status or from eviction in Append)
// is a no-op.
func (s *Subscriber) Close(reason session.CloseReason) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	kind := sentinelTerminal
	if reason == session.CloseEvicted {
		kind = sentinelDropped
	}
	// The reserved slot (see Subscriber doc comment) guarantees this send
	// never blocks and never loses the sentinel, even when eviction found
	// the queue already full of undelivered real events.
	s.ch <- Envelope{Sentinel: kind}
	close(s.ch)
}

// Recv returns the channel the SSE gateway ranges over.
func (s *Subscriber) Recv() <-chan Envelope {
	return s.ch
}
