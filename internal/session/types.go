// Package session defines the Session and Event types shared by every
// other package in the engine: the session store, the worker, the event
// translator, the broadcaster and the SSE gateway all operate on these
// types without importing one another.
package session

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a session. Only the worker may mutate
// it, and only through the transitions in the comment on the constants
// below.
type Status string

// Session lifecycle states (spec.md §3).
//
//	pending -> running -> (awaiting_input <-> running)* -> {completed, failed, cancelled}
const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusAwaitingInput  Status = "awaiting_input"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether status is one from which no further events may
// be appended.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Kind is the closed set of event kinds in the public event taxonomy
// (spec.md §3).
type Kind string

const (
	KindRunStart       Kind = "run_start"
	KindThreadCreated  Kind = "thread_created"
	KindStepStart      Kind = "step_start"
	KindStepComplete   Kind = "step_complete"
	KindThinking       Kind = "thinking"
	KindMessageDelta   Kind = "message_delta"
	KindMessage        Kind = "message"
	KindRetry          Kind = "retry"
	KindRunComplete    Kind = "run_complete"
	KindError          Kind = "error"
	KindKeepalive      Kind = "keepalive"
)

// Event is one entry in a session's totally ordered history. Payload holds
// the kind-specific fields described in spec.md §3; it is a map rather than
// a Go union because it must round-trip through JSON for the SSE wire
// format and the persistence adapter without a custom (de)serializer per
// kind — see DESIGN.md for why this one concern stays off a third-party
// library.
type Event struct {
	Seq     int64          `json:"seq"`
	TS      int64          `json:"ts"`
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Payload constructors. Each mirrors a row of the spec.md §3 event table.

func RunStartPayload(alert, threadID string) map[string]any {
	return map[string]any{"alert": alert, "thread_id": threadID}
}

func ThreadCreatedPayload(threadID string) map[string]any {
	return map[string]any{"thread_id": threadID}
}

func StepStartPayload(step int, agentName string) map[string]any {
	return map[string]any{"step": step, "agent": agentName}
}

func StepCompletePayload(step int, agentName string, durationMS int64, query, reasoning, response string, isErr bool) map[string]any {
	return map[string]any{
		"step":        step,
		"agent":       agentName,
		"duration_ms": durationMS,
		"query":       query,
		"reasoning":   reasoning,
		"response":    response,
		"error":       isErr,
	}
}

func ThinkingPayload(text string) map[string]any {
	return map[string]any{"text": text}
}

func MessageDeltaPayload(text string) map[string]any {
	return map[string]any{"text": text}
}

func MessagePayload(text string) map[string]any {
	return map[string]any{"text": text}
}

func RetryPayload(attempt int, reason string) map[string]any {
	return map[string]any{"attempt": attempt, "reason": reason}
}

func RunCompletePayload(steps int, tokens *int64, durationMS int64) map[string]any {
	p := map[string]any{"steps": steps, "duration_ms": durationMS}
	if tokens != nil {
		p["tokens"] = *tokens
	}
	return p
}

func ErrorPayload(message string, recoverable bool) map[string]any {
	return map[string]any{"message": message, "recoverable": recoverable}
}

// Record is the full session record held by the store. It embeds the
// mutable, lock-guarded state described in spec.md §3 plus the handles
// (subscribers, worker, cancel) that are never persisted.
//
// Locking discipline (spec.md §5): mu guards history, status and the
// subscriber set. It is held only for the local mutation — never while
// enqueueing into a subscriber's queue, calling the agent SDK, or writing
// to an HTTP response.
type Record struct {
	ID                  string
	AlertText           string
	Scenario            string
	OrchestratorAgentID string
	SubAgentIDs         []string
	CreatedAt           time.Time

	mu         sync.RWMutex
	threadID   string
	status     Status
	updatedAt  time.Time
	history    []Event
	nextSeq    int64
	subs       map[string]Subscriber
	cancel     context.CancelFunc
	started    bool
	finalMsg   string
	inputCh    chan string
}

// Subscriber is the minimum interface the session needs from a broadcast
// subscriber: a non-blocking attempt to deliver one event, and a way to
// close it out on terminal/eviction. internal/broadcast implements this.
type Subscriber interface {
	ID() string
	// TryDeliver attempts a non-blocking enqueue. Returns false if the
	// subscriber's queue is full (the caller must then evict it).
	TryDeliver(Event) bool
	// Close delivers the sentinel matching reason (terminal or evicted)
	// and detaches the subscriber.
	Close(reason CloseReason)
}

// CloseReason distinguishes why a subscriber's stream ended.
type CloseReason int

const (
	CloseTerminal CloseReason = iota
	CloseEvicted
)

// NewRecord creates a fresh pending session record.
func NewRecord(id, alertText, scenario, orchestratorAgentID string, subAgentIDs []string) *Record {
	now := time.Now()
	return &Record{
		ID:                  id,
		AlertText:           alertText,
		Scenario:            scenario,
		OrchestratorAgentID: orchestratorAgentID,
		SubAgentIDs:         subAgentIDs,
		CreatedAt:           now,
		status:              StatusPending,
		updatedAt:           now,
		history:             make([]Event, 0, 16),
		subs:                make(map[string]Subscriber),
		inputCh:             make(chan string, 1),
	}
}

// Status returns the current status (thread-safe read).
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// UpdatedAt returns the last-mutation timestamp.
func (r *Record) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// ThreadID returns the lazily-assigned agent-runtime thread handle, or ""
// if the worker has not yet contacted the SDK.
func (r *Record) ThreadID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threadID
}

// FinalMessage returns the terminal diagnosis text, if any.
func (r *Record) FinalMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalMsg
}

// LastSeq returns the sequence number of the most recent event, or 0 if
// history is empty.
func (r *Record) LastSeq() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextSeq
}

// MarkStarted reports whether this call transitioned the session from
// not-started to started, for "launch the worker exactly once" semantics.
func (r *Record) MarkStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return false
	}
	r.started = true
	return true
}

// SetCancel stores the cancel function the worker derives its context
// from. Called once, before the worker enters its run loop.
func (r *Record) SetCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

// Cancel invokes the stored cancel function, if any. Safe to call multiple
// times or before a cancel function has been registered.
func (r *Record) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetThreadID records the agent-runtime thread handle the first time the
// SDK returns one for this session.
func (r *Record) SetThreadID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadID = id
}

// SetStatus performs a status transition. Only the worker should call
// this; callers elsewhere in the engine (e.g. the cancel HTTP handler)
// signal via Cancel and let the worker observe and transition itself.
func (r *Record) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
	r.updatedAt = time.Now()
}

// SetFinalMessage records the terminal diagnosis text.
func (r *Record) SetFinalMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalMsg = text
}

// Append adds an event to history under the lock, assigning the next
// sequence number and timestamp, then snapshots the subscriber set and
// delivers outside the lock (spec.md §4.4 / §5). A subscriber whose queue
// rejects the event is removed and closed with CloseEvicted. Returns the
// appended event.
func (r *Record) Append(kind Kind, payload map[string]any) Event {
	r.mu.Lock()
	r.nextSeq++
	ev := Event{
		Seq:     r.nextSeq,
		TS:      time.Now().UnixMilli(),
		Kind:    kind,
		Payload: payload,
	}
	r.history = append(r.history, ev)
	subs := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		if !sub.TryDeliver(ev) {
			r.removeSubscriber(sub.ID())
			sub.Close(CloseEvicted)
		}
	}
	return ev
}

// CloseAll closes every live subscriber with the terminal sentinel. Called
// once the worker has set a terminal status.
func (r *Record) CloseAll() {
	r.mu.Lock()
	subs := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]Subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close(CloseTerminal)
	}
}

// HistorySince returns a copy of every event with seq > fromSeq, in order.
func (r *Record) HistorySince(fromSeq int64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range r.history {
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out
}

// FullHistory returns a copy of the entire history, for persistence.
func (r *Record) FullHistory() []Event {
	return r.HistorySince(0)
}

// AddSubscriber registers sub and immediately replays any history the
// caller hasn't seen yet (caller passes fromSeq). Returns false if the
// session is already terminal and has no live subscriber set to join —
// the caller should instead serve the replay only, with no live tail.
func (r *Record) AddSubscriber(sub Subscriber, fromSeq int64) (replay []Event, isLive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replay = make([]Event, 0)
	for _, ev := range r.history {
		if ev.Seq > fromSeq {
			replay = append(replay, ev)
		}
	}
	if r.status.Terminal() {
		return replay, false
	}
	r.subs[sub.ID()] = sub
	return replay, true
}

// SubmitInput delivers user-supplied text to a session awaiting input
// (spec.md §3: the running<->awaiting_input loop). Returns false if the
// session is not currently awaiting input or already has an unconsumed
// input queued.
func (r *Record) SubmitInput(text string) bool {
	if r.Status() != StatusAwaitingInput {
		return false
	}
	select {
	case r.inputCh <- text:
		return true
	default:
		return false
	}
}

// AwaitInput blocks until a caller submits input via SubmitInput, or ctx is
// cancelled. Only the worker reads from this channel.
func (r *Record) AwaitInput(ctx context.Context) (string, error) {
	select {
	case text := <-r.inputCh:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// removeSubscriber detaches a subscriber without closing it (the caller
// closes it itself, outside the lock).
func (r *Record) removeSubscriber(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// RemoveSubscriber is the public form, used by the SSE gateway on client
// disconnect (spec.md §4.5: does not cancel the run).
func (r *Record) RemoveSubscriber(id string) {
	r.removeSubscriber(id)
}

// FromPersisted reconstructs a terminal, read-only record from a
// persistence adapter's stored fields (spec.md §4.6: Load returns a record
// in terminal status; the worker is never re-started from it).
func FromPersisted(id, alertText, scenario string, status Status, createdAt, updatedAt time.Time, history []Event, finalMsg string) *Record {
	var maxSeq int64
	for _, ev := range history {
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
	}
	return &Record{
		ID:        id,
		AlertText: alertText,
		Scenario:  scenario,
		CreatedAt: createdAt,
		status:    status,
		updatedAt: updatedAt,
		history:   history,
		nextSeq:   maxSeq,
		finalMsg:  finalMsg,
		subs:      make(map[string]Subscriber),
		inputCh:   make(chan string, 1),
		started:   true,
	}
}

// Snapshot captures enough state for a SessionSummary / GET response
// without exposing the live lock-guarded fields.
type Snapshot struct {
	ID        string
	AlertText string
	Scenario  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	LastSeq   int64
	ThreadID  string
	FinalMsg  string
}

// Snapshot returns a consistent point-in-time copy of the record's public
// fields.
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:        r.ID,
		AlertText: r.AlertText,
		Scenario:  r.Scenario,
		Status:    r.status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.updatedAt,
		LastSeq:   r.nextSeq,
		ThreadID:  r.threadID,
		FinalMsg:  r.finalMsg,
	}
}
