package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id       string
	received []Event
	capacity int
	closedAs CloseReason
	closed   bool
}

func newFakeSub(id string, capacity int) *fakeSub {
	return &fakeSub{id: id, capacity: capacity}
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) TryDeliver(ev Event) bool {
	if f.capacity > 0 && len(f.received) >= f.capacity {
		return false
	}
	f.received = append(f.received, ev)
	return true
}

func (f *fakeSub) Close(reason CloseReason) {
	f.closed = true
	f.closedAs = reason
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)

	ev1 := rec.Append(KindStepStart, StepStartPayload(1, "orchestrator"))
	ev2 := rec.Append(KindStepComplete, StepCompletePayload(1, "orchestrator", 10, "q", "", "r", false))

	assert.Equal(t, int64(1), ev1.Seq)
	assert.Equal(t, int64(2), ev2.Seq)
	assert.Equal(t, int64(2), rec.LastSeq())
}

func TestAddSubscriberReplaysHistory(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	rec.Append(KindStepStart, StepStartPayload(1, "orchestrator"))
	rec.Append(KindStepComplete, StepCompletePayload(1, "orchestrator", 10, "q", "", "r", false))

	sub := newFakeSub("sub-1", 0)
	replay, isLive := rec.AddSubscriber(sub, 0)

	require.True(t, isLive)
	require.Len(t, replay, 2)
	assert.Equal(t, KindStepStart, replay[0].Kind)
}

func TestAddSubscriberSinceSeqSkipsOlderEvents(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	ev1 := rec.Append(KindStepStart, StepStartPayload(1, "orchestrator"))
	rec.Append(KindStepComplete, StepCompletePayload(1, "orchestrator", 10, "q", "", "r", false))

	sub := newFakeSub("sub-1", 0)
	replay, _ := rec.AddSubscriber(sub, ev1.Seq)

	require.Len(t, replay, 1)
	assert.Equal(t, KindStepComplete, replay[0].Kind)
}

func TestAddSubscriberOnTerminalSessionIsNotLive(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	rec.Append(KindRunStart, RunStartPayload("pod down", ""))
	rec.SetStatus(StatusCompleted)

	sub := newFakeSub("sub-1", 0)
	replay, isLive := rec.AddSubscriber(sub, 0)

	assert.False(t, isLive)
	assert.Len(t, replay, 1)
}

func TestAppendEvictsSlowSubscriber(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	slow := newFakeSub("slow", 1)
	_, _ = rec.AddSubscriber(slow, 0)

	rec.Append(KindStepStart, StepStartPayload(1, "orchestrator"))
	rec.Append(KindStepStart, StepStartPayload(2, "orchestrator"))

	assert.True(t, slow.closed)
	assert.Equal(t, CloseEvicted, slow.closedAs)
	assert.Len(t, slow.received, 1, "evicted subscriber keeps only what fit before eviction")
}

func TestCloseAllMarksEverySubscriberTerminal(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	a := newFakeSub("a", 0)
	b := newFakeSub("b", 0)
	rec.AddSubscriber(a, 0)
	rec.AddSubscriber(b, 0)

	rec.CloseAll()

	assert.True(t, a.closed)
	assert.Equal(t, CloseTerminal, a.closedAs)
	assert.True(t, b.closed)
	assert.Equal(t, CloseTerminal, b.closedAs)
}

func TestMarkStartedOnlyTransitionsOnce(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	assert.True(t, rec.MarkStarted())
	assert.False(t, rec.MarkStarted())
}

func TestSubmitInputOnlyWhenAwaitingInput(t *testing.T) {
	rec := NewRecord("s1", "pod down", "k8s-crashloop", "orchestrator", nil)
	assert.False(t, rec.SubmitInput("go ahead"), "pending session should reject input")

	rec.SetStatus(StatusAwaitingInput)
	assert.True(t, rec.SubmitInput("go ahead"))
}

func TestFromPersistedRecomputesNextSeqFromHistory(t *testing.T) {
	history := []Event{
		{Seq: 1, Kind: KindRunStart},
		{Seq: 5, Kind: KindRunComplete},
	}
	now := time.Now()
	rec := FromPersisted("s1", "pod down", "k8s-crashloop", StatusCompleted, now, now, history, "done")
	assert.Equal(t, int64(5), rec.LastSeq())
}
