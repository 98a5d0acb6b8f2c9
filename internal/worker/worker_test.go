package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/agentsdk/fake"
	"github.com/argus-sre/argus/internal/persistence/memory"
	"github.com/argus-sre/argus/internal/session"
	"github.com/argus-sre/argus/internal/sessionstore"
)

func testConfig() Config {
	return Config{MaxRetries: 2, RunTimeout: 2 * time.Second, QueryChars: 1000, ResponseChars: 1000}
}

func waitForTerminal(t *testing.T, rec *session.Record) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if rec.Status().Terminal() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session did not reach a terminal status in time (status=%s)", rec.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorkerRunsToCompletion(t *testing.T) {
	store := sessionstore.New(memory.New(), 0)
	rec, err := store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	runtime := &fake.Runtime{
		Steps:        []fake.Step{{AgentName: "orchestrator", Query: "checking pod", Response: "restarted pod"}},
		FinalMessage: "the pod is healthy again",
	}

	w := New(rec, runtime, store, testConfig())
	w.Start(context.Background())

	waitForTerminal(t, rec)
	assert.Equal(t, session.StatusCompleted, rec.Status())
	assert.Equal(t, "the pod is healthy again", rec.FinalMessage())

	_, stillLive := store.GetLive(rec.ID)
	assert.False(t, stillLive, "terminal session must be retired out of the live index")
}

func TestWorkerCancellationStopsRunPromptly(t *testing.T) {
	store := sessionstore.New(memory.New(), 0)
	rec, err := store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	blockCh := make(chan struct{})
	runtime := blockingRuntime{unblock: blockCh}

	w := New(rec, runtime, store, testConfig())
	w.Start(context.Background())

	// Give the worker a moment to enter Run, then cancel.
	time.Sleep(20 * time.Millisecond)
	rec.Cancel()
	close(blockCh)

	waitForTerminal(t, rec)
	assert.Equal(t, session.StatusCancelled, rec.Status())

	history := rec.FullHistory()
	var errEv *session.Event
	for i, ev := range history {
		if ev.Kind == session.KindError {
			errEv = &history[i]
		}
		assert.NotEqual(t, session.KindRunComplete, ev.Kind, "cancellation must not emit run_complete")
	}
	require.NotNil(t, errEv, "cancellation must emit a terminal error event")
	assert.Equal(t, "cancelled", errEv.Payload["message"])
	assert.Equal(t, false, errEv.Payload["recoverable"])
}

func TestWorkerRetriesRecoverableErrorThenSucceeds(t *testing.T) {
	store := sessionstore.New(memory.New(), 0)
	rec, err := store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	runtime := &flakyRuntime{failures: 1}
	w := New(rec, runtime, store, testConfig())
	w.Start(context.Background())

	waitForTerminal(t, rec)
	assert.Equal(t, session.StatusCompleted, rec.Status())

	var retries int
	for _, ev := range rec.FullHistory() {
		if ev.Kind == session.KindRetry {
			retries++
		}
	}
	assert.Equal(t, 1, retries, "exactly one retry event for one recoverable failure")
}

func TestWorkerResumesAfterAwaitingInput(t *testing.T) {
	store := sessionstore.New(memory.New(), 0)
	rec, err := store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	runtime := &fake.AwaitingInputRuntime{
		Runtime: fake.Runtime{
			Steps:        []fake.Step{{AgentName: "orchestrator", Query: "need confirmation", Response: "restarted pod"}},
			FinalMessage: "resolved after confirmation",
		},
	}

	w := New(rec, runtime, store, testConfig())
	w.Start(context.Background())

	deadline := time.After(time.Second)
	for rec.Status() != session.StatusAwaitingInput {
		select {
		case <-deadline:
			t.Fatalf("session never reached awaiting_input (status=%s)", rec.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}

	require.True(t, rec.SubmitInput("yes, proceed"))

	waitForTerminal(t, rec)
	assert.Equal(t, session.StatusCompleted, rec.Status())
	assert.Equal(t, "resolved after confirmation", rec.FinalMessage())
	assert.True(t, runtime.Resumed)
}

func TestWorkerFatalErrorFailsWithoutRetry(t *testing.T) {
	store := sessionstore.New(memory.New(), 0)
	rec, err := store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	runtime := &fake.Runtime{
		Steps: []fake.Step{{AgentName: "orchestrator", Err: errors.New("invalid protocol frame"), Recoverable: false}},
	}
	w := New(rec, runtime, store, testConfig())
	w.Start(context.Background())

	waitForTerminal(t, rec)
	assert.Equal(t, session.StatusFailed, rec.Status())

	var retries int
	for _, ev := range rec.FullHistory() {
		if ev.Kind == session.KindRetry {
			retries++
		}
	}
	assert.Zero(t, retries, "fatal errors must not be retried")
}

// blockingRuntime blocks on Run until ctx is cancelled or unblock closes.
type blockingRuntime struct {
	unblock chan struct{}
}

func (r blockingRuntime) Run(ctx context.Context, req agentsdk.RunRequest, cb agentsdk.CallbackFunc) (agentsdk.RunResult, error) {
	select {
	case <-ctx.Done():
		return agentsdk.RunResult{}, ctx.Err()
	case <-r.unblock:
		return agentsdk.RunResult{}, context.Canceled
	}
}

// flakyRuntime fails its first `failures` calls with a recoverable error,
// then delegates to an embedded completing fake.Runtime.
type flakyRuntime struct {
	failures int
	calls    int
}

type recoverableErr struct{ error }

func (e recoverableErr) Recoverable() bool { return true }

func (r *flakyRuntime) Run(ctx context.Context, req agentsdk.RunRequest, cb agentsdk.CallbackFunc) (agentsdk.RunResult, error) {
	r.calls++
	if r.calls <= r.failures {
		return agentsdk.RunResult{FinalState: agentsdk.RunStateFailed}, recoverableErr{errors.New("connection reset")}
	}
	ok := &fake.Runtime{
		Steps:        []fake.Step{{AgentName: "orchestrator", Query: "checking pod", Response: "restarted pod"}},
		FinalMessage: "healthy again",
	}
	return ok.Run(ctx, req, cb)
}
