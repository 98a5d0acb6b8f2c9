// Package fake provides a deterministic, in-process agentsdk.Runtime for
// tests — no network, no real orchestrator framework.
//
// Grounded on tarsy's queue.StubExecutor (a no-op Executor returning a
// canned completed result) generalized into a scriptable callback sequence
// so engine and worker tests can exercise step_start/step_complete/retry/
// error/cancellation without a real agent runtime.
package fake

import (
	"context"

	"github.com/argus-sre/argus/internal/agentsdk"
)

// Step describes one orchestrator step the fake runtime will emit as a
// run_step_start/run_step_complete callback pair, with Query (if set)
// delivered as a message_delta callback between the two.
type Step struct {
	AgentName string
	Query     string
	Response  string

	// Err, if set, is delivered as an error callback instead of a
	// run_step_complete, carrying Recoverable as given. Either way Run then
	// returns Err immediately without running the remaining steps; only a
	// non-recoverable error also delivers a failed run_state_change first.
	Err         error
	Recoverable bool
}

// Runtime is a scripted agentsdk.Runtime. Each call to Run replays Steps in
// order and returns the thread ID in RunResult.ThreadID: req.ThreadID when
// set, otherwise a freshly assigned one (the first Run call for a session
// receives an empty req.ThreadID). No callback carries the thread ID.
type Runtime struct {
	Steps []Step

	// FinalMessage is returned as RunResult.FinalMessage and delivered via
	// a trailing message_create callback once every step completes
	// without a fatal error.
	FinalMessage string

	// ThreadIDFunc lets a test control the generated thread ID; nil uses a
	// fixed "fake-thread-1" so assertions don't need to capture it.
	ThreadIDFunc func() string
}

func (r *Runtime) Run(ctx context.Context, req agentsdk.RunRequest, cb agentsdk.CallbackFunc) (agentsdk.RunResult, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = r.threadID()
	}

	step := req.StartStep
	if step <= 0 {
		step = 1
	}

	for _, s := range r.Steps {
		if err := ctx.Err(); err != nil {
			return agentsdk.RunResult{ThreadID: threadID, FinalState: agentsdk.RunStateFailed}, err
		}

		cb(agentsdk.Callback{Kind: agentsdk.CallbackRunStepStart, Step: step, AgentName: s.AgentName})

		if s.Query != "" {
			cb(agentsdk.Callback{Kind: agentsdk.CallbackMessageDelta, Text: s.Query})
		}

		if s.Err != nil {
			cb(agentsdk.Callback{Kind: agentsdk.CallbackError, Err: s.Err, Recoverable: s.Recoverable})
			if !s.Recoverable {
				cb(agentsdk.Callback{Kind: agentsdk.CallbackRunStateChange, State: agentsdk.RunStateFailed})
				return agentsdk.RunResult{ThreadID: threadID, FinalState: agentsdk.RunStateFailed, StepsExecuted: step}, s.Err
			}
			// Recoverable: caller (worker) is expected to retry the whole
			// Run call, so this fake aborts the current attempt here too —
			// it does not resume mid-script on its own.
			return agentsdk.RunResult{ThreadID: threadID, FinalState: agentsdk.RunStateFailed, StepsExecuted: step}, s.Err
		}

		cb(agentsdk.Callback{Kind: agentsdk.CallbackRunStepComplete, Step: step, AgentName: s.AgentName, Text: s.Response})
		step++
	}

	if r.FinalMessage != "" {
		cb(agentsdk.Callback{Kind: agentsdk.CallbackMessageCreate, Text: r.FinalMessage})
	}
	cb(agentsdk.Callback{Kind: agentsdk.CallbackRunStateChange, State: agentsdk.RunStateCompleted})

	return agentsdk.RunResult{
		ThreadID:      threadID,
		FinalState:    agentsdk.RunStateCompleted,
		FinalMessage:  r.FinalMessage,
		StepsExecuted: step - 1,
	}, nil
}

func (r *Runtime) threadID() string {
	if r.ThreadIDFunc != nil {
		return r.ThreadIDFunc()
	}
	return "fake-thread-1"
}

// AwaitingInputRuntime is a Runtime variant that delivers a single
// awaiting_input state change instead of completing, so worker tests can
// exercise the running<->awaiting_input loop (spec.md §3).
type AwaitingInputRuntime struct {
	Runtime
	Resumed bool
}

func (r *AwaitingInputRuntime) Run(ctx context.Context, req agentsdk.RunRequest, cb agentsdk.CallbackFunc) (agentsdk.RunResult, error) {
	if req.ThreadID != "" && r.Resumed {
		return r.Runtime.Run(ctx, req, cb)
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = r.threadID()
	}
	cb(agentsdk.Callback{Kind: agentsdk.CallbackRunStateChange, State: agentsdk.RunStateAwaitingInput})
	r.Resumed = true
	return agentsdk.RunResult{ThreadID: threadID, FinalState: agentsdk.RunStateAwaitingInput}, nil
}
