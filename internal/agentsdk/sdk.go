// Package agentsdk declares the boundary between the engine and the
// orchestrator agent runtime (spec.md §4.3: "the concrete agent framework
// is out of scope; treat it as an opaque SDK exposing callbacks"). Nothing
// outside this package and internal/engine may know what runtime actually
// backs a Runtime value.
//
// Grounded on tarsy's llm.StreamChunk (Content/IsThinking/IsComplete/Error
// fields delivered incrementally over a channel) and the push-based
// result-delivery shape of orchestrator.SubAgentRunner, generalized from a
// single gRPC LLM stream into the fuller run-step/message/state-change
// callback surface spec.md §4.3 names.
package agentsdk

import "context"

// CallbackKind is the closed set of callbacks the runtime delivers during a
// Run (spec.md §4.3).
type CallbackKind string

const (
	CallbackRunStepStart    CallbackKind = "run_step_start"
	CallbackRunStepComplete CallbackKind = "run_step_complete"
	CallbackMessageDelta    CallbackKind = "message_delta"
	CallbackMessageCreate   CallbackKind = "message_create"
	CallbackRunStateChange  CallbackKind = "run_state_change"
	CallbackError           CallbackKind = "error"
)

// RunState mirrors the runtime's own notion of run state, which the
// translator maps onto the smaller public session.Status taxonomy.
type RunState string

const (
	RunStateInProgress    RunState = "in_progress"
	RunStateAwaitingInput RunState = "awaiting_input"
	RunStateCompleted     RunState = "completed"
	RunStateFailed        RunState = "failed"
)

// Callback is one notification from the runtime. Only the fields relevant
// to Kind are populated; the rest are zero values.
type Callback struct {
	Kind CallbackKind

	// run_step_start / run_step_complete
	Step      int
	AgentName string

	// message_delta / message_create: the raw text as the runtime produced
	// it, including any embedded reasoning block — engine.Translator is
	// responsible for extracting/stripping it, not this package.
	Text string

	// run_state_change
	State RunState

	// error
	Err         error
	Recoverable bool
}

// CallbackFunc receives each Callback in delivery order, synchronously: the
// runtime will not deliver the next callback until this returns.
type CallbackFunc func(Callback)

// RunRequest is what the worker hands the runtime to start or resume a run.
type RunRequest struct {
	// ThreadID is empty on the first call for a session and set on every
	// subsequent call (retries, resumes after awaiting_input).
	ThreadID string

	Scenario  string
	AlertText string

	// StartStep is the step counter to resume numbering from. The worker
	// resets this to 1 on every retry (spec.md §3: "retrying resets the
	// step counter").
	StartStep int

	// InputText is set when resuming a run that was awaiting_input; empty
	// on the initial call.
	InputText string
}

// RunResult is returned when Run returns; FinalState says whether the run
// completed, failed or is awaiting input.
type RunResult struct {
	ThreadID      string
	FinalState    RunState
	FinalMessage  string
	StepsExecuted int
	TokensUsed    *int64
}

// Runtime is the opaque agent-runtime SDK boundary. A Runtime owns however
// many sub-agents a scenario configures; the engine only ever talks to the
// orchestrator agent through this interface.
type Runtime interface {
	// Run drives one attempt end to end, invoking cb synchronously for
	// every callback, and returns once the run completes, fails, reaches
	// awaiting_input (the worker then resumes it with a further Run call),
	// or ctx is cancelled. A cancelled ctx must cause Run
	// to return promptly with ctx.Err() (spec.md §3: cancellation is
	// responsive, not eventual).
	Run(ctx context.Context, req RunRequest, cb CallbackFunc) (RunResult, error)
}
