// Package engine implements the Event Translator (spec.md §4.3): it
// receives agentsdk.Callback values from a running agentsdk.Runtime and
// turns them into the session's public session.Event taxonomy, applying
// reasoning extraction, truncation and credential redaction on the way.
//
// Grounded on tarsy's orchestrator.collector.go, which performs the
// analogous job of turning per-iteration LLM/tool-call state into
// persisted timeline events; generalized here from tarsy's ent-backed
// TimelineEvent rows to spec.md's in-memory Event taxonomy.
package engine

import (
	"time"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/sanitize"
	"github.com/argus-sre/argus/internal/session"
)

// Limits bundles the configured truncation caps (spec.md §6:
// QUERY_TRUNCATE_CHARS / RESPONSE_TRUNCATE_CHARS).
type Limits struct {
	QueryChars    int
	ResponseChars int
}

// Translator holds the per-run state a stream of callbacks needs to be
// turned into complete step_complete events: the step's start time and
// accumulated query/response text, since the runtime may deliver several
// message_delta callbacks before a run_step_complete.
type Translator struct {
	rec    *session.Record
	limits Limits

	stepStart    time.Time
	currentStep  int
	currentAgent string
	queryBuf     string
	responseBuf  string

	// inStep is true between a run_step_start and its matching
	// run_step_complete (or a non-recoverable error that ends the step).
	// message_delta callbacks received while inStep is true are a step's
	// tool-call query/arguments text — internal bookkeeping that feeds
	// step_complete.query/reasoning, never a public event. Only delta text
	// streamed outside a step is the final diagnosis (session.KindMessageDelta).
	inStep bool
}

// New creates a Translator appending events to rec.
func New(rec *session.Record, limits Limits) *Translator {
	return &Translator{rec: rec, limits: limits}
}

// Callback satisfies agentsdk.CallbackFunc: feed it directly as the cb
// argument to Runtime.Run.
func (t *Translator) Callback(cb agentsdk.Callback) {
	switch cb.Kind {
	case agentsdk.CallbackRunStepStart:
		t.stepStart = time.Now()
		t.currentStep = cb.Step
		t.currentAgent = cb.AgentName
		t.queryBuf = ""
		t.responseBuf = ""
		t.inStep = true
		t.rec.Append(session.KindStepStart, session.StepStartPayload(cb.Step, cb.AgentName))

	case agentsdk.CallbackMessageDelta:
		if t.inStep {
			// A step's tool-call query/arguments text: bookkeeping for
			// step_complete only, never a public message_delta event.
			t.queryBuf += cb.Text
			if _, reasoning := sanitize.ExtractReasoning(t.queryBuf); reasoning != "" {
				t.rec.Append(session.KindThinking, session.ThinkingPayload(reasoning))
			}
			return
		}
		// Delta text streamed as part of the final diagnosis, outside any
		// step: published verbatim, untruncated.
		t.rec.Append(session.KindMessageDelta, session.MessageDeltaPayload(cb.Text))

	case agentsdk.CallbackRunStepComplete:
		t.responseBuf = cb.Text
		t.inStep = false
		duration := time.Since(t.stepStart).Milliseconds()
		clean, reasoning := sanitize.ExtractReasoning(t.queryBuf)
		response := sanitize.StripReasoning(t.responseBuf)
		t.rec.Append(session.KindStepComplete, session.StepCompletePayload(
			t.currentStep,
			t.currentAgent,
			duration,
			sanitize.Truncate(clean, t.limits.QueryChars),
			reasoning,
			sanitize.Truncate(response, t.limits.ResponseChars),
			false,
		))

	case agentsdk.CallbackMessageCreate:
		t.rec.Append(session.KindMessage, session.MessagePayload(sanitize.StripReasoning(cb.Text)))

	case agentsdk.CallbackRunStateChange:
		switch cb.State {
		case agentsdk.RunStateAwaitingInput:
			t.rec.SetStatus(session.StatusAwaitingInput)
		case agentsdk.RunStateInProgress:
			t.rec.SetStatus(session.StatusRunning)
		// Completed/Failed are handled by the worker once Run returns, not
		// here, because the worker also needs RunResult to build the
		// run_complete payload (step count, tokens, total duration).
		}

	case agentsdk.CallbackError:
		msg := sanitize.RedactError(cb.Err.Error())
		t.rec.Append(session.KindError, session.ErrorPayload(msg, cb.Recoverable))
		if !cb.Recoverable {
			t.inStep = false
			duration := time.Since(t.stepStart).Milliseconds()
			clean, reasoning := sanitize.ExtractReasoning(t.queryBuf)
			t.rec.Append(session.KindStepComplete, session.StepCompletePayload(
				t.currentStep, t.currentAgent, duration,
				sanitize.Truncate(clean, t.limits.QueryChars), reasoning, "", true,
			))
		}
	}
}
