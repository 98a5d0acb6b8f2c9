// Package worker implements the per-session Worker component (spec.md
// §4.2): exactly one worker goroutine per active session, driving the
// agentsdk.Runtime through retries, enforcing the wall-clock run timeout,
// and performing the single terminal status transition plus persistence
// flush.
//
// Grounded on tarsy's queue.Worker.pollAndProcess (session-timeout context,
// cancel registration, terminal-status update, "nil/timeout/cancel" result
// classification) and pkg/mcp/recovery.go's hand-rolled retry loop — here
// replaced with github.com/cenkalti/backoff/v4, which telnet2-opencode and
// dohr-michael-ozzie both depend on directly for the same purpose.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/engine"
	"github.com/argus-sre/argus/internal/sanitize"
	"github.com/argus-sre/argus/internal/session"
)

// Retirer is the subset of sessionstore.Store the worker needs: flush a
// terminal record through persistence and drop it from the live index.
type Retirer interface {
	Retire(ctx context.Context, id string) error
}

// Config holds the tunables spec.md §6 names.
type Config struct {
	MaxRetries    int
	RunTimeout    time.Duration
	QueryChars    int
	ResponseChars int
}

// Worker drives a single session's run to completion.
type Worker struct {
	rec     *session.Record
	runtime agentsdk.Runtime
	store   Retirer
	cfg     Config
	log     *slog.Logger
}

// New constructs a Worker for rec. The HTTP layer calls Start on the first
// subscriber's stream connection and on an explicit start request; Start
// launches the run only the first time for a given session.
func New(rec *session.Record, runtime agentsdk.Runtime, store Retirer, cfg Config) *Worker {
	return &Worker{
		rec:     rec,
		runtime: runtime,
		store:   store,
		cfg:     cfg,
		log:     slog.With("session_id", rec.ID),
	}
}

// Start launches the worker's run loop in a new goroutine and returns
// immediately. It is a no-op if the session has already been started
// (session.Record.MarkStarted guards this).
func (w *Worker) Start(ctx context.Context) {
	if !w.rec.MarkStarted() {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.rec.SetCancel(cancel)
	go w.run(runCtx)
}

func (w *Worker) run(ctx context.Context) {
	defer cancelQuietly(w.rec)

	w.rec.SetStatus(session.StatusRunning)
	w.rec.Append(session.KindRunStart, session.RunStartPayload(w.rec.AlertText, w.rec.ThreadID()))

	runTimeout := w.cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	runCtx, cancelTimeout := context.WithTimeout(ctx, runTimeout)
	defer cancelTimeout()

	var (
		result      *agentsdk.RunResult
		err         error
		resumeInput string
	)
	for {
		result, err = w.runWithRetry(runCtx, resumeInput)
		if err != nil || result == nil || result.FinalState != agentsdk.RunStateAwaitingInput {
			break
		}
		input, waitErr := w.rec.AwaitInput(runCtx)
		if waitErr != nil {
			err = waitErr
			break
		}
		resumeInput = input
		w.rec.SetStatus(session.StatusRunning)
	}

	finalStatus, finalMsg := classifyOutcome(runCtx, result, err)
	w.rec.SetFinalMessage(finalMsg)
	w.rec.SetStatus(finalStatus)

	// run_complete is a success-only marker (spec.md §3); every other
	// terminal status emits a terminal error event instead (spec.md §4.2
	// points 6/8, §6.3).
	switch finalStatus {
	case session.StatusCompleted:
		var tokens *int64
		steps := 0
		if result != nil {
			tokens = result.TokensUsed
			steps = result.StepsExecuted
		}
		duration := time.Since(w.rec.CreatedAt).Milliseconds()
		w.rec.Append(session.KindRunComplete, session.RunCompletePayload(steps, tokens, duration))
	default:
		w.rec.Append(session.KindError, session.ErrorPayload(finalMsg, false))
	}
	w.rec.CloseAll()

	if err := w.store.Retire(context.Background(), w.rec.ID); err != nil {
		w.log.Error("failed to retire terminal session", "error", err)
	}
}

// runWithRetry drives agentsdk.Runtime.Run, retrying recoverable failures
// up to cfg.MaxRetries times with exponential backoff. Every retry resets
// the step counter to 1 (spec.md §3) by starting req.StartStep at 1 again.
func (w *Worker) runWithRetry(ctx context.Context, resumeInput string) (*agentsdk.RunResult, error) {
	var (
		result   agentsdk.RunResult
		attempt  int
	)

	operation := func() error {
		attempt++
		if attempt > 1 {
			w.rec.Append(session.KindRetry, session.RetryPayload(attempt-1, "recoverable error, retrying"))
		}

		tr := engine.New(w.rec, engine.Limits{QueryChars: w.cfg.QueryChars, ResponseChars: w.cfg.ResponseChars})
		req := agentsdk.RunRequest{
			ThreadID:  w.rec.ThreadID(),
			Scenario:  w.rec.Scenario,
			AlertText: w.rec.AlertText,
			StartStep: 1,
			InputText: resumeInput,
		}

		res, runErr := w.runtime.Run(ctx, req, tr.Callback)
		result = res
		if res.ThreadID != "" && w.rec.ThreadID() == "" {
			w.rec.SetThreadID(res.ThreadID)
			w.rec.Append(session.KindThreadCreated, session.ThreadCreatedPayload(res.ThreadID))
		}

		if runErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isRecoverable(runErr) {
			return backoff.Permanent(runErr)
		}
		return runErr
	}

	bo := backoff.WithContext(boundedBackoff(w.cfg.MaxRetries), ctx)
	err := backoff.Retry(operation, bo)
	if err != nil {
		return &result, err
	}
	return &result, nil
}

func boundedBackoff(maxRetries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(maxRetries))
}

// isRecoverable classifies an error the way spec.md §3 requires:
// connection/transport errors are recoverable, context and protocol
// errors are fatal.
func isRecoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re recoverableError
	return errors.As(err, &re)
}

// recoverableError is the sentinel wrapper an agentsdk.Runtime should use
// (via errors.Join/fmt.Errorf %w) to mark a connection/transport failure as
// retryable. Anything that doesn't implement it is treated as fatal.
type recoverableError interface {
	error
	Recoverable() bool
}

func classifyOutcome(ctx context.Context, result *agentsdk.RunResult, err error) (session.Status, string) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return session.StatusCancelled, "cancelled"
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return session.StatusFailed, "run timeout"
	}
	if err != nil {
		return session.StatusFailed, sanitize.RedactError(err.Error())
	}
	if result != nil {
		return session.StatusCompleted, result.FinalMessage
	}
	return session.StatusFailed, "run ended without a result"
}

func cancelQuietly(rec *session.Record) {
	if r := recover(); r != nil {
		rec.SetStatus(session.StatusFailed)
		rec.SetFinalMessage("internal error")
		rec.CloseAll()
	}
}
