// Package httpapi is the HTTP Gateway component (spec.md §4.5): session
// CRUD, the SSE event stream, and cancellation, served over Echo v5.
//
// Grounded on tarsy's pkg/api (echo.New(), route groups, mapServiceError,
// middleware.BodyLimit) generalized from tarsy's alert/session/chat
// surface to the smaller session-orchestration contract spec.md §6 names.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/config"
	"github.com/argus-sre/argus/internal/session"
	"github.com/argus-sre/argus/internal/sessionstore"
	"github.com/argus-sre/argus/internal/worker"
)

// RuntimeFactory builds the agentsdk.Runtime backing a scenario. Kept as a
// function type rather than a fixed implementation so main can wire either
// the fake in-process runtime (tests, demos) or a real one without
// httpapi needing to know which.
type RuntimeFactory func(scenario config.ScenarioConfig) (agentsdk.Runtime, error)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	http       *http.Server
	store      *sessionstore.Store
	cfg        *config.Config
	newRuntime RuntimeFactory

	// baseCtx is the process-lifetime context workers are started against
	// (set from Start's ctx). It must outlive any single HTTP request —
	// using a request's own context here would cancel a session's run the
	// moment the request that launched it (a stream, or an explicit start
	// call) ends, which spec.md §4.2 point 8 reserves for an explicit
	// cancel signal only. Defaults to context.Background() so tests that
	// exercise handlers directly, without calling Start, still work.
	baseCtx context.Context
}

// New wires up all routes and returns a ready-to-Start Server.
func New(cfg *config.Config, store *sessionstore.Store, newRuntime RuntimeFactory) *Server {
	e := echo.New()
	e.Use(middleware.BodyLimit(1 << 20))
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		store:      store,
		cfg:        cfg,
		newRuntime: newRuntime,
		baseCtx:    context.Background(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/v1")
	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.GET("/sessions/:id/stream", s.streamHandler)
	v1.POST("/sessions/:id/start", s.startSessionHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.POST("/sessions/:id/input", s.submitInputHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
}

// ensureWorkerStarted launches the worker for rec if it hasn't already been
// started (spec.md §4.2 point 2: "launched on the first subscriber arrival
// or on an explicit start call, whichever comes first"). Worker.Start's own
// session.Record.MarkStarted guard makes this safe to call repeatedly —
// both the stream handler and the explicit start endpoint call it
// unconditionally, and only the first caller actually launches anything.
func (s *Server) ensureWorkerStarted(rec *session.Record) error {
	scenario, ok := s.cfg.Scenarios[rec.Scenario]
	if !ok {
		return fmt.Errorf("unknown scenario %q", rec.Scenario)
	}
	runtime, err := s.newRuntime(scenario)
	if err != nil {
		return fmt.Errorf("build runtime for scenario %q: %w", rec.Scenario, err)
	}
	w := worker.New(rec, runtime, s.store, workerConfigFromRuntime(s.cfg.Runtime))
	w.Start(s.baseCtx)
	return nil
}

func (s *Server) healthHandler(c *echo.Context) error {
	stats := s.store.Stats()
	resp := map[string]any{
		"status":             "ok",
		"live_sessions":      stats.LiveSessions,
		"sessions_processed": stats.SessionsProcessed,
	}
	if !stats.LastActivityAt.IsZero() {
		resp["last_activity"] = stats.LastActivityAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the HTTP server on addr until ctx is cancelled, then performs
// a graceful shutdown (spec.md's ambient stack: graceful shutdown is
// carried even though the spec's Non-goals don't mention it explicitly).
func (s *Server) Start(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	s.http = &http.Server{Addr: addr, Handler: s.echo}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// workerConfigFromRuntime adapts config.Runtime to worker.Config.
func workerConfigFromRuntime(rt config.Runtime) worker.Config {
	return worker.Config{
		MaxRetries:    rt.MaxRetries,
		RunTimeout:    rt.RunTimeoutS,
		QueryChars:    rt.QueryTruncateChars,
		ResponseChars: rt.ResponseTruncChars,
	}
}
