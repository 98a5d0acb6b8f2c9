// Command argusd runs the session orchestration engine's HTTP gateway: it
// loads the scenario registry and runtime tunables, wires a persistence
// adapter (in-memory or Postgres), and serves the session API until
// terminated.
//
// Grounded on tarsy's cmd/tarsy/main.go (flag-based config dir, godotenv,
// env-driven HTTP port) generalized from tarsy's echo+ent wiring to this
// module's echo+sessionstore wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/agentsdk/fake"
	"github.com/argus-sre/argus/internal/config"
	"github.com/argus-sre/argus/internal/httpapi"
	"github.com/argus-sre/argus/internal/persistence"
	"github.com/argus-sre/argus/internal/persistence/memory"
	"github.com/argus-sre/argus/internal/persistence/postgres"
	"github.com/argus-sre/argus/internal/sessionstore"
)

func main() {
	scenarioPath := flag.String("scenarios", getEnv("SCENARIO_FILE", "./deploy/scenarios.yaml"), "path to the scenario registry YAML file")
	flag.Parse()

	if err := run(*scenarioPath); err != nil {
		slog.Error("argusd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(scenarioPath string) error {
	cfg, err := config.Load(scenarioPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, closeFn, err := newPersistenceAdapter(ctx, cfg.Runtime.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer closeFn()

	store := sessionstore.New(adapter, cfg.Runtime.MaxLiveSessions)

	server := httpapi.New(cfg, store, newFakeRuntime)

	slog.Info("argusd starting", "addr", cfg.Runtime.HTTPAddr, "scenarios", len(cfg.Scenarios))
	return server.Start(ctx, cfg.Runtime.HTTPAddr)
}

// newPersistenceAdapter selects Postgres when DATABASE_URL is configured,
// falling back to the in-memory adapter otherwise (spec.md §4.6: both are
// valid backends; the in-memory one is the zero-config default for local
// runs and tests).
func newPersistenceAdapter(ctx context.Context, databaseURL string) (persistence.Adapter, func(), error) {
	if databaseURL == "" {
		return memory.New(), func() {}, nil
	}

	pgCfg, err := parsePostgresURL(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	adapter, db, err := postgres.Connect(ctx, pgCfg)
	if err != nil {
		return nil, nil, err
	}
	return adapter, func() { _ = db.Close() }, nil
}

// newFakeRuntime is the default agentsdk.RuntimeFactory wired in this
// build: a deterministic in-process runtime standing in for the
// out-of-scope agent framework (spec.md §2 Non-goals). Swap this for a
// real agentsdk.Runtime implementation when one is available.
func newFakeRuntime(scenario config.ScenarioConfig) (agentsdk.Runtime, error) {
	return &fake.Runtime{
		Steps: []fake.Step{
			{AgentName: scenario.OrchestratorAgentID, Query: "investigate alert", Response: "investigation in progress"},
		},
		FinalMessage: "no anomalies found",
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
