// Package config loads the engine's scenario registry and runtime
// tunables. Grounded on tarsy's pkg/config (YAML file + env-var expansion
// + gopkg.in/yaml.v3 parsing + joho/godotenv for local .env loading), scoped
// down from tarsy's full agent/chain/MCP-server/LLM-provider registry set
// to the single ScenarioConfig shape spec.md §6 describes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ScenarioConfig describes one entry in the scenario registry: which
// orchestrator/sub-agent identities a session of this scenario runs with.
// Grounded on tarsy's config.ChainConfig/AgentConfig shape.
type ScenarioConfig struct {
	Name                string   `yaml:"name"`
	OrchestratorAgentID string   `yaml:"orchestrator_agent_id"`
	SubAgentIDs         []string `yaml:"sub_agent_ids"`
}

// File is the top-level scenarios.yaml structure.
type File struct {
	Scenarios map[string]ScenarioConfig `yaml:"scenarios"`
}

// Runtime holds the env-var tunables spec.md §6 names, each with the
// documented default.
type Runtime struct {
	MaxRetries         int
	RunTimeoutS        time.Duration
	SubscriberQueueCap int
	KeepaliveIntervalS time.Duration
	QueryTruncateChars int
	ResponseTruncChars int
	MaxLiveSessions    int

	HTTPAddr    string
	DatabaseURL string
}

// Config is the fully loaded, validated configuration the daemon wires
// its components from.
type Config struct {
	Scenarios map[string]ScenarioConfig
	Runtime   Runtime
}

// Load reads .env (if present, silently skipped otherwise — grounded on
// tarsy's optional-dotenv startup convention), the scenario registry at
// scenarioPath, and applies environment-variable overrides for every
// Runtime tunable.
func Load(scenarioPath string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(scenarioPath)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario file %s defines no scenarios", scenarioPath)
	}
	for key, sc := range file.Scenarios {
		if sc.OrchestratorAgentID == "" {
			return nil, fmt.Errorf("scenario %q: orchestrator_agent_id is required", key)
		}
	}

	return &Config{
		Scenarios: file.Scenarios,
		Runtime:   loadRuntime(),
	}, nil
}

func loadRuntime() Runtime {
	return Runtime{
		MaxRetries:         envInt("MAX_RETRIES", 3),
		RunTimeoutS:        time.Duration(envInt("RUN_TIMEOUT_S", 600)) * time.Second,
		SubscriberQueueCap: envInt("SUBSCRIBER_QUEUE_CAP", 256),
		KeepaliveIntervalS: time.Duration(envInt("KEEPALIVE_INTERVAL_S", 15)) * time.Second,
		QueryTruncateChars: envInt("QUERY_TRUNCATE_CHARS", 1000),
		ResponseTruncChars: envInt("RESPONSE_TRUNCATE_CHARS", 5000),
		MaxLiveSessions:    envInt("MAX_LIVE_SESSIONS", 100),
		HTTPAddr:           envString("HTTP_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
