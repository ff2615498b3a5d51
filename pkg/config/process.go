package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ProcessConfig is process-level configuration (ports, storage paths,
// queue sizes) loaded from the environment, matching the teacher's
// cmd/tarsy/main.go .env-via-godotenv bootstrap.
type ProcessConfig struct {
	HTTPAddr       string `validate:"required"`
	HiveHome       string `validate:"required"`
	BusQueueSize   int    `validate:"gte=0"`
	HealthInterval int    `validate:"gte=0"` // seconds
	DatabaseURL    string // empty disables pkg/registry
	LLMSidecarAddr string `validate:"required"`

	EventDebugLog         bool // opt-in JSONL event log under HiveHome/event_logs
	FeatureReservedEvents bool // gates bus.Bus.EmitReserved; off by default per spec.md §9

	MCPServerID  string // empty disables pkg/tool/mcp; falls back to tool.StubExecutor
	MCPServerURL string
}

// LoadProcessConfig loads a .env file at envPath if present (a missing
// file is not an error, matching godotenv.Load's typical opt-in usage),
// then reads process configuration from the environment with defaults.
func LoadProcessConfig(envPath string) (*ProcessConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env file %s: %w", envPath, err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	cfg := &ProcessConfig{
		HTTPAddr:       getEnv("HIVE_HTTP_ADDR", ":8080"),
		HiveHome:       getEnv("HIVE_HOME", home+"/.hive"),
		BusQueueSize:   getEnvInt("HIVE_BUS_QUEUE_SIZE", 1000),
		HealthInterval: getEnvInt("HIVE_HEALTH_INTERVAL_SECONDS", 30),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LLMSidecarAddr: getEnv("HIVE_LLM_SIDECAR_ADDR", "localhost:50051"),

		EventDebugLog:         getEnvBool("HIVE_EVENT_DEBUG_LOG", false),
		FeatureReservedEvents: getEnvBool("HIVE_FEATURE_RESERVED_EVENTS", false),

		MCPServerID:  os.Getenv("HIVE_MCP_SERVER_ID"),
		MCPServerURL: os.Getenv("HIVE_MCP_SERVER_URL"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid process config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
