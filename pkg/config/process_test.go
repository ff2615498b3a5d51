package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadProcessConfig_Defaults(t *testing.T) {
	t.Setenv("HIVE_HTTP_ADDR", "")
	t.Setenv("HIVE_HOME", "")
	t.Setenv("HIVE_BUS_QUEUE_SIZE", "")
	t.Setenv("HIVE_LLM_SIDECAR_ADDR", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadProcessConfig("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "localhost:50051", cfg.LLMSidecarAddr)
	require.Equal(t, 1000, cfg.BusQueueSize)
	require.Empty(t, cfg.DatabaseURL)
	require.False(t, cfg.EventDebugLog)
	require.False(t, cfg.FeatureReservedEvents)
	require.Empty(t, cfg.MCPServerID)
}

func TestLoadProcessConfig_FeatureFlags(t *testing.T) {
	t.Setenv("HIVE_EVENT_DEBUG_LOG", "true")
	t.Setenv("HIVE_FEATURE_RESERVED_EVENTS", "1")

	cfg, err := LoadProcessConfig("")
	require.NoError(t, err)
	require.True(t, cfg.EventDebugLog)
	require.True(t, cfg.FeatureReservedEvents)
}

func TestLoadProcessConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HIVE_HTTP_ADDR", ":9090")
	t.Setenv("HIVE_BUS_QUEUE_SIZE", "250")
	t.Setenv("DATABASE_URL", "postgres://localhost/hive")

	cfg, err := LoadProcessConfig("")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 250, cfg.BusQueueSize)
	require.Equal(t, "postgres://localhost/hive", cfg.DatabaseURL)
}

func TestLoadProcessConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("HIVE_HTTP_ADDR=:7070\n"), 0o644))

	// godotenv.Load does not override a variable that is already present
	// in the environment, so this must be genuinely unset rather than set
	// to "" (t.Setenv would still count as present).
	prior, wasSet := os.LookupEnv("HIVE_HTTP_ADDR")
	require.NoError(t, os.Unsetenv("HIVE_HTTP_ADDR"))
	t.Cleanup(func() {
		if wasSet {
			os.Setenv("HIVE_HTTP_ADDR", prior)
		}
	})

	cfg, err := LoadProcessConfig(envPath)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr)
}
