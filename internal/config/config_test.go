package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleGenieConfig = `
backend: genie
genie:
  host: https://example.cloud.databricks.com
  token: dapi-dummy
  space_id: space-1
  poll_interval: 250ms
retry:
  max_retries: 3
  base_backoff: 2s
  max_backoff: 30s
  backoff_multiplier: 3
queue:
  max_queue_size: 10
  worker_count: 2
  session_wait_timeout: 45s
server:
  host: 127.0.0.1
  port: "9090"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad_File verifies that Load correctly unmarshals a YAML file named by CONFIG_PATH.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleGenieConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, BackendGenie, cfg.Backend)
	require.Equal(t, "https://example.cloud.databricks.com", cfg.Genie.Host)
	require.Equal(t, "space-1", cfg.Genie.SpaceID)
	require.Equal(t, 250*time.Millisecond, cfg.Genie.PollInterval)
	require.Equal(t, 10*time.Minute, cfg.Genie.PollTimeout, "unset keys keep defaults")
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.Retry.BaseBackoff)
	require.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	require.Equal(t, 3.0, cfg.Retry.BackoffMultiplier)
	require.Equal(t, 10, cfg.Queue.MaxQueueSize)
	require.Equal(t, 2, cfg.Queue.WorkerCount)
	require.Equal(t, 45*time.Second, cfg.Queue.SessionWaitTimeout)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
}

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABRICKS_HOST", "https://env.example.com")
	t.Setenv("DATABRICKS_TOKEN", "tok")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "https://env.example.com", cfg.Genie.Host)
	require.Equal(t, 5, cfg.Retry.MaxRetries)
	require.Equal(t, time.Second, cfg.Retry.BaseBackoff)
	require.Equal(t, 60*time.Second, cfg.Retry.MaxBackoff)
	require.Equal(t, 2.0, cfg.Retry.BackoffMultiplier)
	require.Equal(t, 1000, cfg.Queue.MaxQueueSize)
	require.Equal(t, 4, cfg.Queue.WorkerCount)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_LegacyAndPrefixedEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleGenieConfig))
	t.Setenv("INITIAL_BACKOFF", "1.5")
	t.Setenv("WORKER_THREADS", "8")
	t.Setenv("GENIEQ_QUEUE_MAX_QUEUE_SIZE", "7")
	t.Setenv("GENIEQ_GENIE_POLL_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 1500*time.Millisecond, cfg.Retry.BaseBackoff)
	require.Equal(t, 8, cfg.Queue.WorkerCount)
	require.Equal(t, 7, cfg.Queue.MaxQueueSize)
	require.Equal(t, 90*time.Second, cfg.Genie.PollTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend: BackendLocal,
			Local:   LocalConfig{DatabasePath: "data.db"},
			Retry:   RetryConfig{MaxRetries: 5, BaseBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2},
			Queue:   QueueConfig{MaxQueueSize: 1, WorkerCount: 1},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"unknown backend":   func(c *Config) { c.Backend = "bogus" },
		"genie needs host":  func(c *Config) { c.Backend = BackendGenie },
		"negative retries":  func(c *Config) { c.Retry.MaxRetries = -1 },
		"zero retries":      func(c *Config) { c.Retry.MaxRetries = 0 },
		"max below base":    func(c *Config) { c.Retry.MaxBackoff = time.Millisecond },
		"shrinking backoff": func(c *Config) { c.Retry.BackoffMultiplier = 0.5 },
		"no workers":        func(c *Config) { c.Queue.WorkerCount = 0 },
		"no queue":          func(c *Config) { c.Queue.MaxQueueSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}
