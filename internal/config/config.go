package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Backend names accepted by the backend key.
const (
	BackendGenie = "genie"
	BackendLocal = "local"
)

// Config holds the application configuration
type Config struct {
	Backend  string        `mapstructure:"backend"`
	Genie    GenieConfig   `mapstructure:"genie"`
	LLM      LLMConfig     `mapstructure:"llm"`
	Local    LocalConfig   `mapstructure:"local"`
	Retry    RetryConfig   `mapstructure:"retry"`
	Queue    QueueConfig   `mapstructure:"queue"`
	Session  SessionConfig `mapstructure:"session"`
	History  HistoryConfig `mapstructure:"history"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

// GenieConfig holds the Databricks Genie connection settings
type GenieConfig struct {
	Host              string        `mapstructure:"host"`
	Token             string        `mapstructure:"token"`
	SpaceID           string        `mapstructure:"space_id"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// LLMConfig holds the LLM configuration used by the local backend
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// LocalConfig points the local backend at a SQLite database
type LocalConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// RetryConfig holds the backoff settings applied to every remote call
type RetryConfig struct {
	// MaxRetries caps the calls made per remote step, the first one included.
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// QueueConfig holds the request queue settings
type QueueConfig struct {
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	WorkerCount        int           `mapstructure:"worker_count"`
	SessionWaitTimeout time.Duration `mapstructure:"session_wait_timeout"`
}

// SessionConfig controls idle session eviction. A zero TTL disables it.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	JanitorSchedule string        `mapstructure:"janitor_schedule"`
}

// HistoryConfig holds the conversation history store location. Empty keeps history in memory.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// legacyEnv maps keys to their unprefixed environment names.
var legacyEnv = map[string]string{
	"genie.host":               "DATABRICKS_HOST",
	"genie.token":              "DATABRICKS_TOKEN",
	"genie.space_id":           "GENIE_SPACE_ID",
	"retry.max_retries":        "MAX_RETRIES",
	"retry.base_backoff":       "INITIAL_BACKOFF",
	"retry.max_backoff":        "MAX_BACKOFF",
	"retry.backoff_multiplier": "BACKOFF_MULTIPLIER",
	"queue.max_queue_size":     "MAX_QUEUE_SIZE",
	"queue.worker_count":       "WORKER_THREADS",
	"log_level":                "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendGenie)

	v.SetDefault("genie.host", "")
	v.SetDefault("genie.token", "")
	v.SetDefault("genie.space_id", "")
	v.SetDefault("genie.poll_interval", time.Second)
	v.SetDefault("genie.poll_timeout", 10*time.Minute)
	v.SetDefault("genie.http_timeout", 60*time.Second)
	v.SetDefault("genie.requests_per_second", 0.0)
	v.SetDefault("genie.burst", 1)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")

	v.SetDefault("local.database_path", "data.db")

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.base_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 60*time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)

	v.SetDefault("queue.max_queue_size", 1000)
	v.SetDefault("queue.worker_count", 4)
	v.SetDefault("queue.session_wait_timeout", time.Duration(0))

	v.SetDefault("session.ttl", time.Duration(0))
	v.SetDefault("session.janitor_schedule", "@every 1m")

	v.SetDefault("history.db_path", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("log_level", "info")
}

// Load loads the configuration from the file named by CONFIG_PATH, or
// ./config.yaml when unset, layered over defaults and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit config file path. An empty path looks for
// config.yaml in the working directory and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GENIEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "GENIEQ_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDuration,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secondsToDuration accepts bare numbers for duration fields and reads them
// as seconds, so INITIAL_BACKOFF=1.5 means 1.5s.
func secondsToDuration(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		s := strings.TrimSpace(data.(string))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		return data, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		if from == to {
			return data, nil
		}
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	}
	return data, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGenie:
		if c.Genie.Host == "" || c.Genie.Token == "" {
			return errors.New("config: genie backend requires genie.host and genie.token (DATABRICKS_HOST, DATABRICKS_TOKEN)")
		}
	case BackendLocal:
		if c.Local.DatabasePath == "" {
			return errors.New("config: local backend requires local.database_path")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("config: retry.max_retries must be >= 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseBackoff <= 0 {
		return fmt.Errorf("config: retry.base_backoff must be positive, got %s", c.Retry.BaseBackoff)
	}
	if c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("config: retry.max_backoff (%s) is below retry.base_backoff (%s)", c.Retry.MaxBackoff, c.Retry.BaseBackoff)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("config: retry.backoff_multiplier must be >= 1, got %g", c.Retry.BackoffMultiplier)
	}
	if c.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("config: queue.max_queue_size must be positive, got %d", c.Queue.MaxQueueSize)
	}
	if c.Queue.WorkerCount <= 0 {
		return fmt.Errorf("config: queue.worker_count must be positive, got %d", c.Queue.WorkerCount)
	}
	if c.Queue.SessionWaitTimeout < 0 || c.Session.TTL < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	return nil
}
