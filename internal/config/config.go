// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/storage/gcs"
	"github.com/JakeFAU/url-ingest/internal/storage/local"
	"github.com/JakeFAU/url-ingest/internal/storage/s3"
)

// EnvPrefix is prepended to every environment override, e.g.
// INGEST_WORKERS_CONCURRENCY=8.
const EnvPrefix = "INGEST"

// Archive backends.
const (
	ArchiveNone   = ""
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	// Preconfigured lists sources to connect at startup.
	Preconfigured []SourceEntry `mapstructure:"sources_config"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxUploadBytes         int `mapstructure:"max_upload_bytes"`
}

// WorkersConfig sizes the execution pool.
type WorkersConfig struct {
	Concurrency           int `mapstructure:"concurrency"`
	QueueDepth            int `mapstructure:"queue_depth"`
	EnqueueTimeoutSeconds int `mapstructure:"enqueue_timeout_seconds"`
}

// HTTPConfig configures the probe fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	MinVisibleText int    `mapstructure:"min_visible_text"`
	ExecPath       string `mapstructure:"exec_path"`
}

// ArchiveConfig selects where completed markdown is archived.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	S3      s3.Config    `mapstructure:"s3"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// PollingConfig holds defaults for source selections.
type PollingConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// SourcesConfig controls source connections.
type SourcesConfig struct {
	ConnectTimeoutSeconds int   `mapstructure:"connect_timeout_seconds"`
	PostgresMaxConns      int32 `mapstructure:"postgres_max_conns"`
}

// SinkConfig bounds output sink writes.
type SinkConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceEntry is one source connected, configured and optionally polled at startup.
type SourceEntry struct {
	Type                string `mapstructure:"type"`
	DSN                 string `mapstructure:"dsn"`
	Table               string `mapstructure:"table"`
	Column              string `mapstructure:"column"`
	KeyColumn           string `mapstructure:"key_column"`
	OutputTable         string `mapstructure:"output_table"`
	BatchSize           int    `mapstructure:"batch_size"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	LastSeenID          int64  `mapstructure:"last_seen_id"`
	Autostart           bool   `mapstructure:"autostart"`
}

// SourceConfig converts the entry into the runtime form.
func (e SourceEntry) SourceConfig() (ingest.SourceConfig, error) {
	t, err := ingest.ParseSourceType(e.Type)
	if err != nil {
		return ingest.SourceConfig{}, fmt.Errorf("sources_config type %q: %w", e.Type, err)
	}
	return ingest.SourceConfig{
		Type:         t,
		DSN:          e.DSN,
		Table:        e.Table,
		Column:       e.Column,
		KeyColumn:    e.KeyColumn,
		OutputTable:  e.OutputTable,
		BatchSize:    e.BatchSize,
		PollInterval: time.Duration(e.PollIntervalSeconds) * time.Second,
		LastSeenID:   e.LastSeenID,
	}, nil
}

// Load reads an optional dotenv file, then builds a Config from defaults, the
// optional config file at path, and INGEST_* environment variables. A missing
// dotenv file is ignored.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.queue_depth", 1024)
	v.SetDefault("workers.enqueue_timeout_seconds", 30)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "url-ingest/0.1")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_visible_text", 200)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "documents")
	v.SetDefault("archive.local.base_dir", "data/archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.access_key", "")
	v.SetDefault("archive.s3.secret_key", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.use_ssl", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("polling.batch_size", 100)
	v.SetDefault("polling.interval_seconds", 5)
	v.SetDefault("sources.connect_timeout_seconds", 10)
	v.SetDefault("sources.postgres_max_conns", 4)
	v.SetDefault("sink.timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs backend")
		}
	case ArchiveS3:
		if c.Archive.S3.Endpoint == "" || c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.endpoint and archive.s3.bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of memory, local, gcs, s3", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	seen := make(map[ingest.SourceType]bool, len(c.Preconfigured))
	for i, entry := range c.Preconfigured {
		cfg, err := entry.SourceConfig()
		if err != nil {
			return err
		}
		if seen[cfg.Type] {
			return fmt.Errorf("sources_config[%d]: duplicate source type %q", i, cfg.Type)
		}
		seen[cfg.Type] = true
		if entry.DSN == "" || entry.Table == "" || entry.Column == "" {
			return fmt.Errorf("sources_config[%d]: dsn, table and column are required", i)
		}
	}
	return nil
}

// FetchTimeout is the per-request budget for the probe fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SinkTimeout bounds one EnsureTable+AppendRecord pair.
func (c Config) SinkTimeout() time.Duration {
	return seconds(c.Sink.TimeoutSeconds, 10*time.Second)
}

// PollInterval is the default interval for new selections.
func (c Config) PollInterval() time.Duration {
	return seconds(c.Polling.IntervalSeconds, 5*time.Second)
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds, 15*time.Second)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
