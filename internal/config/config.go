// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Source     SourceConfig     `mapstructure:"source"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIKey, when set, protects the /api routes.
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	DocumentsTable   string        `mapstructure:"documents_table"`
	AIDocumentsTable string        `mapstructure:"ai_documents_table"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
}

// SourceConfig configures the Federal Register client.
type SourceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SyncConfig selects the documents pulled by the sync job.
type SyncConfig struct {
	Terms           []string `mapstructure:"terms"`
	LookbackDays    int      `mapstructure:"lookback_days"`
	PerPage         int      `mapstructure:"per_page"`
	MaxPages        int      `mapstructure:"max_pages"`
	InsertBatchSize int      `mapstructure:"insert_batch_size"`
}

// ClassifierConfig configures the LLM classification job.
type ClassifierConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int64         `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	FetchLimit        int           `mapstructure:"fetch_limit"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// RefreshConfig configures the metrics refresh worker pool.
type RefreshConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Tables      []string      `mapstructure:"tables"`
}

// ArchiveConfig sets where raw search pages are kept. With neither a
// bucket nor a directory, archiving is off.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for new-document notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the Pushgateway used by batch jobs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps keys to the environment variables used by older deployments.
var legacyEnv = map[string]string{
	"database.dsn":                "DATABASE_URL",
	"database.documents_table":    "FR_DOCUMENTS_TABLE_NAME",
	"database.ai_documents_table": "AI_DOCUMENTS_TABLE_NAME",
	"classifier.api_key":          "CLAUDE_API_KEY",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIPOLICY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "AIPOLICY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

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
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.documents_table", "fr_documents")
	v.SetDefault("database.ai_documents_table", "ai_documents")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("source.base_url", "https://www.federalregister.gov/api/v1")
	v.SetDefault("source.user_agent", "ai-policy-docs/1.0")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.requests_per_second", 5)
	v.SetDefault("source.burst", 5)
	v.SetDefault("sync.terms", []string{})
	v.SetDefault("sync.lookback_days", 3)
	v.SetDefault("sync.per_page", 1000)
	v.SetDefault("sync.max_pages", 10)
	v.SetDefault("sync.insert_batch_size", 500)
	v.SetDefault("classifier.model", "claude-3-haiku-20240307")
	v.SetDefault("classifier.max_tokens", 200)
	v.SetDefault("classifier.temperature", 0)
	v.SetDefault("classifier.fetch_limit", 999)
	v.SetDefault("classifier.batch_size", 50)
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.requests_per_window", 50)
	v.SetDefault("classifier.window", "1m")
	v.SetDefault("refresh.workers", runtime.NumCPU())
	v.SetDefault("refresh.queue_depth", 256)
	v.SetDefault("refresh.max_attempts", 5)
	v.SetDefault("refresh.base_delay", "1s")
	v.SetDefault("refresh.tables", []string{"documents", "ai_documents"})
	v.SetDefault("archive.prefix", "search-pages")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces reasonable limits. Credentials are checked by the
// commands that need them, see RequireDatabase and RequireClassifier.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0")
	}
	if c.Sync.LookbackDays < 0 {
		return fmt.Errorf("sync.lookback_days must be >= 0")
	}
	if c.Sync.PerPage <= 0 {
		return fmt.Errorf("sync.per_page must be > 0")
	}
	if c.Sync.InsertBatchSize <= 0 {
		return fmt.Errorf("sync.insert_batch_size must be > 0")
	}
	if c.Classifier.BatchSize <= 0 || c.Classifier.FetchLimit <= 0 {
		return fmt.Errorf("classifier.batch_size and classifier.fetch_limit must be > 0")
	}
	if c.Classifier.MaxAttempts <= 0 {
		return fmt.Errorf("classifier.max_attempts must be > 0")
	}
	if c.Classifier.RequestsPerWindow <= 0 || c.Classifier.Window <= 0 {
		return fmt.Errorf("classifier.requests_per_window and classifier.window must be > 0")
	}
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("refresh.workers must be > 0")
	}
	if c.Refresh.MaxAttempts <= 0 {
		return fmt.Errorf("refresh.max_attempts must be > 0")
	}
	for _, t := range c.Refresh.Tables {
		if t != "documents" && t != "ai_documents" {
			return fmt.Errorf("refresh.tables: unknown table %q", t)
		}
	}
	if c.Archive.GCSBucket != "" && c.Archive.LocalDir != "" {
		return fmt.Errorf("archive.gcs_bucket and archive.local_dir are mutually exclusive")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequireDatabase reports a missing DSN.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn (or DATABASE_URL) must be set")
	}
	return nil
}

// RequireClassifier reports a missing API key.
func (c Config) RequireClassifier() error {
	if strings.TrimSpace(c.Classifier.APIKey) == "" {
		return errors.New("classifier.api_key (or CLAUDE_API_KEY) must be set")
	}
	return nil
}
