package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLineageHome = "~/.lineage"
	DefaultDBDriver    = "sqlite"
	DefaultDBDSN       = "file:./data/main.db"
	DefaultFalBaseURL  = "https://fal.run"
)

const (
	DefaultTransformAttempts  = 3
	DefaultTransformBaseDelay = 2 * time.Second
	DefaultTransformTimeout   = 5 * time.Minute
	DefaultFetchAttempts      = 5
	DefaultFetchBaseDelay     = time.Second
	DefaultFetchTimeout       = 30 * time.Second
	DefaultUploadWorkers      = 4
	DefaultBatchDelay         = 2 * time.Second
	DefaultSignedURLExpiry    = 7 * 24 * time.Hour
)

var (
	DefaultEventsTopic = "lineage-server/events"
)

var (
	ErrLineageHomeNotSet       = errors.New("lineage home directory is not set")
	ErrLineageHomeExpandFailed = errors.New("failed to expand lineage home directory")
)

func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8881)
	v.SetDefault("host", "localhost")
	v.SetDefault("environment", "dev")
	v.SetDefault("filesystem_type", FilesystemLocal)
	v.SetDefault("lineage_store", LineageStoreDB)
	v.SetDefault("db.driver", DefaultDBDriver)
	v.SetDefault("db.dsn", DefaultDBDSN)
	v.SetDefault("fal.base_url", DefaultFalBaseURL)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 2*time.Minute)
	v.SetDefault("gcs.signed_url_expiry", DefaultSignedURLExpiry)
	v.SetDefault("pulsar.topic", DefaultEventsTopic)
	v.SetDefault("transform.max_attempts", DefaultTransformAttempts)
	v.SetDefault("transform.base_delay", DefaultTransformBaseDelay)
	v.SetDefault("transform.timeout", DefaultTransformTimeout)
	v.SetDefault("transform.fetch_attempts", DefaultFetchAttempts)
	v.SetDefault("transform.fetch_base_delay", DefaultFetchBaseDelay)
	v.SetDefault("transform.fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("transform.max_input_side", 2048)
	v.SetDefault("upload.max_workers", DefaultUploadWorkers)
	v.SetDefault("batch.delay", DefaultBatchDelay)
}

// NewDefaultConfig returns a config populated only from defaults. Used by
// tests and by commands that run before a config file exists.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Port:        8881,
		Host:        "localhost",
		Environment: "dev",
	}

	return cfg.WithDefaults()
}
