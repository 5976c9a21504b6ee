package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Feeds      FetchConfig      `yaml:"feeds" mapstructure:"feeds"`
	HTML       FetchConfig      `yaml:"html" mapstructure:"html"`
	Chunking   ChunkingConfig   `yaml:"chunking" mapstructure:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// the database file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WorkerConfig configures stage batches.
type WorkerConfig struct {
	Mode          string `yaml:"mode" mapstructure:"mode"`
	BatchSize     int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
	StaleAfterMin int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	SystemUserID  string `yaml:"system_user_id" mapstructure:"system_user_id"`
}

// StaleAfter is how long a processing claim is honored before another worker
// may take the document over.
func (w WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(w.StaleAfterMin) * time.Minute
}

// FetchConfig configures an outbound HTTP collaborator.
type FetchConfig struct {
	RequestTimeoutSecs int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs       int     `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ChunkingConfig sizes chunk windows in approximate tokens.
type ChunkingConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// EmbeddingConfig configures the LLM service client.
type EmbeddingConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Provider         string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs     int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	Dimension        int    `yaml:"dimension" mapstructure:"dimension"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownS int    `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ExtractionConfig tunes the pattern engine and the funding linker.
type ExtractionConfig struct {
	PatternsFile  string  `yaml:"patterns_file" mapstructure:"patterns_file"`
	CompanyWindow int     `yaml:"company_window" mapstructure:"company_window"`
	DateWindow    int     `yaml:"date_window" mapstructure:"date_window"`
	MaxAmountUSD  float64 `yaml:"max_amount_usd" mapstructure:"max_amount_usd"`
	EURRate       float64 `yaml:"eur_rate" mapstructure:"eur_rate"`
	GBPRate       float64 `yaml:"gbp_rate" mapstructure:"gbp_rate"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig sets the interval of each stage under the scheduler. A zero
// interval disables the stage.
type ScheduleConfig struct {
	IngestEvery   time.Duration `yaml:"ingest_every" mapstructure:"ingest_every"`
	ProcessEvery  time.Duration `yaml:"process_every" mapstructure:"process_every"`
	FeaturesEvery time.Duration `yaml:"features_every" mapstructure:"features_every"`
}

// Load reads configuration from an optional .env file, config.yaml and the
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("worker.mode", "DEALFLOW_WORKER_MODE", "WORKER_MODE"); err != nil {
		return nil, eris.Wrap(err, "config: bind worker mode")
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("worker.mode", ModeIngestion)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.stale_after_mins", 30)
	v.SetDefault("worker.system_user_id", "system-ingestion")
	v.SetDefault("feeds.request_timeout_secs", 30)
	v.SetDefault("feeds.max_retries", 3)
	v.SetDefault("feeds.retry_delay_ms", 1000)
	v.SetDefault("feeds.rate_per_sec", 1.0)
	v.SetDefault("feeds.user_agent", DefaultUserAgent)
	v.SetDefault("html.request_timeout_secs", 30)
	v.SetDefault("html.max_retries", 3)
	v.SetDefault("html.retry_delay_ms", 1000)
	v.SetDefault("html.rate_per_sec", 2.0)
	v.SetDefault("html.user_agent", DefaultUserAgent)
	v.SetDefault("chunking.size", 512)
	v.SetDefault("chunking.overlap", 50)
	v.SetDefault("embedding.base_url", "http://localhost:8001")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.timeout_secs", 60)
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.retry_delay_ms", 1000)
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.breaker_threshold", 5)
	v.SetDefault("embedding.breaker_cooldown_secs", 30)
	v.SetDefault("extraction.company_window", 200)
	v.SetDefault("extraction.date_window", 500)
	v.SetDefault("extraction.max_amount_usd", 5e10)
	v.SetDefault("extraction.eur_rate", 1.1)
	v.SetDefault("extraction.gbp_rate", 1.25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("schedule.ingest_every", "15m")
	v.SetDefault("schedule.process_every", "5m")
	v.SetDefault("schedule.features_every", "5m")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultUserAgent identifies the crawler to publishers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; DealflowBot/1.0)"

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
