package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Clip     ClipConfig     `yaml:"clip" mapstructure:"clip"`
	OCR      OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	Images   ImagesConfig   `yaml:"images" mapstructure:"images"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Decision DecisionConfig `yaml:"decision" mapstructure:"decision"`
	Publish  PublishConfig  `yaml:"publish" mapstructure:"publish"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig configures the image search provider.
type SearchConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Country      string  `yaml:"country" mapstructure:"country"`
	Language     string  `yaml:"language" mapstructure:"language"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTLDays int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// ClipConfig configures the external embedding (semantic similarity) service.
type ClipConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig configures image text extraction.
type OCRConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ImagesConfig configures image storage and optimization.
type ImagesConfig struct {
	Root         string `yaml:"root" mapstructure:"root"`
	MaxBytes     int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
	MinBytes     int    `yaml:"min_bytes" mapstructure:"min_bytes"`
	MaxDimension int    `yaml:"max_dimension" mapstructure:"max_dimension"`
	TargetBytes  int    `yaml:"target_bytes" mapstructure:"target_bytes"`
	// HostRPS caps download requests per second against a single host.
	HostRPS float64 `yaml:"host_rps" mapstructure:"host_rps"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	RerankTopK           int `yaml:"rerank_top_k" mapstructure:"rerank_top_k"`
}

// DecisionConfig configures the confidence decision engine.
type DecisionConfig struct {
	AutoApprove float64 `yaml:"auto_approve" mapstructure:"auto_approve"`
	NeedsReview float64 `yaml:"needs_review" mapstructure:"needs_review"`
}

// PublishConfig configures FTP delivery of approved images.
type PublishConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	RemoteDir string `yaml:"remote_dir" mapstructure:"remote_dir"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults installs the default value table on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "curator.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("search.base_url", "https://serpapi.com/search")
	v.SetDefault("search.country", "za")
	v.SetDefault("search.language", "en")
	v.SetDefault("search.timeout_secs", 20)
	v.SetDefault("search.rate_per_sec", 2)
	v.SetDefault("search.cache_ttl_days", 7)
	v.SetDefault("clip.base_url", "http://localhost:8590")
	v.SetDefault("clip.timeout_secs", 30)
	v.SetDefault("ocr.provider", "service")
	v.SetDefault("ocr.base_url", "http://localhost:8591")
	v.SetDefault("ocr.timeout_secs", 30)
	v.SetDefault("images.root", "output")
	v.SetDefault("images.max_bytes", 10*1024*1024)
	v.SetDefault("images.min_bytes", 1024)
	v.SetDefault("images.max_dimension", 1200)
	v.SetDefault("images.target_bytes", 500*1024)
	v.SetDefault("images.host_rps", 4)
	v.SetDefault("batch.max_concurrent_fetches", 4)
	v.SetDefault("batch.rerank_top_k", 5)
	v.SetDefault("decision.auto_approve", 65)
	v.SetDefault("decision.needs_review", 30)
	v.SetDefault("publish.remote_dir", "/incoming/images")
}

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
