package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of recognized options (spec.md §6).
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Model      ModelConfig      `mapstructure:"model"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Fuser      FuserConfig      `mapstructure:"fuser"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig configures the Postgres connection CatalogStore runs on.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CatalogConfig describes the upstream catalog HTTP API (spec.md §6).
type CatalogConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// ModelConfig locates the ONNX embedding model on disk (spec.md §4.2/§6).
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// OCRConfig locates the Tesseract language data used by TitleReader.
type OCRConfig struct {
	DataPath string `mapstructure:"data_path"`
}

// PipelineConfig tunes the Pipeline orchestrator (spec.md §4.6).
type PipelineConfig struct {
	OCRInjectThreshold float32 `mapstructure:"ocr_inject_threshold"`
}

// FuserConfig carries the decision thresholds of spec.md §4.5, all
// overridable so an operator can recalibrate without a rebuild.
type FuserConfig struct {
	DistHigh    float32 `mapstructure:"dist_high"`
	DistMed     float32 `mapstructure:"dist_med"`
	DistCutoff  float32 `mapstructure:"dist_cutoff"`
	OCRBlock    float32 `mapstructure:"ocr_block"`
	MaxAttempts int     `mapstructure:"max_attempts"`
}

// ReconcilerConfig tunes the background reconciliation loop (spec.md §4.8).
type ReconcilerConfig struct {
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	Interval         time.Duration `mapstructure:"interval"`
	IgnoredSetTypes  []string      `mapstructure:"ignored_set_types"`
	BetweenSetsDelay time.Duration `mapstructure:"between_sets_delay"`
}

// Load reads configuration from an optional YAML file plus environment
// variables, following the same viper + godotenv shape throughout: file
// values first, then environment overrides, with sane production defaults.
// Parameters:
//   - configPath: explicit path to a YAML config file; empty searches
//     ./configs and "." for "config.yaml".
// Returns:
//   - *Config: fully-resolved configuration.
//   - error: non-nil if the config file exists but cannot be parsed.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=cardid port=5432 sslmode=disable")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("catalog.base_url", "https://api.scryfall.com")
	v.SetDefault("catalog.user_agent", "cardid/0.1 (contact: ops@example.com)")

	v.SetDefault("model.path", "./data/models/embedder.onnx")
	v.SetDefault("ocr.data_path", "./data/tessdata")

	v.SetDefault("pipeline.ocr_inject_threshold", 0.70)

	v.SetDefault("fuser.dist_high", 0.30)
	v.SetDefault("fuser.dist_med", 0.42)
	v.SetDefault("fuser.dist_cutoff", 0.52)
	v.SetDefault("fuser.ocr_block", 0.90)
	v.SetDefault("fuser.max_attempts", 3)

	v.SetDefault("reconciler.initial_delay", 10*time.Second)
	v.SetDefault("reconciler.interval", 24*time.Hour)
	v.SetDefault("reconciler.between_sets_delay", 2*time.Second)
	v.SetDefault("reconciler.ignored_set_types", []string{"memorabilia", "token", "minigame", "funny"})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("catalog.base_url", "CATALOG_BASE_URL")
	v.BindEnv("catalog.user_agent", "CATALOG_USER_AGENT")
	v.BindEnv("model.path", "MODEL_PATH")
	v.BindEnv("ocr.data_path", "OCR_DATA_PATH")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
