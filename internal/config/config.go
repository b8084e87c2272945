package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDatasetURL is the public diamonds CSV the trainer reads by default.
const DefaultDatasetURL = "https://raw.githubusercontent.com/rifaifirdaus/UTS_Praktikum_Penambangan_Data/refs/heads/main/diamonds.csv"

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Dataset   DatasetConfig   `yaml:"dataset" mapstructure:"dataset"`
	Train     TrainConfig     `yaml:"train" mapstructure:"train"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Client    ClientConfig    `yaml:"client" mapstructure:"client"`
	UI        UIConfig        `yaml:"ui" mapstructure:"ui"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the training run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DatasetConfig configures where training data comes from.
type DatasetConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// TrainConfig holds the split and forest hyperparameters.
type TrainConfig struct {
	TestFraction    float64 `yaml:"test_fraction" mapstructure:"test_fraction"`
	Seed            int64   `yaml:"seed" mapstructure:"seed"`
	NEstimators     int     `yaml:"n_estimators" mapstructure:"n_estimators"`
	MaxDepth        int     `yaml:"max_depth" mapstructure:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split" mapstructure:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	Workers         int     `yaml:"workers" mapstructure:"workers"`
}

// ArtifactsConfig names the artifact directory and files.
type ArtifactsConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	ModelFile    string `yaml:"model_file" mapstructure:"model_file"`
	EncoderFile  string `yaml:"encoder_file" mapstructure:"encoder_file"`
	FeaturesFile string `yaml:"features_file" mapstructure:"features_file"`
}

// ServerConfig configures the prediction API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitPerMin  int      `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
}

// ClientConfig configures how the client reaches the prediction API.
type ClientConfig struct {
	APIURL           string `yaml:"api_url" mapstructure:"api_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Timeout returns the remote call timeout.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// UIConfig configures the browser UI server.
type UIConfig struct {
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
	v.SetEnvPrefix("DIAMOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "diamond.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("dataset.url", DefaultDatasetURL)
	v.SetDefault("dataset.timeout_secs", 60)
	v.SetDefault("dataset.max_retries", 3)
	v.SetDefault("dataset.temp_dir", filepath.Join(os.TempDir(), "diamond-cli"))
	v.SetDefault("train.test_fraction", 0.2)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.n_estimators", 50)
	v.SetDefault("train.max_depth", 15)
	v.SetDefault("train.min_samples_split", 2)
	v.SetDefault("train.min_samples_leaf", 1)
	v.SetDefault("train.workers", 0)
	v.SetDefault("artifacts.dir", ".")
	v.SetDefault("artifacts.model_file", "model.json.zst")
	v.SetDefault("artifacts.encoder_file", "encoder.json")
	v.SetDefault("artifacts.features_file", "features.json")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout_secs", 10)
	v.SetDefault("server.write_timeout_secs", 30)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 600)
	v.SetDefault("client.api_url", "http://localhost:5000")
	v.SetDefault("client.timeout_secs", 10)
	v.SetDefault("client.failure_threshold", 3)
	v.SetDefault("client.reset_timeout_secs", 30)
	v.SetDefault("ui.port", 8501)

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

// Validate checks the settings a command mode depends on. Every problem is
// reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "train":
		if c.Dataset.URL == "" {
			errs = append(errs, "dataset.url is required")
		}
		if c.Train.TestFraction <= 0 || c.Train.TestFraction >= 1 {
			errs = append(errs, "train.test_fraction must be between 0 and 1 (exclusive)")
		}
		if c.Train.NEstimators < 1 {
			errs = append(errs, "train.n_estimators must be > 0")
		}
		if c.Train.MaxDepth < 1 {
			errs = append(errs, "train.max_depth must be > 0")
		}
		if c.Train.MinSamplesSplit < 2 {
			errs = append(errs, "train.min_samples_split must be >= 2")
		}
		if c.Train.MinSamplesLeaf < 1 {
			errs = append(errs, "train.min_samples_leaf must be > 0")
		}
		if c.Train.Workers < 0 {
			errs = append(errs, "train.workers must be >= 0")
		}
		errs = append(errs, c.Artifacts.problems()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server.rate_limit_per_min must be >= 0")
		}
		errs = append(errs, c.Artifacts.problems()...)
	case "client":
		errs = append(errs, c.Client.problems()...)
	case "ui":
		if c.UI.Port <= 0 {
			errs = append(errs, "ui.port must be > 0")
		}
		errs = append(errs, c.Client.problems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (a ArtifactsConfig) problems() []string {
	var errs []string
	if a.ModelFile == "" {
		errs = append(errs, "artifacts.model_file is required")
	}
	if a.EncoderFile == "" {
		errs = append(errs, "artifacts.encoder_file is required")
	}
	if a.FeaturesFile == "" {
		errs = append(errs, "artifacts.features_file is required")
	}
	return errs
}

func (c ClientConfig) problems() []string {
	var errs []string
	if c.APIURL == "" {
		errs = append(errs, "client.api_url is required")
	}
	if c.TimeoutSecs <= 0 {
		errs = append(errs, "client.timeout_secs must be > 0")
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, "client.failure_threshold must be > 0")
	}
	return errs
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
