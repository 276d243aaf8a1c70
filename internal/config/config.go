package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process configuration, decoded from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	GRPCAddr string `env:"GRPC_ADDR,default=:9090"`

	ColumnsPath string `env:"COLUMNS_PATH,default=artifacts/columns.json"`
	ModelPath   string `env:"MODEL_PATH,default=artifacts/model.json"`
	// Optional hex SHA-256 the model artifact must match.
	ModelSHA256 string `env:"MODEL_SHA256"`

	HistoryDBPath string `env:"HISTORY_DB_PATH,default=predictions.db"`

	RequireAPIKey   bool   `env:"REQUIRE_API_KEY,default=false"`
	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN,default=*"`
	RateLimitRPS    int    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int    `env:"RATE_LIMIT_BURST,default=40"`

	ArtifactRetryInterval time.Duration `env:"ARTIFACT_RETRY_INTERVAL,default=30s"`
	ActivitySize          int           `env:"ACTIVITY_SIZE,default=200"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load reads an optional dotenv file and decodes the environment into a Config.
// A missing dotenv file is not an error; envFile may be empty.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ColumnsPath) == "" {
		return errors.New("config: COLUMNS_PATH is empty")
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		return errors.New("config: MODEL_PATH is empty")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: rate limit values must not be negative")
	}
	if c.ArtifactRetryInterval <= 0 {
		return errors.New("config: ARTIFACT_RETRY_INTERVAL must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}
