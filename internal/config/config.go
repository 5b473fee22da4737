// Package config loads VisualTrans settings. Precedence, lowest first:
// defaults, YAML file, .env and process environment, command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/visualtrans/internal/logging"
	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every VisualTrans environment variable.
const EnvPrefix = "VISUALTRANS_"

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// ServiceConfig points at the remote localization service.
type ServiceConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
}

type PipelineConfig struct {
	Language         string        `yaml:"language"`
	MinPause         time.Duration `yaml:"min_pause"`
	MaxPause         time.Duration `yaml:"max_pause"`
	PreviewDimension int           `yaml:"preview_dimension"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig enables run history when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration for a local service on port 8000.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			URL:       "http://localhost:8000",
			UserAgent: "visualtrans",
		},
		Pipeline: PipelineConfig{
			Language:         string(types.DefaultLanguage),
			MinPause:         400 * time.Millisecond,
			MaxPause:         1200 * time.Millisecond,
			PreviewDimension: 512,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  20 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the optional YAML file at path and applies environment overrides.
// A .env file in the working directory is loaded if present. Callers apply flag
// overrides afterwards and then call Validate.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Service.URL, "SERVICE_URL")
	setString(&cfg.Service.UserAgent, "USER_AGENT")
	setString(&cfg.Pipeline.Language, "LANGUAGE")
	setString(&cfg.Server.Addr, "ADDR")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	for name, target := range map[string]*time.Duration{
		"MIN_PAUSE": &cfg.Pipeline.MinPause,
		"MAX_PAUSE": &cfg.Pipeline.MaxPause,
	} {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*target = d
		}
	}

	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_UPLOAD_BYTES: %w", EnvPrefix, err)
		}
		cfg.Server.MaxUploadBytes = n
	}

	// If no URL was configured, try to build the connection string from the Postgres environment.
	if cfg.Database.URL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			user := os.Getenv("POSTGRES_USER")
			pass := os.Getenv("POSTGRES_PASSWORD")
			name := os.Getenv("POSTGRES_DB")
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			cfg.Database.URL = (&url.URL{
				Scheme: "postgres",
				User:   url.UserPassword(user, pass),
				Host:   host + ":" + port,
				Path:   "/" + name,
			}).String()
		}
	}
	return nil
}

func setString(target *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*target = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Service.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid service url: %q", c.Service.URL)
	}

	if _, err := types.ParseLanguage(c.Pipeline.Language); err != nil {
		return err
	}
	if c.Pipeline.MinPause < 0 || c.Pipeline.MaxPause < c.Pipeline.MinPause {
		return fmt.Errorf("invalid stage pauses: min %v, max %v", c.Pipeline.MinPause, c.Pipeline.MaxPause)
	}
	if c.Pipeline.PreviewDimension < 1 {
		return fmt.Errorf("preview_dimension must be positive, got %d", c.Pipeline.PreviewDimension)
	}

	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

// Language returns the configured default target language.
func (c *Config) Language() types.TargetLanguage {
	lang, err := types.ParseLanguage(c.Pipeline.Language)
	if err != nil {
		return types.DefaultLanguage
	}
	return lang
}

// HistoryEnabled reports whether a run history database is configured.
func (c *Config) HistoryEnabled() bool {
	return c.Database.URL != ""
}
