// Package config loads service settings from defaults, an optional TOML
// file, REMBG_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/redevil1/rembg-gui/pipeline"
	"github.com/redevil1/rembg-gui/rembg"
)

const EnvPrefix = "REMBG"

type Config struct {
	Log    Log    `mapstructure:"log"`
	Server Server `mapstructure:"server"`
	Limits Limits `mapstructure:"limits"`
	Rembg  Rembg  `mapstructure:"rembg"`
	Health Health `mapstructure:"health"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Limits struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	MaxPixels      int   `mapstructure:"max_pixels"`
}

type Rembg struct {
	Backend      string        `mapstructure:"backend"`
	URL          string        `mapstructure:"url"`
	Model        string        `mapstructure:"model"`
	Workflow     string        `mapstructure:"workflow"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Health struct {
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("limits.max_upload_bytes", pipeline.DefaultMaxUploadBytes)
	v.SetDefault("limits.max_pixels", pipeline.DefaultMaxPixels)

	v.SetDefault("rembg.backend", rembg.BackendServer)
	v.SetDefault("rembg.url", "http://127.0.0.1:7000")
	v.SetDefault("rembg.model", "")
	v.SetDefault("rembg.workflow", "")
	v.SetDefault("rembg.poll_interval", "500ms")
	v.SetDefault("rembg.concurrency", 2)
	v.SetDefault("rembg.timeout", "60s")

	v.SetDefault("health.schedule", "@every 30s")
	v.SetDefault("health.timeout", "5s")
}

// Load reads configuration into a Config. configFile may be empty, in which
// case config.toml is looked up in the working directory and skipped when
// absent.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Rembg.Backend {
	case rembg.BackendNoop, rembg.BackendServer, rembg.BackendBiRefNet:
	default:
		return fmt.Errorf("rembg.backend must be one of %s, %s, %s; got %q",
			rembg.BackendServer, rembg.BackendBiRefNet, rembg.BackendNoop, c.Rembg.Backend)
	}
	if c.Rembg.Backend != rembg.BackendNoop && c.Rembg.URL == "" {
		return errors.New("rembg.url is required")
	}
	if c.Rembg.Concurrency < 1 {
		return fmt.Errorf("rembg.concurrency must be at least 1, got %d", c.Rembg.Concurrency)
	}
	if c.Rembg.Timeout <= 0 {
		return errors.New("rembg.timeout must be positive")
	}
	if c.Limits.MaxUploadBytes <= 0 || c.Limits.MaxPixels <= 0 {
		return errors.New("limits must be positive")
	}
	return nil
}

func (c *Config) RembgOptions() rembg.Options {
	return rembg.Options{
		Backend:      c.Rembg.Backend,
		URL:          c.Rembg.URL,
		Model:        c.Rembg.Model,
		WorkflowFile: c.Rembg.Workflow,
		PollInterval: c.Rembg.PollInterval,
		Concurrency:  c.Rembg.Concurrency,
		Timeout:      c.Rembg.Timeout,
	}
}

func (c *Config) PipelineLimits() pipeline.Limits {
	return pipeline.Limits{
		MaxUploadBytes: c.Limits.MaxUploadBytes,
		MaxPixels:      c.Limits.MaxPixels,
	}
}
