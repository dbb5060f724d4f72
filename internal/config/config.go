package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable.
const Prefix = "PIPEFEED"

// Config holds all application configuration.
type Config struct {
	Child         ChildConfig
	Stream        StreamConfig
	Output        OutputConfig
	Server        ServerConfig
	Log           LogConfig
	ShutdownGrace time.Duration `split_words:"true" default:"5s"`
}

// ChildConfig describes the supervised child. An empty Command runs the
// built-in lister.
type ChildConfig struct {
	Command []string // comma-separated argv
	Dir     string
	PTY     bool `default:"false"`
}

// StreamConfig bounds the pipe reader.
type StreamConfig struct {
	ReadBuffer int `split_words:"true" default:"4096"`
	MaxLine    int `split_words:"true" default:"1048576"`
}

// OutputConfig selects the record sink.
type OutputConfig struct {
	Format      string `default:"text"`
	Path        string // empty writes to stdout
	Compression string `default:"none"`
}

// ServerConfig holds the optional status server settings.
type ServerConfig struct {
	Enabled   bool   `default:"false"`
	Addr      string `default:"127.0.0.1:9464"`
	RateLimit int    `split_words:"true" default:"50"`
	RateBurst int    `split_words:"true" default:"100"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `default:"info"`
	Dev   bool   `default:"false"`
}

// Load loads configuration from PIPEFEED_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			ReadBuffer: 4096,
			MaxLine:    1 << 20,
		},
		Output: OutputConfig{
			Format:      "text",
			Compression: "none",
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:9464",
			RateLimit: 50,
			RateBurst: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
		ShutdownGrace: 5 * time.Second,
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case "text", "json", "yaml", "toml":
	default:
		return fmt.Errorf("invalid output format %q", c.Output.Format)
	}
	switch c.Output.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("invalid output compression %q", c.Output.Compression)
	}
	if c.Stream.ReadBuffer <= 0 {
		return fmt.Errorf("read buffer must be positive, got %d", c.Stream.ReadBuffer)
	}
	if c.Stream.MaxLine < 0 {
		return fmt.Errorf("max line must not be negative, got %d", c.Stream.MaxLine)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must not be negative, got %v", c.ShutdownGrace)
	}
	if c.Server.Enabled && c.Server.RateLimit <= 0 {
		return fmt.Errorf("server rate limit must be positive, got %d", c.Server.RateLimit)
	}
	return nil
}
