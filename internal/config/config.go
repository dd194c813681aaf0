package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Limits   LimitsConfig   `yaml:"limits"`
	Debug    DebugConfig    `yaml:"debug"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
type UpstreamConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}
type LimitsConfig struct {
	MaxSessions int      `yaml:"max_sessions"`
	DialTimeout Duration `yaml:"dial_timeout"`
}
type DebugConfig struct {
	Console bool `yaml:"console"`
}

// Duration accepts human-readable values such as "10s" or "1m30s" in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no config file is given.
// Listen and upstream endpoints have no usable defaults and must come from
// the config file or the command line.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Host: "0.0.0.0"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Limits: LimitsConfig{
			MaxSessions: 1024,
			DialTimeout: Duration(10 * time.Second),
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Listen.Port)
	}
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream host is required")
	}
	if c.Upstream.Port < 1 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream port %d out of range", c.Upstream.Port)
	}
	if c.Limits.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", c.Limits.MaxSessions)
	}
	if c.Limits.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout must not be negative")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

func (c *Config) UpstreamAddr() string {
	return net.JoinHostPort(c.Upstream.Host, strconv.Itoa(c.Upstream.Port))
}
