// Package config loads the client configuration from a YAML or TOML file,
// with DOCCHAT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		BaseURL         string `yaml:"base_url" toml:"base_url"`
		TimeoutMs       int    `yaml:"timeout_ms" toml:"timeout_ms"`
		StreamTimeoutMs int    `yaml:"stream_timeout_ms" toml:"stream_timeout_ms"`
		StreamBuffer    int    `yaml:"stream_buffer" toml:"stream_buffer"`
	} `yaml:"server" toml:"server"`

	RateLimit struct {
		RPS   float64 `yaml:"rps" toml:"rps"`
		Burst int     `yaml:"burst" toml:"burst"`
	} `yaml:"rate_limit" toml:"rate_limit"`

	Proxy struct {
		Listen string      `yaml:"listen" toml:"listen"`
		Rules  []ProxyRule `yaml:"rules" toml:"rules"`
	} `yaml:"proxy" toml:"proxy"`

	Logging struct {
		Level string `yaml:"level" toml:"level"`
		Debug bool   `yaml:"debug" toml:"debug"`
	} `yaml:"logging" toml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Path    string `yaml:"path" toml:"path"`
	} `yaml:"metrics" toml:"metrics"`
}

// ProxyRule forwards requests under Prefix to Target. StripPrefix removes
// Prefix from the forwarded path.
type ProxyRule struct {
	Prefix      string `yaml:"prefix" toml:"prefix"`
	Target      string `yaml:"target" toml:"target"`
	StripPrefix bool   `yaml:"strip_prefix" toml:"strip_prefix"`
}

// Timeout returns the non-streaming request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutMs) * time.Millisecond
}

// StreamTimeout returns the streaming timeout; zero means none.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Server.StreamTimeoutMs) * time.Millisecond
}

// Load reads path, decoding by extension (.toml or YAML otherwise). An
// empty path yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(b), cfg)
		return err
	default:
		return yaml.Unmarshal(b, cfg)
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.BaseURL) == "" {
		cfg.Server.BaseURL = "http://localhost:8000/api"
	}
	if cfg.Server.TimeoutMs <= 0 {
		cfg.Server.TimeoutMs = 30000
	}
	if cfg.Server.StreamBuffer <= 0 {
		cfg.Server.StreamBuffer = 4096
	}
	if strings.TrimSpace(cfg.Proxy.Listen) == "" {
		cfg.Proxy.Listen = ":5173"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_BASE_URL")); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_STREAM_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.StreamTimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_PROXY_LISTEN")); v != "" {
		cfg.Proxy.Listen = v
	}
	// DOCCHAT_PROXY is a JSON-less shorthand: "prefix=target,prefix=target".
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_PROXY")); v != "" {
		if rules := parseProxyRules(v); len(rules) > 0 {
			cfg.Proxy.Rules = rules
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	cfg.Logging.Debug = envBool("DOCCHAT_DEBUG", cfg.Logging.Debug)
	cfg.Metrics.Enabled = envBool("DOCCHAT_METRICS_ENABLED", cfg.Metrics.Enabled)
}

func parseProxyRules(v string) []ProxyRule {
	var rules []ProxyRule
	for _, part := range strings.Split(v, ",") {
		prefix, target, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || prefix == "" || target == "" {
			continue
		}
		rules = append(rules, ProxyRule{Prefix: prefix, Target: target, StripPrefix: true})
	}
	return rules
}

func validate(cfg *Config) error {
	if _, err := url.Parse(cfg.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if cfg.Server.StreamTimeoutMs < 0 {
		return errors.New("server.stream_timeout_ms must be non-negative")
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must be non-negative")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst == 0 {
		return errors.New("rate_limit.burst is required when rate_limit.rps is set")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	for i, r := range cfg.Proxy.Rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("proxy.rules[%d].prefix must start with /", i)
		}
		u, err := url.Parse(r.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.rules[%d].target must be an absolute URL", i)
		}
	}
	return nil
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
