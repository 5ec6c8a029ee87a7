// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`     // e.g. http://localhost:8000/v1/study
	DownloadBaseURL string        `yaml:"download_url"` // prefix for exam download paths
	Timeout         time.Duration `yaml:"timeout"`      // 0 = no client-side timeout
	ConcurrentLimit int           `yaml:"concurrent_limit"`
}

type IdentityConfig struct {
	User   string `yaml:"user"`
	Course string `yaml:"course"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port int `yaml:"port"` // 0 disables the admin server
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables the ledger and transcript store
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Identity IdentityConfig `yaml:"identity"`
	Poller   PollerConfig   `yaml:"poller"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	DefaultBaseURL      = "http://localhost:8000/v1/study"
	DefaultPollInterval = 3 * time.Second
)

// LoadConfig reads the YAML file at path. A missing file is not an error:
// defaults and environment overrides still apply.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	return finalize(&cfg, dev)
}

// Parse builds a config from raw YAML; used by tests and embedded defaults.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finalize(&cfg, dev)
}

func finalize(cfg *Config, dev bool) (*Config, error) {
	applyEnv(cfg)

	// defaults
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.DownloadBaseURL == "" {
		cfg.API.DownloadBaseURL = downloadBase(cfg.API.BaseURL)
	}
	if cfg.API.ConcurrentLimit <= 0 {
		cfg.API.ConcurrentLimit = 4
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = DefaultPollInterval
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
		return nil, fmt.Errorf("api.base_url is invalid: %w", err)
	}
	if k := len(cfg.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return nil, errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}

	cfg.Runtime.Dev = dev
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STUDY_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("STUDY_USER"); v != "" {
		cfg.Identity.User = v
	}
	if v := os.Getenv("STUDY_COURSE"); v != "" {
		cfg.Identity.Course = v
	}
	if v := os.Getenv("STUDY_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("STUDY_ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
}

// downloadBase strips the path from the API base so that server-relative
// download paths like /downloads/x.pdf resolve against the same host.
func downloadBase(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}
