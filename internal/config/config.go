package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Draft storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendFailover = "failover"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`

	BookingAPI struct {
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
	} `yaml:"booking_api"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Drafts struct {
		Backend               string `yaml:"backend"`
		TTLHours              int    `yaml:"ttl_hours"`
		SQLitePath            string `yaml:"sqlite_path"`
		SessionTimeoutMinutes int    `yaml:"session_timeout_minutes"`
	} `yaml:"drafts"`

	Offers struct {
		LookupExisting bool `yaml:"lookup_existing"`
		LockTTLSeconds int  `yaml:"lock_ttl_seconds"`
	} `yaml:"offers"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		SQLitePath    string `yaml:"sqlite_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"audit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Drafts.Backend == "" {
		cfg.Drafts.Backend = BackendMemory
	}
	if cfg.Drafts.SQLitePath == "" {
		cfg.Drafts.SQLitePath = "data/drafts.db"
	}
	if cfg.Audit.SQLitePath == "" {
		cfg.Audit.SQLitePath = "data/offers.db"
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Drafts.Backend == BackendSQLite || cfg.Drafts.Backend == BackendFailover {
		if err = os.MkdirAll(filepath.Dir(cfg.Drafts.SQLitePath), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate checks the settings Load cannot default.
func (c *Config) Validate() error {
	if c.BookingAPI.BaseURL == "" {
		return errors.New("booking_api.base_url is required")
	}
	switch c.Drafts.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis, BackendFailover:
		if c.Redis.Address == "" {
			return fmt.Errorf("drafts.backend %q needs redis.address", c.Drafts.Backend)
		}
	default:
		return fmt.Errorf("unknown drafts.backend %q", c.Drafts.Backend)
	}
	return nil
}

func (c *Config) ServerAddress() string {
	if c.Server.Address == "" {
		return ":8080"
	}
	return c.Server.Address
}

func (c *Config) BookingAPITimeout() time.Duration {
	if c.BookingAPI.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.BookingAPI.TimeoutSeconds) * time.Second
}

func (c *Config) BookingAPICacheTTL() time.Duration {
	if c.BookingAPI.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.BookingAPI.CacheTTLSeconds) * time.Second
}

func (c *Config) DraftTTL() time.Duration {
	if c.Drafts.TTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Drafts.TTLHours) * time.Hour
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Drafts.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Drafts.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) OfferLockTTL() time.Duration {
	if c.Offers.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Offers.LockTTLSeconds) * time.Second
}

// AuditRetention is how long offer history is kept.
func (c *Config) AuditRetention() time.Duration {
	if c.Audit.RetentionDays <= 0 {
		return 31 * 24 * time.Hour
	}
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Redis.Address != ""
}
