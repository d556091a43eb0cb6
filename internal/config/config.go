package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// Config captures every setting required to boot the monitoring engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Events     EventsConfig     `yaml:"events"`
	Simulation SimulationConfig `yaml:"simulation"`
	Models     []models.Model   `yaml:"models"`
	API        APIConfig        `yaml:"api"`
}

// ServerConfig controls the gRPC listener and the HTTP gateway.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig points at an optional threshold table override.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend  string        `yaml:"backend"`
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig controls Redis-backed caching of the overview.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	OverviewTTL  time.Duration `yaml:"overviewTTL"`
	PatternsTTL  time.Duration `yaml:"patternsTTL"`
}

// EventsConfig selects where notifications are forwarded.
type EventsConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	Buffer  int    `yaml:"buffer"`
}

// SimulationConfig drives the built-in metric simulator.
type SimulationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// APIConfig controls listing page sizes.
type APIConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	AuditPageSize   int `yaml:"auditPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
}

// Load initialises Config from a YAML file and optional environment overrides.
// A .env file in the working directory is applied first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("MODELWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "mongo":
		if c.Storage.URI == "" {
			return fmt.Errorf("storage.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Events.Backend {
	case "", "none":
	case "redis", "nats":
		if c.Events.URL == "" {
			return fmt.Errorf("events.url is required for the %s backend", c.Events.Backend)
		}
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model entries require an id")
		}
		if !m.Type.Valid() {
			return fmt.Errorf("model %s has unknown type %q", m.ID, m.Type)
		}
	}
	if c.Simulation.Enabled && c.Simulation.Interval <= 0 {
		return fmt.Errorf("simulation.interval must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Storage: StorageConfig{
			Backend:  "memory",
			Database: "modelwatch",
			Timeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			OverviewTTL:  15 * time.Second,
			PatternsTTL:  10 * time.Minute,
		},
		Events: EventsConfig{Backend: "none", Prefix: "modelwatch", Buffer: 256},
		Simulation: SimulationConfig{
			Enabled:  false,
			Interval: 10 * time.Second,
		},
		API: APIConfig{DefaultPageSize: 20, AuditPageSize: 25, MaxPageSize: 50},
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MODELWATCH_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MODELWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MODELWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MODELWATCH_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MODELWATCH_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("MODELWATCH_MONGO_URI"); v != "" {
		cfg.Storage.URI = v
	}
	if v := os.Getenv("MODELWATCH_MONGO_DATABASE"); v != "" {
		cfg.Storage.Database = v
	}
	if v := os.Getenv("MODELWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("MODELWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MODELWATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MODELWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MODELWATCH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MODELWATCH_CACHE_TLS"); envBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MODELWATCH_CACHE_OVERVIEW_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.OverviewTTL = d
		}
	}
	if v := os.Getenv("MODELWATCH_CACHE_PATTERNS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.PatternsTTL = d
		}
	}
	if v := os.Getenv("MODELWATCH_EVENTS_BACKEND"); v != "" {
		cfg.Events.Backend = v
	}
	if v := os.Getenv("MODELWATCH_EVENTS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("MODELWATCH_SIMULATION_ENABLED"); v != "" {
		cfg.Simulation.Enabled = envBool(v)
	}
	if v := os.Getenv("MODELWATCH_SIMULATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulation.Interval = d
		}
	}
}
