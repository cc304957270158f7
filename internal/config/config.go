package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Config captures the settings required to boot the monitoring scheduler.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Probers   ProbersConfig   `yaml:"probers"`
	Cache     CacheConfig     `yaml:"cache"`
	Sources   []models.Source `yaml:"sources"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	DataDirectory string        `yaml:"dataDirectory"`
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"pruneSchedule"`
}

// SchedulerConfig tunes the scheduling loop.
type SchedulerConfig struct {
	MinSleep       time.Duration `yaml:"minSleep"`
	MaxSleep       time.Duration `yaml:"maxSleep"`
	ErrorCooldown  time.Duration `yaml:"errorCooldown"`
	StopTimeout    time.Duration `yaml:"stopTimeout"`
	ProbeTimeout   time.Duration `yaml:"probeTimeout"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
	PatternWindow  int           `yaml:"patternWindow"`
}

// AlertsConfig configures the alerting collaborator.
type AlertsConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ProbersConfig carries connection settings shared by built-in probers.
type ProbersConfig struct {
	HTTP   HTTPProberConfig   `yaml:"http"`
	Consul ConsulProberConfig `yaml:"consul"`
	S3     S3ProberConfig     `yaml:"s3"`
}

// HTTPProberConfig configures the HTTP endpoint prober.
type HTTPProberConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConsulProberConfig configures the Consul service health prober.
type ConsulProberConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// S3ProberConfig configures the object storage prober.
type S3ProberConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// CacheConfig controls caching of status summaries.
type CacheConfig struct {
	StatusTTL time.Duration `yaml:"statusTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
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
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8090",
			GRPCAddress:     ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store: StoreConfig{
			Driver:        "duckdb",
			DataDirectory: ".data",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@every 1h",
		},
		Scheduler: SchedulerConfig{
			MinSleep:      5 * time.Second,
			MaxSleep:      time.Minute,
			ErrorCooldown: time.Minute,
			StopTimeout:   30 * time.Second,
			PatternWindow: 20,
		},
		Alerts:  AlertsConfig{Timeout: 5 * time.Second},
		Probers: ProbersConfig{HTTP: HTTPProberConfig{Timeout: 10 * time.Second}},
		Cache:   CacheConfig{StatusTTL: 2 * time.Second},
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "duckdb":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.MinSleep <= 0 {
		c.Scheduler.MinSleep = time.Second
	}
	if c.Scheduler.MaxSleep < c.Scheduler.MinSleep {
		c.Scheduler.MaxSleep = c.Scheduler.MinSleep
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return errors.New("scheduler.maxConcurrency must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("source %d is missing id", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("source %s is declared more than once", src.ID)
		}
		seen[src.ID] = struct{}{}
		if !src.Type.Valid() {
			return fmt.Errorf("source %s has unknown type %q", src.ID, src.Type)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTINEL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_DATA_DIR"); v != "" {
		cfg.Store.DataDirectory = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Retention = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxConcurrency = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.ProbeTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_SLEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.MaxSleep = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ALERT_WEBHOOK"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CONSUL_ADDR"); v != "" {
		cfg.Probers.Consul.Address = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CONSUL_TOKEN"); v != "" {
		cfg.Probers.Consul.Token = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_S3_ENDPOINT"); v != "" {
		cfg.Probers.S3.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_S3_ACCESS_KEY"); v != "" {
		cfg.Probers.S3.AccessKey = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_S3_SECRET_KEY"); v != "" {
		cfg.Probers.S3.SecretKey = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_S3_SSL"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Probers.S3.UseSSL = true
	}
}
