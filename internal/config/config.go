package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/qr_order/internal/pricing"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	BackendURL      string        `yaml:"backend_url"`
	BackendTimeout  time.Duration `yaml:"backend_timeout"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CartStore       string        `yaml:"cart_store"`
	CartTTL         time.Duration `yaml:"cart_ttl"`
	SessionIdleTTL  time.Duration `yaml:"session_idle_ttl"`
	TipBasis        string        `yaml:"tip_basis"`
	LogLevel        string        `yaml:"log_level"`

	Redis    Redis    `yaml:"redis"`
	Mongo    Mongo    `yaml:"mongo"`
	Postgres Postgres `yaml:"postgres"`
	Kafka    Kafka    `yaml:"kafka"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Mongo struct {
	URI    string `yaml:"uri"`
	DBName string `yaml:"db_name"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Kafka publishing is off when Brokers is empty.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func Default() *Config {
	return &Config{
		HTTPPort:        "8080",
		GRPCPort:        "50060",
		BackendURL:      "http://localhost:5000",
		BackendTimeout:  10 * time.Second,
		SubmitTimeout:   20 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CartStore:       StoreMemory,
		CartTTL:         24 * time.Hour,
		SessionIdleTTL:  2 * time.Hour,
		TipBasis:        string(pricing.TipOnTotal),
		LogLevel:        "info",
		Redis:           Redis{Addr: "localhost:6379"},
		Mongo:           Mongo{URI: "mongodb://localhost:27017", DBName: "qr_order"},
		Postgres:        Postgres{Host: "localhost", Port: "5432", User: "postgres", Password: "postgres", Name: "qr_order"},
		Kafka:           Kafka{Topic: "table-orders"},
	}
}

// Load builds the config from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.CartStore = strings.ToLower(getEnv("CART_STORE", c.CartStore))
	c.TipBasis = getEnv("PRICING_TIP_BASIS", c.TipBasis)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.DBName = getEnv("MONGO_DB_NAME", c.Mongo.DBName)
	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnv("DB_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.Name = getEnv("DB_NAME", c.Postgres.Name)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}

	var errs []error
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		}
		c.Redis.DB = db
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKEND_TIMEOUT", &c.BackendTimeout},
		{"SUBMIT_TIMEOUT", &c.SubmitTimeout},
		{"REQUEST_TIMEOUT", &c.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"CART_TTL", &c.CartTTL},
		{"SESSION_IDLE_TTL", &c.SessionIdleTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = parsed
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.CartStore {
	case StoreMemory, StoreRedis, StoreMongo, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown cart store %q", c.CartStore))
	}
	if _, err := pricing.ParseTipBasis(c.TipBasis); err != nil {
		errs = append(errs, err)
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend url is required"))
	}
	for name, d := range map[string]time.Duration{
		"backend timeout":  c.BackendTimeout,
		"submit timeout":   c.SubmitTimeout,
		"request timeout":  c.RequestTimeout,
		"shutdown timeout": c.ShutdownTimeout,
		"cart ttl":         c.CartTTL,
		"session idle ttl": c.SessionIdleTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// TipPolicy returns the pricing policy for the configured tip basis.
func (c *Config) TipPolicy() pricing.Policy {
	basis, err := pricing.ParseTipBasis(c.TipBasis)
	if err != nil {
		return pricing.DefaultPolicy()
	}
	return pricing.Policy{TipBasis: basis}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
