// Package config loads server configuration. Defaults are overlaid by the
// YAML file named in CONSENT_CONFIG_FILE (if any), then by environment
// variables, so an operator can pin a file and still override single values.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerAlgod  = "algod"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string        `yaml:"addr"`
	Environment string        `yaml:"environment"`
	LogLevel    string        `yaml:"log_level"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBodySize int64         `yaml:"max_body_size"`
	TrustProxy  bool          `yaml:"trust_proxy"`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Consent  ConsentConfig  `yaml:"consent"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig backs the submission idempotency store. An empty URL keeps
// submissions in process memory.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig enables the kafka notification sink when Brokers is set.
type KafkaConfig struct {
	Brokers         string        `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	Acks            string        `yaml:"acks"`
	Retries         int           `yaml:"retries"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	// Partitions is used when the topic has to be created at startup.
	Partitions int `yaml:"partitions"`
}

type LedgerConfig struct {
	Mode              string        `yaml:"mode"`
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	AppID             uint64        `yaml:"app_id"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPolls          int           `yaml:"max_polls"`
	OptimisticAfter   int           `yaml:"optimistic_after"`
	SubmissionTTL     time.Duration `yaml:"submission_ttl"`
	// SignerSeeds are hex ed25519 seeds loaded into the dev keyring.
	SignerSeeds []string `yaml:"signer_seeds"`
}

type ConsentConfig struct {
	Store           string `yaml:"store"`
	SQLitePath      string `yaml:"sqlite_path"`
	FieldKeyHex     string `yaml:"field_key"`
	ViewLogging     bool   `yaml:"view_logging"`
	BulkConcurrency int    `yaml:"bulk_concurrency"`
	AuditBuffer     int    `yaml:"audit_buffer"`
	NotifyBuffer    int    `yaml:"notify_buffer"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the development configuration: everything in memory.
func Default() Server {
	return Server{
		Addr:        ":8080",
		Environment: "development",
		LogLevel:    "info",
		Timeout:     90 * time.Second,
		MaxBodySize: 64 * 1024,
		Auth: AuthConfig{
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "consentledger",
			Audience:      "consentledger-api",
			TokenTTL:      15 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:           "consent.lifecycle",
			Acks:            "all",
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
			Partitions:      3,
		},
		Ledger: LedgerConfig{
			Mode:              LedgerMemory,
			AppID:             1001,
			RequestsPerSecond: 20,
			RequestTimeout:    10 * time.Second,
			PollInterval:      time.Second,
			MaxPolls:          30,
			OptimisticAfter:   5,
			SubmissionTTL:     24 * time.Hour,
		},
		Consent: ConsentConfig{
			Store:           StoreMemory,
			SQLitePath:      "consentledger.db",
			BulkConcurrency: 4,
			AuditBuffer:     1024,
			NotifyBuffer:    256,
		},
	}
}

// FromEnv builds a Server config from the optional file and environment
// variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Default()
	if path := os.Getenv("CONSENT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Server{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Server) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Server) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key+": "+err.Error())
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key+": "+err.Error())
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("CONSENT_ADDR", &c.Addr)
	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.LogLevel)
	dur("HTTP_TIMEOUT", &c.Timeout)
	flag("TRUST_PROXY", &c.TrustProxy)

	str("JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("JWT_AUDIENCE", &c.Auth.Audience)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)

	str("DATABASE_URL", &c.Database.URL)
	num("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	num("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)

	str("REDIS_URL", &c.Redis.URL)
	num("REDIS_POOL_SIZE", &c.Redis.PoolSize)

	str("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_ACKS", &c.Kafka.Acks)
	num("KAFKA_PARTITIONS", &c.Kafka.Partitions)

	str("LEDGER_MODE", &c.Ledger.Mode)
	str("LEDGER_URL", &c.Ledger.URL)
	str("LEDGER_TOKEN", &c.Ledger.Token)
	if v, ok := os.LookupEnv("LEDGER_APP_ID"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, "LEDGER_APP_ID: "+err.Error())
		} else {
			c.Ledger.AppID = n
		}
	}
	dur("LEDGER_POLL_INTERVAL", &c.Ledger.PollInterval)
	num("LEDGER_MAX_POLLS", &c.Ledger.MaxPolls)
	num("LEDGER_OPTIMISTIC_AFTER", &c.Ledger.OptimisticAfter)
	if v, ok := os.LookupEnv("LEDGER_SIGNER_SEEDS"); ok && v != "" {
		c.Ledger.SignerSeeds = splitList(v)
	}

	str("CONSENT_STORE", &c.Consent.Store)
	str("CONSENT_SQLITE_PATH", &c.Consent.SQLitePath)
	str("CONSENT_FIELD_KEY", &c.Consent.FieldKeyHex)
	flag("CONSENT_VIEW_LOGGING", &c.Consent.ViewLogging)
	num("CONSENT_BULK_CONCURRENCY", &c.Consent.BulkConcurrency)

	flag("TRACING_ENABLED", &c.Tracing.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate rejects combinations the server cannot start with.
func (c Server) Validate() error {
	switch c.Consent.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("consent store %q requires DATABASE_URL", c.Consent.Store)
		}
	case StoreSQLite:
		if _, err := c.FieldKey(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown consent store %q", c.Consent.Store)
	}
	switch c.Ledger.Mode {
	case LedgerMemory:
	case LedgerAlgod:
		if c.Ledger.URL == "" {
			return fmt.Errorf("ledger mode %q requires LEDGER_URL", c.Ledger.Mode)
		}
	default:
		return fmt.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}
	if c.Ledger.MaxPolls <= 0 || c.Ledger.PollInterval <= 0 {
		return fmt.Errorf("ledger polling needs a positive interval and ceiling")
	}
	if c.Environment == "production" && c.Auth.JWTSigningKey == Default().Auth.JWTSigningKey {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
	}
	return nil
}

// FieldKey decodes the 32-byte sensitive-field key.
func (c Server) FieldKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.Consent.FieldKeyHex))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("CONSENT_FIELD_KEY must be 64 hex characters")
	}
	return key, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
