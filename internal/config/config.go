// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail server and client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendRedis  = "redis"
)

// Notification providers. The empty string disables notifications.
const (
	ProviderNone   = ""
	ProviderStdout = "stdout"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
)

// DefaultAccounts are provisioned when no account list is configured.
var DefaultAccounts = []string{"cl16@mail.com", "mv33@mail.com", "op81@mail.com"}

// Config holds the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds mail server configuration.
type ServerConfig struct {
	Listen      string        `yaml:"listen"`
	Accounts    []string      `yaml:"accounts"`
	AdminListen string        `yaml:"admin_listen"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	Backend    string      `yaml:"backend"`
	Dir        string      `yaml:"dir"`
	SQLitePath string      `yaml:"sqlite_path"`
	S3         S3Config    `yaml:"s3"`
	Redis      RedisConfig `yaml:"redis"`
}

// S3Config holds S3 snapshot backend settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig holds Redis snapshot backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NotifyConfig holds delivery notification settings.
type NotifyConfig struct {
	Provider string      `yaml:"provider"`
	SES      SESConfig   `yaml:"ses"`
	Graph    GraphConfig `yaml:"graph"`

	// Forward maps an account to the external address that is told about
	// new mail. YAML only.
	Forward map[string]string `yaml:"forward"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph app registration settings.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ClientConfig holds mail client configuration.
type ClientConfig struct {
	ServerAddr     string        `yaml:"server_addr"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.Notify.SES.Region != "" && c.Notify.SES.Sender != ""
}

// GraphConfigured returns true if every Graph credential and the sender
// mailbox are set.
func (c *Config) GraphConfigured() bool {
	g := c.Notify.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// S3Configured returns true if the S3 bucket and region are set.
func (c *Config) S3Configured() bool {
	return c.Storage.S3.Bucket != "" && c.Storage.S3.Region != ""
}

// Validate reports every configuration problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Server.Accounts) == 0 {
		errs = append(errs, errors.New("server.accounts must not be empty"))
	}
	for _, a := range c.Server.Accounts {
		if !email.ValidAddressFormat(a) {
			errs = append(errs, fmt.Errorf("server.accounts: invalid address %q", a))
		}
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case BackendS3:
		if !c.S3Configured() {
			errs = append(errs, errors.New("storage.s3.bucket and storage.s3.region are required for the s3 backend"))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Notify.Provider {
	case ProviderNone, ProviderStdout:
	case ProviderSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("notify.ses.region and notify.ses.sender are required for the ses provider"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("notify.graph tenant_id, client_id, client_secret and sender are required for the graph provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify provider %q", c.Notify.Provider))
	}

	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Client.SyncInterval <= 0 || c.Client.HealthInterval <= 0 || c.Client.DialTimeout <= 0 {
		errs = append(errs, errors.New("client intervals and timeouts must be positive"))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Listen = ":8080"
	c.Server.Accounts = append([]string(nil), DefaultAccounts...)
	c.Server.ReadTimeout = 30 * time.Second

	c.Storage.Backend = BackendFile
	c.Storage.Dir = "maildata"
	c.Storage.SQLitePath = "maildata/mail.db"
	c.Storage.Redis.Prefix = "mail:"

	c.Client.ServerAddr = "localhost:8080"
	c.Client.SyncInterval = 5 * time.Second
	c.Client.HealthInterval = 10 * time.Second
	c.Client.DialTimeout = 5 * time.Second

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("MAIL_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("MAIL_ACCOUNTS"); v != "" {
		c.Server.Accounts = splitList(v)
	}
	if v := os.Getenv("MAIL_ADMIN_LISTEN"); v != "" {
		c.Server.AdminListen = v
	}
	setDuration(&c.Server.ReadTimeout, "MAIL_READ_TIMEOUT")

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("STORAGE_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Storage.S3.Bucket = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		c.Storage.S3.Prefix = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		c.Storage.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		c.Storage.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.S3.SecretAccessKey = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Storage.Redis.DB = db
		}
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		c.Storage.Redis.Prefix = v
	}

	if v := os.Getenv("NOTIFY_PROVIDER"); v != "" {
		c.Notify.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SES_REGION"); v != "" {
		c.Notify.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.Notify.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.Notify.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.Notify.SES.Sender = v
	}
	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Notify.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Notify.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Notify.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Notify.Graph.Sender = v
	}

	if v := os.Getenv("MAIL_SERVER_ADDR"); v != "" {
		c.Client.ServerAddr = v
	}
	setDuration(&c.Client.SyncInterval, "MAIL_SYNC_INTERVAL")
	setDuration(&c.Client.HealthInterval, "MAIL_HEALTH_INTERVAL")
	setDuration(&c.Client.DialTimeout, "MAIL_DIAL_TIMEOUT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// setDuration overrides *d from env var key when it holds a valid duration.
// Invalid values are ignored.
func setDuration(d *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		*d = parsed
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
