package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"MAIL_LISTEN", "MAIL_ACCOUNTS", "MAIL_ADMIN_LISTEN", "MAIL_READ_TIMEOUT",
	"STORAGE_BACKEND", "STORAGE_DIR", "STORAGE_SQLITE_PATH",
	"S3_BUCKET", "S3_PREFIX", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
	"NOTIFY_PROVIDER", "SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"MAIL_SERVER_ADDR", "MAIL_SYNC_INTERVAL", "MAIL_HEALTH_INTERVAL", "MAIL_DIAL_TIMEOUT",
	"LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":8080" {
		t.Errorf("Server.Listen: got %q, want %q", cfg.Server.Listen, ":8080")
	}
	if strings.Join(cfg.Server.Accounts, ",") != "cl16@mail.com,mv33@mail.com,op81@mail.com" {
		t.Errorf("Server.Accounts: got %v", cfg.Server.Accounts)
	}
	if cfg.Server.AdminListen != "" {
		t.Errorf("Server.AdminListen: got %q, want empty", cfg.Server.AdminListen)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Server.ReadTimeout: got %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("Storage.Backend: got %q, want %q", cfg.Storage.Backend, BackendFile)
	}
	if cfg.Storage.Dir != "maildata" {
		t.Errorf("Storage.Dir: got %q, want %q", cfg.Storage.Dir, "maildata")
	}
	if cfg.Notify.Provider != ProviderNone {
		t.Errorf("Notify.Provider: got %q, want empty", cfg.Notify.Provider)
	}
	if cfg.Client.ServerAddr != "localhost:8080" {
		t.Errorf("Client.ServerAddr: got %q, want %q", cfg.Client.ServerAddr, "localhost:8080")
	}
	if cfg.Client.SyncInterval != 5*time.Second {
		t.Errorf("Client.SyncInterval: got %v, want 5s", cfg.Client.SyncInterval)
	}
	if cfg.Client.HealthInterval != 10*time.Second {
		t.Errorf("Client.HealthInterval: got %v, want 10s", cfg.Client.HealthInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_DefaultAccountsAreACopy(t *testing.T) {
	clearEnv(t)

	cfg, _ := Load()
	cfg.Server.Accounts[0] = "changed@mail.com"

	if DefaultAccounts[0] != "cl16@mail.com" {
		t.Error("mutating a loaded config changed the package defaults")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL_LISTEN", ":9090")
	t.Setenv("MAIL_ACCOUNTS", " a@x.com, b@x.com ,,")
	t.Setenv("MAIL_ADMIN_LISTEN", ":9091")
	t.Setenv("MAIL_READ_TIMEOUT", "2s")
	t.Setenv("STORAGE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_PREFIX", "test:")
	t.Setenv("NOTIFY_PROVIDER", "SES")
	t.Setenv("SES_REGION", "us-east-1")
	t.Setenv("SES_SENDER", "ses@example.com")
	t.Setenv("MAIL_SERVER_ADDR", "mail.internal:8080")
	t.Setenv("MAIL_SYNC_INTERVAL", "1s")
	t.Setenv("MAIL_HEALTH_INTERVAL", "3s")
	t.Setenv("MAIL_DIAL_TIMEOUT", "500ms")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("Server.Listen: got %q", cfg.Server.Listen)
	}
	if strings.Join(cfg.Server.Accounts, ",") != "a@x.com,b@x.com" {
		t.Errorf("Server.Accounts: got %v", cfg.Server.Accounts)
	}
	if cfg.Server.AdminListen != ":9091" {
		t.Errorf("Server.AdminListen: got %q", cfg.Server.AdminListen)
	}
	if cfg.Server.ReadTimeout != 2*time.Second {
		t.Errorf("Server.ReadTimeout: got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Backend != BackendRedis {
		t.Errorf("Storage.Backend: got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.Addr != "localhost:6379" || cfg.Storage.Redis.DB != 3 || cfg.Storage.Redis.Prefix != "test:" {
		t.Errorf("Storage.Redis: got %+v", cfg.Storage.Redis)
	}
	if cfg.Notify.Provider != ProviderSES {
		t.Errorf("Notify.Provider: got %q", cfg.Notify.Provider)
	}
	if cfg.Client.ServerAddr != "mail.internal:8080" {
		t.Errorf("Client.ServerAddr: got %q", cfg.Client.ServerAddr)
	}
	if cfg.Client.SyncInterval != time.Second || cfg.Client.HealthInterval != 3*time.Second {
		t.Errorf("Client intervals: got %v / %v", cfg.Client.SyncInterval, cfg.Client.HealthInterval)
	}
	if cfg.Client.DialTimeout != 500*time.Millisecond {
		t.Errorf("Client.DialTimeout: got %v", cfg.Client.DialTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoad_InvalidNumbersKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL_SYNC_INTERVAL", "soon")
	t.Setenv("REDIS_DB", "three")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Invalid value should be ignored, keeping the default
	if cfg.Client.SyncInterval != 5*time.Second {
		t.Errorf("Client.SyncInterval: got %v, want 5s", cfg.Client.SyncInterval)
	}
	if cfg.Storage.Redis.DB != 0 {
		t.Errorf("Storage.Redis.DB: got %d, want 0", cfg.Storage.Redis.DB)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	yamlContent := `
server:
  listen: ":7070"
  accounts:
    - "a@x.com"
    - "b@x.com"
  read_timeout: 10s
storage:
  backend: sqlite
  sqlite_path: "/var/lib/mail/mail.db"
notify:
  provider: stdout
  forward:
    a@x.com: "alice@example.org"
client:
  sync_interval: 2s
logging:
  level: warn
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":7070" {
		t.Errorf("Server.Listen: got %q", cfg.Server.Listen)
	}
	if strings.Join(cfg.Server.Accounts, ",") != "a@x.com,b@x.com" {
		t.Errorf("Server.Accounts: got %v", cfg.Server.Accounts)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout: got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.SQLitePath != "/var/lib/mail/mail.db" {
		t.Errorf("Storage: got %+v", cfg.Storage)
	}
	if cfg.Notify.Forward["a@x.com"] != "alice@example.org" {
		t.Errorf("Notify.Forward: got %v", cfg.Notify.Forward)
	}
	if cfg.Client.SyncInterval != 2*time.Second {
		t.Errorf("Client.SyncInterval: got %v", cfg.Client.SyncInterval)
	}
	// Unset YAML fields keep their defaults.
	if cfg.Client.HealthInterval != 10*time.Second {
		t.Errorf("Client.HealthInterval: got %v, want default 10s", cfg.Client.HealthInterval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q", cfg.Logging.Level)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	yamlContent := `
server:
  listen: ":7070"
storage:
  dir: "/yaml/data"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("MAIL_LISTEN", ":6060")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":6060" {
		t.Errorf("Server.Listen: got %q, want %q (env should override YAML)", cfg.Server.Listen, ":6060")
	}
	if cfg.Storage.Dir != "/yaml/data" {
		t.Errorf("Storage.Dir: got %q, want %q (empty env should not override YAML)", cfg.Storage.Dir, "/yaml/data")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestSESConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ses    SESConfig
		expect bool
	}{
		{
			name:   "region and sender set",
			ses:    SESConfig{Region: "us-east-1", Sender: "ses@example.com"},
			expect: true,
		},
		{
			name:   "all fields set",
			ses:    SESConfig{Region: "us-east-1", AccessKeyID: "key", SecretAccessKey: "secret", Sender: "ses@example.com"},
			expect: true,
		},
		{
			name:   "missing region",
			ses:    SESConfig{Sender: "ses@example.com"},
			expect: false,
		},
		{
			name:   "missing sender",
			ses:    SESConfig{Region: "us-east-1"},
			expect: false,
		},
		{
			name:   "none set",
			ses:    SESConfig{},
			expect: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Notify: NotifyConfig{SES: tt.ses}}
			if got := cfg.SESConfigured(); got != tt.expect {
				t.Errorf("SESConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestS3Configured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s3     S3Config
		expect bool
	}{
		{name: "bucket and region", s3: S3Config{Bucket: "mail", Region: "eu-west-1"}, expect: true},
		{name: "custom endpoint", s3: S3Config{Bucket: "mail", Region: "us-east-1", Endpoint: "http://minio:9000"}, expect: true},
		{name: "missing bucket", s3: S3Config{Region: "eu-west-1"}, expect: false},
		{name: "missing region", s3: S3Config{Bucket: "mail"}, expect: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Storage: StorageConfig{S3: tt.s3}}
			if got := cfg.S3Configured(); got != tt.expect {
				t.Errorf("S3Configured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestGraphConfigured(t *testing.T) {
	t.Setenv("GRAPH_TENANT_ID", "tenant")
	t.Setenv("GRAPH_CLIENT_ID", "client")
	t.Setenv("GRAPH_CLIENT_SECRET", "secret")
	t.Setenv("GRAPH_SENDER", "noreply@example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.GraphConfigured() {
		t.Errorf("GraphConfigured(): got false with every GRAPH_* variable set, config %+v", cfg.Notify.Graph)
	}

	cfg.Notify.Graph.ClientSecret = ""
	if cfg.GraphConfigured() {
		t.Error("GraphConfigured(): got true without a client secret")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no accounts", mutate: func(c *Config) { c.Server.Accounts = nil }, wantErr: "server.accounts must not be empty"},
		{name: "malformed account", mutate: func(c *Config) { c.Server.Accounts = []string{"nobody"} }, wantErr: `invalid address "nobody"`},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "tape" }, wantErr: `unknown storage backend "tape"`},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendS3 }, wantErr: "storage.s3.bucket"},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage.Backend = BackendRedis }, wantErr: "storage.redis.addr"},
		{name: "unknown provider", mutate: func(c *Config) { c.Notify.Provider = "pigeon" }, wantErr: `unknown notify provider "pigeon"`},
		{name: "ses without sender", mutate: func(c *Config) { c.Notify.Provider = ProviderSES }, wantErr: "notify.ses.region"},
		{name: "graph without secret", mutate: func(c *Config) {
			c.Notify.Provider = ProviderGraph
			c.Notify.Graph = GraphConfig{TenantID: "t", ClientID: "c", Sender: "noreply@example.org"}
		}, wantErr: "notify.graph"},
		{name: "zero interval", mutate: func(c *Config) { c.Client.SyncInterval = 0 }, wantErr: "client intervals"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(): got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
