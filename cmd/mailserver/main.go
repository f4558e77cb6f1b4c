// Package main is the entry point for the mail server.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/V3R0N1C4/MailSystem/internal/admin"
	"github.com/V3R0N1C4/MailSystem/internal/config"
	"github.com/V3R0N1C4/MailSystem/internal/notify"
	"github.com/V3R0N1C4/MailSystem/internal/notify/graph"
	"github.com/V3R0N1C4/MailSystem/internal/notify/ses"
	"github.com/V3R0N1C4/MailSystem/internal/notify/stdout"
	"github.com/V3R0N1C4/MailSystem/internal/registry"
	"github.com/V3R0N1C4/MailSystem/internal/server"
	"github.com/V3R0N1C4/MailSystem/internal/store"
	"github.com/V3R0N1C4/MailSystem/internal/store/file"
	redisstore "github.com/V3R0N1C4/MailSystem/internal/store/redis"
	s3store "github.com/V3R0N1C4/MailSystem/internal/store/s3"
	"github.com/V3R0N1C4/MailSystem/internal/store/sqlite"
)

// noticeDrainTimeout bounds the wait for pending delivery notices on exit.
const noticeDrainTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	backend, closer, err := selectBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage backend", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	notifier, err := selectNotifier(ctx, cfg)
	if err != nil {
		slog.Error("failed to create notifier", "provider", cfg.Notify.Provider, "error", err)
		os.Exit(1)
	}

	reg := registry.New(cfg.Server.Accounts, registry.Options{
		Store:    store.New(backend),
		Notifier: notifier,
		Forward:  cfg.Notify.Forward,
	})
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load mailboxes", "error", err)
		os.Exit(1)
	}
	defer reg.Close(noticeDrainTimeout)

	srv := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, reg)

	// Binding the port is the one fatal runtime error.
	if err := srv.Listen(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("starting mailserver",
		"listen", srv.Addr(),
		"accounts", len(cfg.Server.Accounts),
		"storage", backend.Name(),
		"admin", cfg.Server.AdminListen,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	if cfg.Server.AdminListen != "" {
		adm := admin.New(reg)
		g.Go(func() error {
			return adm.Run(ctx, cfg.Server.AdminListen)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		reg.Close(noticeDrainTimeout)
		os.Exit(1)
	}

	slog.Info("mailserver stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectBackend opens the snapshot backend named in the configuration. The
// returned closer, when non-nil, releases the backend's connections.
func selectBackend(ctx context.Context, cfg *config.Config) (store.Backend, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		slog.Info("using sqlite storage", "path", cfg.Storage.SQLitePath)
		b, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil

	case config.BackendS3:
		slog.Info("using S3 storage",
			"bucket", cfg.Storage.S3.Bucket,
			"region", cfg.Storage.S3.Region,
			"endpoint", cfg.Storage.S3.Endpoint,
		)
		b, err := s3store.New(ctx, s3store.Config{
			Bucket:          cfg.Storage.S3.Bucket,
			Prefix:          cfg.Storage.S3.Prefix,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case config.BackendRedis:
		slog.Info("using redis storage", "addr", cfg.Storage.Redis.Addr, "db", cfg.Storage.Redis.DB)
		b, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil

	default:
		b, err := file.New(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using file storage", "dir", b.Dir())
		return b, nil, nil
	}
}

// selectNotifier chooses the delivery notification backend. A nil Notifier
// disables notices.
func selectNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Provider {
	case config.ProviderSES:
		slog.Info("using AWS SES notifier",
			"region", cfg.Notify.SES.Region,
			"sender", cfg.Notify.SES.Sender,
			"forwards", len(cfg.Notify.Forward),
		)
		n, err := ses.New(ctx, ses.Config{
			Region:          cfg.Notify.SES.Region,
			AccessKeyID:     cfg.Notify.SES.AccessKeyID,
			SecretAccessKey: cfg.Notify.SES.SecretAccessKey,
			Sender:          cfg.Notify.SES.Sender,
		})
		if err != nil {
			return nil, err
		}
		return n, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph notifier",
			"sender", cfg.Notify.Graph.Sender,
			"forwards", len(cfg.Notify.Forward),
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Notify.Graph.TenantID,
			ClientID:     cfg.Notify.Graph.ClientID,
			ClientSecret: cfg.Notify.Graph.ClientSecret,
			Sender:       cfg.Notify.Graph.Sender,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout notifier", "forwards", len(cfg.Notify.Forward))
		return stdout.New(), nil

	default:
		return nil, nil
	}
}
