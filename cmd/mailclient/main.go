// Package main is a headless mail client. It drives a session from the
// command line: watch a mailbox, list it, send or delete a message.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/V3R0N1C4/MailSystem/internal/client"
	"github.com/V3R0N1C4/MailSystem/internal/config"
	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/session"
)

const usage = `usage: mailclient [-config file] <command> [flags]

commands:
  watch  -user ADDR                      print mail as it arrives
  list   -user ADDR [-sent]              print the mailbox once
  send   -user ADDR -to A,B -subject S [-body B]
  delete -user ADDR -id ID [-sent]
`

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command\n" + usage)
	}

	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	user := fs.String("user", "", "account address")
	sent := fs.Bool("sent", false, "use the sent log")
	to := fs.String("to", "", "comma separated recipients")
	subject := fs.String("subject", "", "message subject")
	body := fs.String("body", "", "message body")
	id := fs.String("id", "", "message id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	api := client.New(client.Config{Addr: cfg.Client.ServerAddr, Timeout: cfg.Client.DialTimeout})
	s := session.New(api, session.Config{
		SyncInterval:   cfg.Client.SyncInterval,
		HealthInterval: cfg.Client.HealthInterval,
	})
	defer s.Shutdown()

	if err := s.Login(ctx, *user); err != nil {
		return fmt.Errorf("login as %s: %w", *user, err)
	}

	switch cmd {
	case "watch":
		return watch(ctx, s, out)

	case "list":
		list := s.Received()
		if *sent {
			list = s.Sent()
		}
		for _, m := range list {
			printMessage(out, m)
		}
		return nil

	case "send":
		msg, err := s.Send(ctx, strings.Split(*to, ","), *subject, *body)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "sent", msg.ID)
		return nil

	case "delete":
		if *id == "" {
			return errors.New("-id is required")
		}
		if err := s.Delete(ctx, *id, *sent); err != nil {
			return err
		}
		fmt.Fprintln(out, "deleted", *id)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// watch prints the current mailbox, then every new message and every
// connectivity change, until ctx is cancelled.
func watch(ctx context.Context, s *session.Session, out io.Writer) error {
	state := s.State()
	for _, m := range state.Received {
		printMessage(out, m)
	}
	seen := len(state.Received)
	connected := state.Connected

	cancel := s.Subscribe(func(st session.State) {
		if st.Connected != connected {
			connected = st.Connected
			if connected {
				fmt.Fprintln(out, "-- connected")
			} else {
				fmt.Fprintln(out, "--", client.ErrNoConnection)
			}
		}
		if len(st.Received) > seen {
			for _, m := range st.Received[seen:] {
				printMessage(out, m)
			}
		}
		seen = len(st.Received)
	})
	defer cancel()

	// Mail that arrived between login and subscribing shows up now rather
	// than on the next tick.
	s.Refresh()

	<-ctx.Done()
	return nil
}

func printMessage(out io.Writer, m email.Email) {
	fmt.Fprintf(out, "%s  %s\n", m.ID, m.String())
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger sends JSON logs to stderr so command output stays clean.
func setupLogger(level string) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
