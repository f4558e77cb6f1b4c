// Package server accepts mail protocol connections and answers exactly one
// request on each.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// defaultReadTimeout bounds how long a client may take to send its request.
const defaultReadTimeout = 30 * time.Second

// maxRequestSize caps a single request line.
const maxRequestSize = 4 * 1024 * 1024

// Config holds the configuration for a Server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// ReadTimeout bounds reading the request line and writing the response.
	ReadTimeout time.Duration
}

// Server accepts TCP connections and runs one Handler pass per connection.
type Server struct {
	config  Config
	handler *Handler

	mu       sync.Mutex
	listener net.Listener
	stopped  atomic.Bool

	// wg tracks in-flight connection goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a Server that answers requests against mailboxes.
func New(cfg Config, mailboxes Mailboxes) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Server{
		config:  cfg,
		handler: NewHandler(mailboxes),
	}
}

// Listen binds the listening socket. Failing to bind is the only fatal
// server error.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	port := ln.Addr().String()
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = fmt.Sprint(tcp.Port)
	}
	s.handler.mailboxes.AppendLog("Server in ascolto sulla porta " + port)
	slog.Info("mail server listening", "addr", ln.Addr().String())
	return nil
}

// ListenAndServe binds the socket and serves until ctx is cancelled or Stop
// is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the socket bound by Listen. On shutdown it
// stops accepting and waits up to 30 seconds for in-flight requests.
// @MX:WARN: [AUTO] Goroutine spawned per connection without explicit limit
// @MX:REASON: Each connection carries a single short request
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	// Monitor context for shutdown
	stopMonitor := make(chan struct{})
	defer close(stopMonitor)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopMonitor:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				// Expected error from listener close during shutdown
				s.waitForConnections()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Stop closes the listening socket, making Serve return. It is safe to call
// more than once.
func (s *Server) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	slog.Info("shutting down mail server")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			slog.Debug("listener close", "error", err)
		}
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// serveConn reads one request line, answers it and closes the connection.
// I/O errors only affect this connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.handler.mailboxes.AppendLog("Nuova connessione da: " + remote)
	defer func() {
		conn.Close()
		s.handler.mailboxes.AppendLog("Connessione chiusa con: " + remote)
	}()

	if err := conn.SetDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		slog.Error("failed to set connection deadline", "error", err)
		return
	}

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestSize))
	line, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		// Health probes connect and hang up without a request.
		if err != io.EOF {
			slog.Debug("connection read error", "remote", remote, "error", err)
			s.handler.mailboxes.AppendLog("Errore nella comunicazione con il client: " + err.Error())
		}
		return
	}

	// A blank line is answered as an unknown command.
	line = strings.TrimRight(line, "\r\n")
	response := s.handler.Handle(ctx, line)
	if _, err := io.WriteString(conn, response+"\n"); err != nil {
		slog.Debug("connection write error", "remote", remote, "error", err)
		s.handler.mailboxes.AppendLog("Errore nella comunicazione con il client: " + err.Error())
	}
}

// waitForConnections waits for all in-flight connections to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForConnections() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all connections completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}
