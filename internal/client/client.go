// Package client is the mail protocol client. Every call opens a fresh
// connection, writes one request, reads one response and hangs up.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/protocol"
)

// DefaultAddr is the server address used when none is configured.
const DefaultAddr = "localhost:8080"

const defaultTimeout = 5 * time.Second

// ErrNoConnection reports that the server could not be reached or the
// exchange broke off. Callers treat it as "not connected".
var ErrNoConnection = errors.New(protocol.MsgConnectionError)

// ServerError is an ERROR response from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Config holds the configuration for a Client.
type Config struct {
	// Addr is the server host:port.
	Addr string

	// Timeout bounds dialing and the whole request/response exchange.
	Timeout time.Duration
}

// Client talks to a mail server. It holds no connection between calls and
// is safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		addr:    cfg.Addr,
		timeout: cfg.Timeout,
		dialer:  net.Dialer{Timeout: cfg.Timeout},
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// ValidateEmail asks whether addr is a provisioned account. A *ServerError
// means it is not.
func (c *Client) ValidateEmail(ctx context.Context, addr string) error {
	_, err := c.call(ctx, protocol.Request{Command: protocol.ValidateEmail, Payload: addr})
	return err
}

// SendEmail submits msg for delivery.
func (c *Client) SendEmail(ctx context.Context, msg *email.Email) error {
	payload, err := email.Encode(msg)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, protocol.Request{Command: protocol.SendEmail, Payload: payload})
	return err
}

// GetEmails returns the received messages of addr from position fromIndex.
func (c *Client) GetEmails(ctx context.Context, addr string, fromIndex int) ([]email.Email, error) {
	args := protocol.GetEmailsArgs{Address: addr, FromIndex: fromIndex}
	return c.list(ctx, protocol.Request{Command: protocol.GetEmails, Payload: args.Encode()})
}

// GetSentEmails returns the sent log of addr.
func (c *Client) GetSentEmails(ctx context.Context, addr string) ([]email.Email, error) {
	return c.list(ctx, protocol.Request{Command: protocol.GetSentEmails, Payload: addr})
}

// DeleteEmail removes message id from the sent or received log of addr.
func (c *Client) DeleteEmail(ctx context.Context, addr, id string, isSent bool) error {
	args := protocol.DeleteEmailArgs{Address: addr, ID: id, IsSent: isSent}
	_, err := c.call(ctx, protocol.Request{Command: protocol.DeleteEmail, Payload: args.Encode()})
	return err
}

// Ping checks that the server accepts connections.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	return conn.Close()
}

func (c *Client) list(ctx context.Context, req protocol.Request) ([]email.Email, error) {
	payload, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	list, err := email.DecodeList(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command, err)
	}
	return list, nil
}

// call performs one request/response exchange and returns the OK payload.
func (c *Client) call(ctx context.Context, req protocol.Request) (string, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	// Cancelling ctx unblocks a pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := io.WriteString(conn, req.String()+"\n"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoConnection, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("%w: %v", ErrNoConnection, err)
	}

	resp, err := protocol.ParseResponse(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", &ServerError{Message: resp.Payload}
	}
	return resp.Payload, nil
}
