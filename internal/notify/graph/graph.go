// Package graph implements a Notifier that sends notices through the
// Microsoft Graph sendMail endpoint using OAuth2 client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/V3R0N1C4/MailSystem/internal/notify"
)

const maxRetries = 3

// baseRetryDelay is the first backoff step; it doubles on each retry.
var baseRetryDelay = 1 * time.Second

// Config holds the app registration used to reach Graph.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Notifier posts notices as mail from a Graph mailbox.
type Notifier struct {
	sendURL    string
	httpClient *http.Client
	tokens     *tokenSource
}

// New creates a Notifier for the public Graph endpoints.
func New(cfg Config) *Notifier {
	tokenURL := "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	sendURL := "https://graph.microsoft.com/v1.0/users/" + url.PathEscape(cfg.Sender) + "/sendMail"
	return newWithEndpoints(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithEndpoints(cfg Config, sendURL, tokenURL string, client *http.Client) *Notifier {
	return &Notifier{
		sendURL:    sendURL,
		httpClient: client,
		tokens:     newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Name returns the notifier name.
func (n *Notifier) Name() string {
	return "msgraph"
}

// Notify sends one notice. Throttling and server errors are retried with
// backoff, honouring Retry-After. A 401 invalidates the cached token and
// retries once without waiting.
func (n *Notifier) Notify(ctx context.Context, notice notify.Notice) error {
	payload, err := json.Marshal(newSendMailRequest(notice))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	reauthed := false
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := n.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var he *httpError
		if !errors.As(err, &he) {
			return err
		}

		var wait time.Duration
		switch {
		case he.status == http.StatusUnauthorized && !reauthed:
			slog.Info("graph token rejected, fetching a new one")
			n.tokens.Invalidate()
			reauthed = true
			continue
		case he.status == http.StatusTooManyRequests:
			wait = retryAfter(he.retryAfter, attempt)
		case he.status == 0 || he.status >= 500:
			wait = backoffDelay(attempt)
		default:
			return he
		}

		if attempt == maxRetries {
			break
		}
		slog.Warn("graph request failed, retrying",
			"status", he.status,
			"attempt", attempt+1,
			"delay", wait,
		)
		if err := sleepWithContext(ctx, wait); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return fmt.Errorf("graph request failed after %d retries: %w", maxRetries, lastErr)
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	token, err := n.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &httpError{message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := string(raw)
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	return &httpError{
		status:     resp.StatusCode,
		message:    message,
		retryAfter: resp.Header.Get("Retry-After"),
	}
}

// httpError is a failed sendMail call. A zero status means the request
// never got a response.
type httpError struct {
	status     int
	message    string
	retryAfter string
}

func (e *httpError) Error() string {
	if e.status == 0 {
		return "graph request failed: " + e.message
	}
	return fmt.Sprintf("graph API error (HTTP %d): %s", e.status, e.message)
}

func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return backoffDelay(attempt)
}

func backoffDelay(attempt int) time.Duration {
	return baseRetryDelay << attempt
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
