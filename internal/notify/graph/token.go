package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// expiryMargin is subtracted from the advertised lifetime so a token is
// never presented in the last minutes before it lapses.
const expiryMargin = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

type tokenReply struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenSource fetches client-credentials tokens and caches the current one.
type tokenSource struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	mu      sync.Mutex
	current string
	expires time.Time
}

func newTokenSource(endpoint, clientID, clientSecret string, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Token returns the cached token or fetches a new one when it has lapsed.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && s.now().Before(s.expires) {
		return s.current, nil
	}
	return s.fetchLocked(ctx)
}

// Invalidate drops the cached token so the next Token call fetches again.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.current = ""
	s.expires = time.Time{}
	s.mu.Unlock()
}

func (s *tokenSource) fetchLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply tokenReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if reply.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	s.current = reply.AccessToken
	s.expires = s.now().Add(time.Duration(reply.ExpiresIn)*time.Second - expiryMargin)
	return s.current, nil
}
