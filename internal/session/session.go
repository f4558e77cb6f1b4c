// Package session is the client-side sync engine. It authenticates an
// account, mirrors its mailbox locally, keeps it fresh with a periodic sync
// and a connectivity probe, and reports every change to listeners through a
// Dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/V3R0N1C4/MailSystem/internal/client"
	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/protocol"
)

var (
	// ErrNotConnected is returned by actions attempted while the server is
	// unreachable.
	ErrNotConnected = errors.New(protocol.MsgNotConnected)

	// ErrNotLoggedIn is returned by actions that need an account.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrAlreadyLoggedIn is returned by Login on an active session.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrInvalidAddress reports a malformed email address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("session closed")
)

// Defaults for Config.
const (
	DefaultSyncInterval   = 5 * time.Second
	DefaultHealthInterval = 10 * time.Second
	defaultCallTimeout    = 10 * time.Second
)

// API is the server surface the session uses. *client.Client implements it.
type API interface {
	ValidateEmail(ctx context.Context, addr string) error
	SendEmail(ctx context.Context, msg *email.Email) error
	GetEmails(ctx context.Context, addr string, fromIndex int) ([]email.Email, error)
	GetSentEmails(ctx context.Context, addr string) ([]email.Email, error)
	DeleteEmail(ctx context.Context, addr, id string, isSent bool) error
	Ping(ctx context.Context) error
}

// Status is the session's position in its lifecycle.
type Status int

const (
	LoggedOut Status = iota
	Authenticating
	LoggedIn
)

func (s Status) String() string {
	switch s {
	case LoggedOut:
		return "logged out"
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged in"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is an immutable copy of everything a presentation layer shows.
type State struct {
	Status    Status
	UserEmail string
	Connected bool
	Received  []email.Email
	Sent      []email.Email
}

// Config holds the configuration for a Session.
type Config struct {
	SyncInterval   time.Duration
	HealthInterval time.Duration

	// CallTimeout bounds each server call made by the session.
	CallTimeout time.Duration

	// Dispatcher delivers listener notifications and async results. If nil,
	// the session runs its own SerialDispatcher.
	Dispatcher Dispatcher
}

// Session is a logged-in (or logging-in) mail client. All methods are safe
// for concurrent use.
type Session struct {
	api        API
	cfg        Config
	dispatcher Dispatcher
	ownsDisp   *SerialDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    Status
	userEmail string
	connected bool
	received  []email.Email
	sent      []email.Email
	lastIndex int
	gen       uint64
	closed    bool
	listeners map[int]func(State)
	nextID    int

	// Per-login loop control.
	stopCh    chan struct{}
	triggerCh chan struct{}
	loopStop  context.CancelFunc
	loops     sync.WaitGroup

	// syncMu keeps a sync tick and a delete from racing on lastIndex.
	syncMu sync.Mutex

	workers sync.WaitGroup
}

// New creates a logged-out session talking to api.
func New(api API, cfg Config) *Session {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	s := &Session{
		api:        api,
		cfg:        cfg,
		dispatcher: cfg.Dispatcher,
		listeners:  make(map[int]func(State)),
	}
	if s.dispatcher == nil {
		s.ownsDisp = NewSerialDispatcher()
		s.dispatcher = s.ownsDisp
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Subscribe registers fn to receive a State after every change. fn runs on
// the dispatcher. The returned function removes the listener.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UserEmail returns the logged-in address, or "".
func (s *Session) UserEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userEmail
}

// Connected reports the last known server reachability.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Received returns a copy of the local received view.
func (s *Session) Received() []email.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.received)
}

// Sent returns a copy of the local sent view.
func (s *Session) Sent() []email.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.sent)
}

// Login authenticates addr, loads its mailbox and starts background sync.
func (s *Session) Login(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	if !email.ValidAddressFormat(addr) {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.status != LoggedOut:
		s.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	s.status = Authenticating
	s.gen++
	gen := s.gen
	s.publishLocked()
	s.mu.Unlock()

	received, sent, err := s.authenticate(ctx, addr)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.status = LoggedOut
			s.connected = !errors.Is(err, client.ErrNoConnection)
			s.publishLocked()
		}
		s.mu.Unlock()
		slog.Warn("login failed", "addr", addr, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.gen != gen:
		// Logged out while authenticating.
		return ErrNotLoggedIn
	}

	s.status = LoggedIn
	s.userEmail = addr
	s.connected = true
	s.received = received
	s.sent = sent
	s.lastIndex = len(received)
	s.startLoopsLocked()
	s.publishLocked()

	slog.Info("logged in", "addr", addr, "received", len(received), "sent", len(sent))
	return nil
}

// LoginAsync runs Login on its own goroutine and reports the result on the
// dispatcher.
func (s *Session) LoginAsync(addr string, done func(error)) {
	s.goAsync(func(ctx context.Context) {
		err := s.Login(ctx, addr)
		if done != nil {
			s.dispatcher.Dispatch(func() { done(err) })
		}
	})
}

// Send composes a message from the logged-in account and submits it. On
// success the message is added to the local sent view and returned.
func (s *Session) Send(ctx context.Context, recipients []string, subject, body string) (*email.Email, error) {
	user, gen, err := s.requireConnected()
	if err != nil {
		return nil, err
	}

	rcpt, err := normalizeRecipients(recipients)
	if err != nil {
		return nil, err
	}

	msg := email.New(user, rcpt, subject, body)
	if err := s.call(ctx, func(ctx context.Context) error { return s.api.SendEmail(ctx, msg) }); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.sent = append(s.sent, *msg)
		s.publishLocked()
	}
	s.mu.Unlock()

	slog.Debug("email sent", "id", msg.ID, "recipients", len(rcpt))
	return msg, nil
}

// SendAsync runs Send on its own goroutine and reports the result on the
// dispatcher.
func (s *Session) SendAsync(recipients []string, subject, body string, done func(*email.Email, error)) {
	rcpt := append([]string(nil), recipients...)
	s.goAsync(func(ctx context.Context) {
		msg, err := s.Send(ctx, rcpt, subject, body)
		if done != nil {
			s.dispatcher.Dispatch(func() { done(msg, err) })
		}
	})
}

// Delete removes message id from the server and from the local sent view
// when isSent is true, otherwise from the local received view.
func (s *Session) Delete(ctx context.Context, id string, isSent bool) error {
	user, gen, err := s.requireConnected()
	if err != nil {
		return err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	err = s.call(ctx, func(ctx context.Context) error {
		return s.api.DeleteEmail(ctx, user, id, isSent)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil
	}
	if isSent {
		s.sent = removeByID(s.sent, id)
	} else {
		s.received = removeByID(s.received, id)
		s.lastIndex = len(s.received)
	}
	s.publishLocked()
	return nil
}

// DeleteAsync runs Delete on its own goroutine and reports the result on
// the dispatcher.
func (s *Session) DeleteAsync(id string, isSent bool, done func(error)) {
	s.goAsync(func(ctx context.Context) {
		err := s.Delete(ctx, id, isSent)
		if done != nil {
			s.dispatcher.Dispatch(func() { done(err) })
		}
	})
}

// Refresh asks the sync loop for an immediate tick.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggerLocked()
}

// Logout stops background activity and clears the local mailbox. Calling
// it when logged out does nothing.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.status == LoggedOut && s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	s.stopLoopsLocked()
	s.gen++
	addr := s.userEmail
	s.status = LoggedOut
	s.userEmail = ""
	s.received = nil
	s.sent = nil
	s.lastIndex = 0
	s.publishLocked()
	s.mu.Unlock()

	s.loops.Wait()
	slog.Info("logged out", "addr", addr)
}

// Shutdown logs out, aborts outstanding calls and waits for every
// background goroutine. It is safe to call more than once.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Logout()
	s.cancel()
	s.workers.Wait()

	if s.ownsDisp != nil {
		s.ownsDisp.Close()
	}
}

func (s *Session) authenticate(ctx context.Context, addr string) (received, sent []email.Email, err error) {
	err = s.call(ctx, func(ctx context.Context) error { return s.api.ValidateEmail(ctx, addr) })
	if err != nil {
		return nil, nil, err
	}

	err = s.call(ctx, func(ctx context.Context) error {
		received, err = s.api.GetEmails(ctx, addr, 0)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch received mail: %w", err)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		sent, err = s.api.GetSentEmails(ctx, addr)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch sent mail: %w", err)
	}
	return received, sent, nil
}

// requireConnected returns the logged-in user and login generation, or the
// reason an action cannot be attempted now.
func (s *Session) requireConnected() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return "", 0, ErrClosed
	case s.status != LoggedIn:
		return "", 0, ErrNotLoggedIn
	case !s.connected:
		return "", 0, ErrNotConnected
	}
	return s.userEmail, s.gen, nil
}

// call runs fn with the call timeout, merged with session cancellation, and
// marks the session disconnected on transport failure.
func (s *Session) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := fn(ctx)
	if errors.Is(err, client.ErrNoConnection) {
		s.setConnected(false)
	}
	return err
}

func (s *Session) goAsync(fn func(ctx context.Context)) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.workers.Add(1)
	}
	s.mu.Unlock()

	if closed {
		go fn(s.ctx)
		return
	}
	go func() {
		defer s.workers.Done()
		fn(s.ctx)
	}()
}

func (s *Session) setConnected(connected bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == connected {
		return false
	}
	s.connected = connected
	s.publishLocked()
	return true
}

// publishLocked hands a snapshot to every listener. Dispatching under the
// lock keeps notifications in state order.
func (s *Session) publishLocked() {
	if len(s.listeners) == 0 {
		return
	}
	state := s.snapshotLocked()
	for _, fn := range s.listeners {
		fn := fn
		s.dispatcher.Dispatch(func() { fn(state) })
	}
}

func (s *Session) snapshotLocked() State {
	return State{
		Status:    s.status,
		UserEmail: s.userEmail,
		Connected: s.connected,
		Received:  clone(s.received),
		Sent:      clone(s.sent),
	}
}

func normalizeRecipients(recipients []string) ([]string, error) {
	var out, invalid []string
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !email.ValidAddressFormat(r) {
			invalid = append(invalid, r)
			continue
		}
		out = append(out, r)
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, strings.Join(invalid, ", "))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidAddress)
	}
	return out, nil
}

func removeByID(list []email.Email, id string) []email.Email {
	for i := range list {
		if list[i].ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func clone(list []email.Email) []email.Email {
	if list == nil {
		return nil
	}
	out := make([]email.Email, len(list))
	copy(out, list)
	return out
}
