package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/V3R0N1C4/MailSystem/internal/client"
	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// startLoopsLocked starts the sync and health loops for the current login.
func (s *Session) startLoopsLocked() {
	stopCh := make(chan struct{})
	triggerCh := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(s.ctx)

	s.stopCh = stopCh
	s.triggerCh = triggerCh
	s.loopStop = cancel

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.syncLoop(ctx, stopCh, triggerCh)
	}()
	go func() {
		defer s.loops.Done()
		s.healthLoop(ctx, stopCh)
	}()
}

// stopLoopsLocked signals both loops to exit and aborts their calls. The
// caller waits on s.loops after releasing the lock.
func (s *Session) stopLoopsLocked() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.loopStop()
	s.stopCh = nil
	s.triggerCh = nil
	s.loopStop = nil
}

// triggerLocked requests an out-of-band sync without blocking.
func (s *Session) triggerLocked() {
	if s.triggerCh == nil {
		return
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// A sync is already pending.
	}
}

func (s *Session) syncLoop(ctx context.Context, stopCh <-chan struct{}, triggerCh <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		case <-triggerCh:
			s.syncOnce(ctx)
		}
	}
}

func (s *Session) healthLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// syncOnce fetches received mail past the local cursor and appends it.
// Failures are logged and never reach the caller.
func (s *Session) syncOnce(ctx context.Context) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.status != LoggedIn {
		s.mu.Unlock()
		return
	}
	user, from, gen := s.userEmail, s.lastIndex, s.gen
	s.mu.Unlock()

	var fresh []email.Email
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = s.api.GetEmails(ctx, user, from)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, client.ErrNoConnection) {
			slog.Warn("sync failed, server unreachable", "addr", user, "error", err)
			return
		}
		slog.Error("sync failed", "addr", user, "error", err)
		return
	}
	if len(fresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.lastIndex != from {
		return
	}
	s.received = append(s.received, fresh...)
	s.lastIndex = len(s.received)
	s.publishLocked()

	slog.Info("new mail", "addr", user, "count", len(fresh))
}

// checkHealth probes the server and triggers a resync when it comes back.
func (s *Session) checkHealth(ctx context.Context) {
	wasConnected := s.Connected()

	err := s.call(ctx, s.api.Ping)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		s.setConnected(false)
		if wasConnected {
			slog.Warn("connection to server lost", "error", err)
		}
		return
	}

	if s.setConnected(true) {
		slog.Info("connection to server restored")
		s.mu.Lock()
		s.triggerLocked()
		s.mu.Unlock()
	}
}
