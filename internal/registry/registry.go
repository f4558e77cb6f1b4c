// Package registry is the server-side mail model: the fixed set of accounts,
// their mailboxes, delivery routing and persistence.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/mailbox"
	"github.com/V3R0N1C4/MailSystem/internal/notify"
	"github.com/V3R0N1C4/MailSystem/internal/store"
)

const (
	// loadConcurrency caps parallel snapshot loads at startup.
	loadConcurrency = 8

	// notifyTimeout bounds a single delivery notice.
	notifyTimeout = 30 * time.Second
)

// Options configures a Registry.
type Options struct {
	// Store persists mailbox snapshots. Required.
	Store *store.Store

	// Notifier, if set, receives a notice for every delivery to an
	// account listed in Forward.
	Notifier notify.Notifier

	// Forward maps an account to the external address to notify.
	Forward map[string]string

	// Log receives operational events. A new OpLog is created if nil.
	Log *OpLog
}

// account pairs a mailbox with the lock that makes mutate-then-persist
// atomic for that account.
type account struct {
	mu  sync.Mutex
	box *mailbox.Mailbox
}

// AccountStats is a point-in-time view of one mailbox.
type AccountStats struct {
	Address  string `json:"address"`
	Received int    `json:"received"`
	Sent     int    `json:"sent"`
}

// Registry owns every mailbox. The account set is fixed at construction.
// Mutations of one account are serialized; different accounts proceed in
// parallel.
type Registry struct {
	accounts map[string]*account
	order    []string

	store    *store.Store
	notifier notify.Notifier
	forward  map[string]string
	log      *OpLog

	notices sync.WaitGroup
}

// New creates a registry with one empty mailbox per address. Call Load to
// restore persisted state.
func New(addresses []string, opts Options) *Registry {
	r := &Registry{
		accounts: make(map[string]*account, len(addresses)),
		store:    opts.Store,
		notifier: opts.Notifier,
		forward:  opts.Forward,
		log:      opts.Log,
	}
	if r.log == nil {
		r.log = NewOpLog(0)
	}

	for _, addr := range addresses {
		if _, dup := r.accounts[addr]; dup {
			continue
		}
		r.accounts[addr] = &account{box: mailbox.New(addr)}
		r.order = append(r.order, addr)
	}

	r.AppendLog(fmt.Sprintf("Server inizializzato con %d account", len(r.order)))
	return r
}

// Load restores every mailbox from the store. A snapshot that cannot be read
// is logged and the mailbox starts empty; only context cancellation makes
// Load fail.
func (r *Registry) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for _, addr := range r.order {
		addr := addr
		acc := r.accounts[addr]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			snap, err := r.store.Load(ctx, addr)
			if err != nil {
				slog.Error("failed to load mailbox", "addr", addr, "error", err)
				r.AppendLog(fmt.Sprintf("ERRORE: caricamento mailbox %s: %v", addr, err))
			}

			acc.mu.Lock()
			acc.box.ReplaceAll(snap.Received, snap.Sent)
			acc.mu.Unlock()

			slog.Debug("mailbox loaded",
				"addr", addr,
				"received", len(snap.Received),
				"sent", len(snap.Sent),
			)
			return nil
		})
	}

	return g.Wait()
}

// IsValidAddress reports whether addr is one of the provisioned accounts.
func (r *Registry) IsValidAddress(addr string) bool {
	_, ok := r.accounts[addr]
	return ok
}

// Addresses returns the provisioned accounts in configuration order.
func (r *Registry) Addresses() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Deliver appends msg to the sender's sent log and to the received log of
// every valid recipient, persisting each touched mailbox on its own.
// Invalid recipients are logged and skipped. There is no atomicity across
// accounts: a crash halfway leaves some mailboxes updated and others not.
func (r *Registry) Deliver(ctx context.Context, msg email.Email) {
	if acc, ok := r.accounts[msg.Sender]; ok {
		r.mutate(ctx, msg.Sender, acc, func(box *mailbox.Mailbox) bool {
			return box.AppendSent(msg)
		})
	}

	for _, rcpt := range msg.Recipients {
		acc, ok := r.accounts[rcpt]
		if !ok {
			r.AppendLog("ERRORE: Destinatario non valido: " + rcpt)
			continue
		}

		delivered := r.mutate(ctx, rcpt, acc, func(box *mailbox.Mailbox) bool {
			return box.AppendReceived(msg)
		})
		if !delivered {
			continue
		}

		r.AppendLog(fmt.Sprintf("Email consegnata a: %s da: %s", rcpt, msg.Sender))
		r.notify(rcpt, msg)
	}
}

// NewMessagesSince returns the received messages of addr from position
// fromIndex on. The boolean is false when addr is not an account.
func (r *Registry) NewMessagesSince(addr string, fromIndex int) ([]email.Email, bool) {
	acc, ok := r.accounts[addr]
	if !ok {
		return nil, false
	}
	return acc.box.TailReceived(fromIndex), true
}

// SentMessages returns the sent log of addr. The boolean is false when addr
// is not an account.
func (r *Registry) SentMessages(addr string) ([]email.Email, bool) {
	acc, ok := r.accounts[addr]
	if !ok {
		return nil, false
	}
	return acc.box.Sent(), true
}

// DeleteMessage removes message id from the sent or received log of addr
// and persists the mailbox. It returns false if the account or the message
// does not exist.
func (r *Registry) DeleteMessage(ctx context.Context, addr, id string, fromSent bool) bool {
	acc, ok := r.accounts[addr]
	if !ok {
		return false
	}

	deleted := r.mutate(ctx, addr, acc, func(box *mailbox.Mailbox) bool {
		return box.RemoveByID(id, fromSent)
	})
	if deleted {
		kind := "RICEVUTA"
		if fromSent {
			kind = "INVIATA"
		}
		r.AppendLog(fmt.Sprintf("Email eliminata per: %s (tipo: %s)", addr, kind))
	}
	return deleted
}

// Stats returns message counts for every account.
func (r *Registry) Stats() []AccountStats {
	out := make([]AccountStats, 0, len(r.order))
	for _, addr := range r.order {
		received, sent := r.accounts[addr].box.Counts()
		out = append(out, AccountStats{Address: addr, Received: received, Sent: sent})
	}
	return out
}

// AppendLog adds a line to the operational log.
func (r *Registry) AppendLog(message string) {
	r.log.Append(message)
}

// Log returns the operational log.
func (r *Registry) Log() *OpLog {
	return r.log
}

// Close waits up to timeout for outstanding delivery notices.
func (r *Registry) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		r.notices.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("timed out waiting for delivery notices")
	}
}

// mutate runs change under the account lock and, if it reports a change,
// persists the mailbox before releasing the lock. Persistence failures are
// logged; the in-memory change stands.
func (r *Registry) mutate(ctx context.Context, addr string, acc *account, change func(*mailbox.Mailbox) bool) bool {
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !change(acc.box) {
		return false
	}

	received, sent := acc.box.Snapshot()
	if err := r.store.Save(ctx, addr, store.Snapshot{Received: received, Sent: sent}); err != nil {
		slog.Error("failed to persist mailbox", "addr", addr, "error", err)
		r.AppendLog(fmt.Sprintf("ERRORE: salvataggio mailbox %s: %v", addr, err))
	}
	return true
}

func (r *Registry) notify(rcpt string, msg email.Email) {
	if r.notifier == nil {
		return
	}
	forward := r.forward[rcpt]
	if forward == "" {
		return
	}

	r.notices.Add(1)
	go func() {
		defer r.notices.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		err := r.notifier.Notify(ctx, notify.Notice{Account: rcpt, Forward: forward, Message: msg})
		if err != nil {
			slog.Error("delivery notice failed",
				"notifier", r.notifier.Name(),
				"account", rcpt,
				"error", err,
			)
			return
		}
		slog.Debug("delivery notice sent", "notifier", r.notifier.Name(), "account", rcpt)
	}()
}
