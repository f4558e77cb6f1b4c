// Package store persists mailbox snapshots. A snapshot is the full received
// and sent logs of one account; every save overwrites the previous one.
//
// Store handles key derivation, encoding and per-account locking. The bytes
// themselves live in a Backend (local files, SQLite, S3, Redis, memory).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// ErrNotExist is returned by a Backend when nothing was saved under a key.
var ErrNotExist = errors.New("snapshot does not exist")

// Snapshot is the persisted state of one mailbox.
type Snapshot struct {
	Received []email.Email
	Sent     []email.Email
}

// Backend reads and writes opaque snapshot blobs.
type Backend interface {
	// Read returns the blob stored under key, or ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces whatever is stored under key.
	Write(ctx context.Context, key string, data []byte) error

	// Name returns a short backend name for logging.
	Name() string
}

// Store saves and loads mailbox snapshots through a Backend. Operations on
// the same address are serialized; different addresses never wait on each
// other.
type Store struct {
	backend Backend
	locks   sync.Map // address -> *sync.Mutex
}

// New creates a Store on top of backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Save overwrites the snapshot for address.
func (s *Store) Save(ctx context.Context, address string, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to save mailbox for %s: %w", address, err)
	}

	mu := s.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	if err := s.backend.Write(ctx, Key(address), data); err != nil {
		return fmt.Errorf("failed to save mailbox for %s: %w", address, err)
	}
	return nil
}

// Load returns the snapshot for address. An address that was never saved
// yields an empty snapshot and no error. When the stored data cannot be read
// or decoded, Load returns an empty snapshot together with the error so the
// caller can report it and carry on.
func (s *Store) Load(ctx context.Context, address string) (Snapshot, error) {
	mu := s.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	data, err := s.backend.Read(ctx, Key(address))
	if errors.Is(err, ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), fmt.Errorf("failed to load mailbox for %s: %w", address, err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return emptySnapshot(), fmt.Errorf("failed to load mailbox for %s: %w", address, err)
	}
	return snap, nil
}

func (s *Store) lockFor(address string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(address, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Key derives the storage key for an address: every character outside
// [A-Za-z0-9.+-] becomes "_", then ".dat" is appended. For example
// "cl16@mail.com" is stored as "cl16_mail.com.dat".
func Key(address string) string {
	var b strings.Builder
	for _, r := range address {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '+', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		b.WriteByte('_')
	}
	return b.String() + ".dat"
}

func emptySnapshot() Snapshot {
	return Snapshot{Received: []email.Email{}, Sent: []email.Email{}}
}
