// Package mailbox holds the received and sent logs of a single account.
package mailbox

import (
	"sync"

	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// Mailbox is the pair of append-only message logs owned by one address.
// It is safe for concurrent use.
type Mailbox struct {
	address string

	mu       sync.RWMutex
	received []email.Email
	sent     []email.Email
}

// New returns an empty mailbox for address.
func New(address string) *Mailbox {
	return &Mailbox{address: address}
}

// Address returns the owning account address.
func (m *Mailbox) Address() string {
	return m.address
}

// AppendReceived adds msg to the end of the received log. It returns false
// if a message with the same id is already there.
func (m *Mailbox) AppendReceived(msg email.Email) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if indexOf(m.received, msg.ID) >= 0 {
		return false
	}
	m.received = append(m.received, msg)
	return true
}

// AppendSent adds msg to the end of the sent log. It returns false if a
// message with the same id is already there.
func (m *Mailbox) AppendSent(msg email.Email) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if indexOf(m.sent, msg.ID) >= 0 {
		return false
	}
	m.sent = append(m.sent, msg)
	return true
}

// TailReceived returns a copy of the received messages at positions
// fromIndex and later. Out of range cursors yield an empty slice.
func (m *Mailbox) TailReceived(fromIndex int) []email.Email {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex >= len(m.received) {
		return []email.Email{}
	}
	return clone(m.received[fromIndex:])
}

// Received returns a copy of the whole received log.
func (m *Mailbox) Received() []email.Email {
	return m.TailReceived(0)
}

// Sent returns a copy of the whole sent log.
func (m *Mailbox) Sent() []email.Email {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.sent)
}

// Counts returns the lengths of the received and sent logs.
func (m *Mailbox) Counts() (received, sent int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.received), len(m.sent)
}

// RemoveByID deletes the message with the given id from the sent log when
// fromSent is true, otherwise from the received log. Unknown ids are not an
// error; the result reports whether anything was removed.
func (m *Mailbox) RemoveByID(id string, fromSent bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := &m.received
	if fromSent {
		list = &m.sent
	}

	i := indexOf(*list, id)
	if i < 0 {
		return false
	}
	*list = append((*list)[:i:i], (*list)[i+1:]...)
	return true
}

// ReplaceAll swaps in both logs at once. It is meant for loading a snapshot.
func (m *Mailbox) ReplaceAll(received, sent []email.Email) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = clone(received)
	m.sent = clone(sent)
}

// Snapshot returns copies of both logs taken under a single lock.
func (m *Mailbox) Snapshot() (received, sent []email.Email) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.received), clone(m.sent)
}

func indexOf(list []email.Email, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(list []email.Email) []email.Email {
	out := make([]email.Email, len(list))
	copy(out, list)
	return out
}
