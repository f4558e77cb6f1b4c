package session

import (
	"context"
	"sync"

	"github.com/V3R0N1C4/MailSystem/internal/client"
	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/protocol"
)

// fakeAPI is an in-memory mail server implementing API.
type fakeAPI struct {
	mu       sync.Mutex
	online   bool
	accounts map[string]bool
	received map[string][]email.Email
	sent     map[string][]email.Email
	pings    int
	gets     int
}

func newFakeAPI(accounts ...string) *fakeAPI {
	f := &fakeAPI{
		online:   true,
		accounts: make(map[string]bool),
		received: make(map[string][]email.Email),
		sent:     make(map[string][]email.Email),
	}
	for _, a := range accounts {
		f.accounts[a] = true
	}
	return f
}

func (f *fakeAPI) setOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

// deliver puts msg straight into the server mailboxes.
func (f *fakeAPI) deliver(msg *email.Email) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[msg.Sender] = append(f.sent[msg.Sender], *msg)
	for _, r := range msg.Recipients {
		f.received[r] = append(f.received[r], *msg)
	}
}

func (f *fakeAPI) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeAPI) ValidateEmail(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return client.ErrNoConnection
	}
	if !f.accounts[addr] {
		return &client.ServerError{Message: protocol.MsgEmailNotExist}
	}
	return nil
}

func (f *fakeAPI) SendEmail(_ context.Context, msg *email.Email) error {
	f.mu.Lock()
	if !f.online {
		f.mu.Unlock()
		return client.ErrNoConnection
	}
	for _, r := range msg.Recipients {
		if !f.accounts[r] {
			f.mu.Unlock()
			return &client.ServerError{Message: "Destinatario non valido: " + r}
		}
	}
	f.mu.Unlock()

	f.deliver(msg)
	return nil
}

func (f *fakeAPI) GetEmails(_ context.Context, addr string, fromIndex int) ([]email.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if !f.online {
		return nil, client.ErrNoConnection
	}
	if !f.accounts[addr] {
		return nil, &client.ServerError{Message: protocol.MsgEmailInvalid}
	}
	list := f.received[addr]
	if fromIndex >= len(list) {
		return []email.Email{}, nil
	}
	return append([]email.Email(nil), list[fromIndex:]...), nil
}

func (f *fakeAPI) GetSentEmails(_ context.Context, addr string) ([]email.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return nil, client.ErrNoConnection
	}
	return append([]email.Email{}, f.sent[addr]...), nil
}

func (f *fakeAPI) DeleteEmail(_ context.Context, addr, id string, isSent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return client.ErrNoConnection
	}

	boxes := f.received
	if isSent {
		boxes = f.sent
	}
	list := boxes[addr]
	for i := range list {
		if list[i].ID == id {
			boxes[addr] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return &client.ServerError{Message: protocol.MsgEmailNotFound}
}

func (f *fakeAPI) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if !f.online {
		return client.ErrNoConnection
	}
	return nil
}
