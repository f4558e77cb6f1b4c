// Package notify defines the interface for delivery notification backends.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// Notice tells an external address that an account received mail.
type Notice struct {
	// Account is the local mailbox the message was delivered to.
	Account string

	// Forward is the external address to notify.
	Forward string

	// Message is the delivered message.
	Message email.Email
}

// Notifier is the interface that notification backends must implement.
type Notifier interface {
	// Notify sends one notice. It returns an error if delivery fails.
	Notify(ctx context.Context, n Notice) error

	// Name returns the human-readable name of this notifier.
	Name() string
}

// Subject returns the subject line used for notice mail.
func (n Notice) Subject() string {
	return fmt.Sprintf("New mail from %s: %s", n.Message.Sender, n.Message.Subject)
}

// Text renders the plain-text notice body. The message body is left out.
func (n Notice) Text() string {
	msg := n.Message

	var b strings.Builder
	fmt.Fprintf(&b, "Mailbox %s received a new message.\n\n", n.Account)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Date: %s\n", msg.FormattedTimestamp())
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	return b.String()
}
