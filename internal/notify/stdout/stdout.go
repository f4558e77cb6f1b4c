// Package stdout implements a Notifier that prints notices to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/V3R0N1C4/MailSystem/internal/notify"
)

// Notifier prints delivery notices in a human-readable format.
type Notifier struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a Notifier that writes to os.Stdout.
func New() *Notifier {
	return &Notifier{writer: os.Stdout}
}

// NewWithWriter creates a Notifier that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Notifier {
	return &Notifier{writer: w}
}

// Notify prints the notice. Write failures are ignored.
func (n *Notifier) Notify(_ context.Context, notice notify.Notice) error {
	var b strings.Builder

	msg := notice.Message
	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Account: %s\n", notice.Account))
	b.WriteString(fmt.Sprintf("Forward: %s\n", notice.Forward))
	b.WriteString(fmt.Sprintf("From: %s\n", msg.Sender))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.Recipients, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\n", msg.FormattedTimestamp()))
	b.WriteString("========================================\n")

	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprint(n.writer, b.String())
	return nil
}

// Name returns the notifier name.
func (n *Notifier) Name() string {
	return "stdout"
}
