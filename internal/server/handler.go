package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/protocol"
)

// Mailboxes is the registry surface the handler needs.
type Mailboxes interface {
	IsValidAddress(addr string) bool
	Deliver(ctx context.Context, msg email.Email)
	NewMessagesSince(addr string, fromIndex int) ([]email.Email, bool)
	SentMessages(addr string) ([]email.Email, bool)
	DeleteMessage(ctx context.Context, addr, id string, fromSent bool) bool
	AppendLog(message string)
}

type commandFunc func(ctx context.Context, payload string) string

// Handler turns one request line into one response line. It holds no
// per-connection state.
type Handler struct {
	mailboxes Mailboxes
	commands  map[protocol.Command]commandFunc
}

// NewHandler creates a Handler backed by mailboxes.
func NewHandler(mailboxes Mailboxes) *Handler {
	h := &Handler{mailboxes: mailboxes}
	h.commands = map[protocol.Command]commandFunc{
		protocol.ValidateEmail: h.validateEmail,
		protocol.SendEmail:     h.sendEmail,
		protocol.GetEmails:     h.getEmails,
		protocol.GetSentEmails: h.getSentEmails,
		protocol.DeleteEmail:   h.deleteEmail,
	}
	return h
}

// Handle dispatches line and returns the response without its newline.
// Panics in a command are reported as an ERROR response.
func (h *Handler) Handle(ctx context.Context, line string) (response string) {
	req := protocol.ParseRequest(line)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("request handler panic", "command", string(req.Command), "panic", r)
			h.mailboxes.AppendLog(fmt.Sprintf("Errore nel processare richiesta: %v", r))
			response = protocol.Error(fmt.Sprint(r))
		}
	}()

	cmd, ok := h.commands[req.Command]
	if !ok {
		slog.Debug("unknown command", "command", string(req.Command))
		return protocol.Error(protocol.MsgUnknownCommand)
	}
	return cmd(ctx, req.Payload)
}

func (h *Handler) validateEmail(_ context.Context, addr string) string {
	valid := h.mailboxes.IsValidAddress(addr)

	outcome := "non valida"
	if valid {
		outcome = "valida"
	}
	h.mailboxes.AppendLog(fmt.Sprintf("Validazione email %s: %s", addr, outcome))

	if !valid {
		return protocol.Error(protocol.MsgEmailNotExist)
	}
	return protocol.OK(protocol.MsgEmailValid)
}

// sendEmail checks the sender, then every recipient, and only then
// delivers. A rejected send touches no mailbox.
func (h *Handler) sendEmail(ctx context.Context, payload string) string {
	msg, err := email.Decode(payload)
	if err != nil {
		return protocol.Error("Errore nell'invio dell'email: " + err.Error())
	}

	if !h.mailboxes.IsValidAddress(msg.Sender) {
		return protocol.Error("Mittente non valido: " + msg.Sender)
	}

	var invalid []string
	for _, rcpt := range msg.Recipients {
		if !h.mailboxes.IsValidAddress(rcpt) {
			invalid = append(invalid, rcpt)
		}
	}
	if len(invalid) > 0 {
		return protocol.Error("Destinatario non valido: " + strings.Join(invalid, ", "))
	}

	// Delivery runs to completion even if the server starts shutting down.
	h.mailboxes.Deliver(context.WithoutCancel(ctx), *msg)
	return protocol.OK(protocol.MsgEmailSent)
}

func (h *Handler) getEmails(_ context.Context, payload string) string {
	args, err := protocol.ParseGetEmailsArgs(payload)
	if err != nil {
		return protocol.Error("Errore nel recuperare le email: " + err.Error())
	}

	list, ok := h.mailboxes.NewMessagesSince(args.Address, args.FromIndex)
	if !ok {
		return protocol.Error(protocol.MsgEmailInvalid)
	}
	return h.encodeList(list)
}

func (h *Handler) getSentEmails(_ context.Context, addr string) string {
	list, ok := h.mailboxes.SentMessages(addr)
	if !ok {
		return protocol.Error(protocol.MsgEmailInvalid)
	}
	return h.encodeList(list)
}

func (h *Handler) deleteEmail(ctx context.Context, payload string) string {
	args, err := protocol.ParseDeleteEmailArgs(payload)
	if err != nil {
		return protocol.Error("Errore nell'eliminazione dell'email: " + err.Error())
	}

	if !h.mailboxes.DeleteMessage(context.WithoutCancel(ctx), args.Address, args.ID, args.IsSent) {
		return protocol.Error(protocol.MsgEmailNotFound)
	}
	return protocol.OK(protocol.MsgEmailDeleted)
}

func (h *Handler) encodeList(list []email.Email) string {
	encoded, err := email.EncodeList(list)
	if err != nil {
		return protocol.Error("Errore nel recuperare le email: " + err.Error())
	}
	return protocol.OK(encoded)
}
