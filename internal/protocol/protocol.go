// Package protocol defines the mail wire protocol: one newline-terminated
// "COMMAND:payload" request per connection, answered by one "OK:..." or
// "ERROR:..." line.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command names a request kind.
type Command string

const (
	ValidateEmail Command = "VALIDATE_EMAIL"
	SendEmail     Command = "SEND_EMAIL"
	GetEmails     Command = "GET_EMAILS"
	GetSentEmails Command = "GET_SENT_EMAILS"
	DeleteEmail   Command = "DELETE_EMAIL"
)

// Canonical response texts.
const (
	MsgEmailValid      = "Email valida"
	MsgEmailNotExist   = "Email non esistente"
	MsgEmailSent       = "Email inviata con successo"
	MsgEmailInvalid    = "Email non valida"
	MsgEmailDeleted    = "Email eliminata"
	MsgEmailNotFound   = "Email non trovata"
	MsgUnknownCommand  = "Comando non riconosciuto"
	MsgNotConnected    = "Non connesso al server"
	MsgConnectionError = "Errore di connessione al server"
)

const (
	statusOK    = "OK"
	statusError = "ERROR"
	separator   = ":"
)

// ErrMalformed reports a line that does not follow the protocol grammar.
var ErrMalformed = errors.New("malformed protocol line")

// Request is a parsed request line.
type Request struct {
	Command Command
	Payload string
}

// ParseRequest splits line at its first colon. A line without a colon is a
// command with an empty payload. Unknown commands are not rejected here.
func ParseRequest(line string) Request {
	line = strings.TrimRight(line, "\r\n")
	cmd, payload, _ := strings.Cut(line, separator)
	return Request{Command: Command(cmd), Payload: payload}
}

// String renders the request line without the trailing newline.
func (r Request) String() string {
	return string(r.Command) + separator + r.Payload
}

// Response is a parsed response line.
type Response struct {
	OK      bool
	Payload string
}

// OK builds a success response line.
func OK(payload string) string {
	return statusOK + separator + payload
}

// Error builds a failure response line. Newlines in msg are flattened so the
// response stays on one line.
func Error(msg string) string {
	return statusError + separator + flatten(msg)
}

// ParseResponse parses a response line.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	status, payload, found := strings.Cut(line, separator)
	if !found {
		return Response{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	switch status {
	case statusOK:
		return Response{OK: true, Payload: payload}, nil
	case statusError:
		return Response{OK: false, Payload: payload}, nil
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrMalformed, status)
	}
}

// GetEmailsArgs is the payload of GET_EMAILS.
type GetEmailsArgs struct {
	Address   string
	FromIndex int
}

// Encode renders "address,fromIndex".
func (a GetEmailsArgs) Encode() string {
	return a.Address + "," + strconv.Itoa(a.FromIndex)
}

// ParseGetEmailsArgs parses "address,fromIndex".
func ParseGetEmailsArgs(payload string) (GetEmailsArgs, error) {
	parts := strings.Split(payload, ",")
	if len(parts) < 2 {
		return GetEmailsArgs{}, fmt.Errorf("%w: expected address,fromIndex", ErrMalformed)
	}

	idx, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return GetEmailsArgs{}, fmt.Errorf("invalid index %q: %w", parts[1], err)
	}
	return GetEmailsArgs{Address: parts[0], FromIndex: idx}, nil
}

// DeleteEmailArgs is the payload of DELETE_EMAIL.
type DeleteEmailArgs struct {
	Address string
	ID      string
	IsSent  bool
}

// Encode renders "address,id,isSent".
func (a DeleteEmailArgs) Encode() string {
	return a.Address + "," + a.ID + "," + strconv.FormatBool(a.IsSent)
}

// ParseDeleteEmailArgs parses "address,id[,isSent]". A missing or
// unrecognized flag means the received log, matching older clients that
// sent only two fields.
func ParseDeleteEmailArgs(payload string) (DeleteEmailArgs, error) {
	parts := strings.Split(payload, ",")
	if len(parts) < 2 {
		return DeleteEmailArgs{}, fmt.Errorf("%w: expected address,id,isSent", ErrMalformed)
	}

	args := DeleteEmailArgs{Address: parts[0], ID: parts[1]}
	if len(parts) > 2 {
		args.IsSent = strings.EqualFold(strings.TrimSpace(parts[2]), "true")
	}
	return args, nil
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
