// Package email defines the message model shared by the mail server and client,
// together with its JSON wire encoding.
package email

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Email is a single message. Its ID and Timestamp are assigned once by the
// composing client and never change afterwards.
type Email struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Timestamp  LocalTime `json:"timestamp"`
}

// New creates a message with a fresh id and the current local time.
func New(sender string, recipients []string, subject, body string) *Email {
	rcpt := make([]string, len(recipients))
	copy(rcpt, recipients)

	return &Email{
		ID:         uuid.New().String(),
		Sender:     sender,
		Recipients: rcpt,
		Subject:    subject,
		Body:       body,
		Timestamp:  LocalTime{Time: time.Now()},
	}
}

// FormattedTimestamp renders the timestamp the way list views show it.
func (e *Email) FormattedTimestamp() string {
	return e.Timestamp.Format("02/01/2006 15:04")
}

// String returns a one-line summary: "[date] sender - subject".
func (e *Email) String() string {
	return fmt.Sprintf("[%s] %s - %s", e.FormattedTimestamp(), e.Sender, e.Subject)
}

// Encode serializes a message for the SEND_EMAIL payload.
func Encode(e *Email) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode email: %w", err)
	}
	return string(data), nil
}

// Decode parses a single encoded message and checks that it carries the
// fields delivery depends on.
func Decode(s string) (*Email, error) {
	var e Email
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("failed to decode email: %w", err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("email has no id")
	}
	if len(e.Recipients) == 0 {
		return nil, fmt.Errorf("email has no recipients")
	}
	return &e, nil
}

// EncodeList serializes a sequence of messages. A nil slice encodes as "[]".
func EncodeList(list []Email) (string, error) {
	if list == nil {
		list = []Email{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode email list: %w", err)
	}
	return string(data), nil
}

// DecodeList parses a sequence produced by EncodeList.
func DecodeList(s string) ([]Email, error) {
	var list []Email
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("failed to decode email list: %w", err)
	}
	if list == nil {
		list = []Email{}
	}
	return list, nil
}

var addressPattern = regexp.MustCompile(
	`^[a-zA-Z0-9_+&*-]+(?:\.[a-zA-Z0-9_+&*-]+)*@(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,7}$`,
)

// ValidAddressFormat reports whether addr looks like an email address.
// It says nothing about whether the server knows the account.
func ValidAddressFormat(addr string) bool {
	return addressPattern.MatchString(addr)
}
