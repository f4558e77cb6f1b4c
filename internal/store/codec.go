package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/V3R0N1C4/MailSystem/internal/email"
)

// ErrCorruptSnapshot is returned when stored data is in neither the current
// nor the legacy format.
var ErrCorruptSnapshot = errors.New("unsupported snapshot format")

// snapshotVersion is written into every current-format snapshot.
const snapshotVersion = 2

// record is the current on-disk layout.
type record struct {
	Version  int           `json:"version"`
	Received []email.Email `json:"received"`
	Sent     []email.Email `json:"sent"`
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	rec := record{
		Version:  snapshotVersion,
		Received: snap.Received,
		Sent:     snap.Sent,
	}
	if rec.Received == nil {
		rec.Received = []email.Email{}
	}
	if rec.Sent == nil {
		rec.Sent = []email.Email{}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot accepts either a current record or a legacy bare array of
// received messages, which is upgraded to (array, empty sent).
func decodeSnapshot(data []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty data", ErrCorruptSnapshot)
	}

	switch trimmed[0] {
	case '[':
		var legacy []email.Email
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return Snapshot{}, fmt.Errorf("%w: legacy list: %v", ErrCorruptSnapshot, err)
		}
		return normalize(Snapshot{Received: legacy}), nil

	case '{':
		var rec record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		if rec.Version != snapshotVersion {
			return Snapshot{}, fmt.Errorf("%w: version %d", ErrCorruptSnapshot, rec.Version)
		}
		return normalize(Snapshot{Received: rec.Received, Sent: rec.Sent}), nil

	default:
		return Snapshot{}, fmt.Errorf("%w: unexpected leading byte %q", ErrCorruptSnapshot, trimmed[0])
	}
}

func normalize(snap Snapshot) Snapshot {
	if snap.Received == nil {
		snap.Received = []email.Email{}
	}
	if snap.Sent == nil {
		snap.Sent = []email.Email{}
	}
	return snap
}
