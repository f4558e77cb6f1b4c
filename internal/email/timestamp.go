package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// localLayout is an ISO-8601 local date-time without zone. Fractional
// seconds are written only when non-zero.
const localLayout = "2006-01-02T15:04:05.999999999"

// LocalTime is a timestamp encoded as an ISO-8601 local date-time string
// ("2024-03-01T09:30:00") interpreted in the process time zone.
type LocalTime struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Local().Format(localLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseLocalTime parses an ISO-8601 local date-time, with or without
// seconds and fractional seconds.
func ParseLocalTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid local date-time %q", s)
}
