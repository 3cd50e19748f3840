package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by CheckUpdate when the entity no longer exists.
	ErrNotFound = errors.New("feed: entity not found")
	// ErrUnsuccessful is returned when the backend answers success=false.
	ErrUnsuccessful = errors.New("feed: backend reported failure")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed: http status %d: %s", e.Code, e.Body)
}

// Temporary reports whether a retry may help (5xx, 408, 429).
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

// FlexID accepts both JSON numbers and strings (integer primary keys show
// up as numbers in some payloads).
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexID(n.String())
	return nil
}

// updateJSON is the wire shape of an update, both from /api/recent-updates
// and the new_update push event.
type updateJSON struct {
	ID        FlexID `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Process   string `json:"process"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type recentUpdatesJSON struct {
	Success *bool             `json:"success"`
	Updates []json.RawMessage `json:"updates"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
}

type latestJSON struct {
	Success         *bool   `json:"success"`
	LatestTimestamp *string `json:"latest_timestamp"`
	Error           string  `json:"error"`
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses ISO-8601 timestamps. Values without an offset are
// interpreted as UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	// "+0000" style offsets
	if t, err := time.Parse("2006-01-02T15:04:05.999999999-0700", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
