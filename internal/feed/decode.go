package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"loopin/internal/notify"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// DecodeUpdate decodes and validates one update payload. A missing or
// unparseable timestamp becomes receivedAt.
func DecodeUpdate(raw json.RawMessage, receivedAt time.Time) (notify.Update, error) {
	var u updateJSON
	if err := json.Unmarshal(raw, &u); err != nil {
		return notify.Update{}, fmt.Errorf("decode update: %w", err)
	}
	u.Name = strings.TrimSpace(u.Name)
	if err := payloadValidator().Struct(u); err != nil {
		return notify.Update{}, fmt.Errorf("invalid update: %w", err)
	}
	ts, received := receivedAt.UTC(), true
	if u.Timestamp != "" {
		if t, err := ParseTimestamp(u.Timestamp); err == nil {
			ts, received = t, false
		}
	}
	return notify.Update{
		ID:        string(u.ID),
		Name:      u.Name,
		Process:   strings.TrimSpace(u.Process),
		Message:   u.Message,
		Timestamp: ts,
		Received:  received,
	}, nil
}
