// Package notify holds the notification record model, the bounded local
// store and the id-based deduplicator that guards the accept path.
package notify

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"loopin/internal/markup"
)

type Kind string

const (
	KindNewUpdate Kind = "new_update"
	KindNewSOP    Kind = "new_sop"
	KindNewLesson Kind = "new_lesson"
	KindGeneric   Kind = "generic"
	KindSystem    Kind = "system"
)

// ParseKind maps a push "notification.type" to a Kind.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindNewUpdate:
		return KindNewUpdate
	case KindNewSOP:
		return KindNewSOP
	case KindNewLesson:
		return KindNewLesson
	case KindSystem:
		return KindSystem
	default:
		return KindGeneric
	}
}

// Record is one delivered notification. Message may carry **bold** markup;
// untrusted fields are escaped before they are spliced in.
type Record struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	SourceEntityID string    `json:"sourceEntityId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	// ClientStamped marks a CreatedAt taken from the local receive time
	// because the payload had no usable timestamp.
	ClientStamped bool `json:"clientStamped,omitempty"`
	Unread        bool `json:"unread"`
	ReadCount     int  `json:"readCount,omitempty"`
}

// Origin tells the deduplicator which source delivered a record.
type Origin string

const (
	OriginPush Origin = "push"
	OriginPoll Origin = "poll"
)

// Update is the backend's team-update item as it appears on both the push
// channel (new_update) and /api/recent-updates.
type Update struct {
	ID        string
	Name      string
	Process   string
	Message   string
	Timestamp time.Time
	// Received is true when Timestamp is the local receive time.
	Received bool
}

// FromUpdate builds the unread record for a team update.
func FromUpdate(u Update) Record {
	msg := markup.Bold(u.Name) + " posted an update"
	if p := strings.TrimSpace(u.Process); p != "" {
		msg += " in " + markup.Bold(p)
	}
	return Record{
		ID:             u.ID,
		Kind:           KindNewUpdate,
		Title:          "New update",
		Message:        msg,
		SourceEntityID: u.ID,
		CreatedAt:      u.Timestamp.UTC(),
		ClientStamped:  u.Received,
		Unread:         true,
	}
}

// FromNotification builds a record for a generic push notification. The id
// is a stable hash so redeliveries of the same payload dedup.
func FromNotification(typ, message string, ts time.Time) Record {
	kind := ParseKind(typ)
	return Record{
		ID:        NotificationID(typ, message, ts),
		Kind:      kind,
		Title:     titleFor(kind),
		Message:   markup.Escape(message),
		CreatedAt: ts.UTC(),
		Unread:    kind != KindSystem,
	}
}

// NotificationID hashes type|message|timestamp.
func NotificationID(typ, message string, ts time.Time) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typ + "|" + message + "|" + ts.UTC().Format(time.RFC3339Nano)))
	return fmt.Sprintf("n-%016x", h.Sum64())
}

func titleFor(k Kind) string {
	switch k {
	case KindNewSOP:
		return "New SOP"
	case KindNewLesson:
		return "New lesson"
	case KindSystem:
		return "System"
	default:
		return "Notification"
	}
}

// Plain returns the message with markup removed.
func (r Record) Plain() string { return markup.Plain(r.Message) }

func (r Record) String() string {
	b, _ := json.Marshal(r)
	return string(b)
}
