// Package transport owns the push channel: the WebSocket and long-poll
// transports, and the Manager that selects between them, reconnects with
// backoff and falls back to polling.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// State is the connection state observed by the session.
type State string

const (
	Disconnected    State = "disconnected"
	Connecting      State = "connecting"
	Connected       State = "connected"
	Degraded        State = "degraded"
	PollingFallback State = "polling-fallback"
)

// Push is true while live events are expected to flow.
func (s State) Push() bool { return s == Connected }

// Event names on the push channel.
const (
	EventConnect          = "connect"    // synthesized locally
	EventDisconnect       = "disconnect" // synthesized locally
	EventConnected        = "connected"
	EventSubscribed       = "subscribed"
	EventNewUpdate        = "new_update"
	EventNotification     = "notification"
	EventUnreadCount      = "unread_count"
	EventReadCountUpdated = "read_count_updated"

	EmitSubscribe      = "subscribe_to_updates"
	EmitMarkAsRead     = "mark_as_read"
	EmitGetUnreadCount = "get_unread_count"
)

// Envelope is one message in either direction: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = b
	return env, nil
}

// Conn is one established transport connection.
type Conn interface {
	// Recv blocks for the next envelope. Any error means the connection is gone.
	Recv(ctx context.Context) (Envelope, error)
	Send(ctx context.Context, env Envelope) error
	Close() error
}

// Dialer establishes a Conn for one transport kind.
type Dialer interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}
