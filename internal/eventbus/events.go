package eventbus

import "time"

// Type names an event kind published by the session.
type Type string

const (
	ConnectionStateChanged Type = "connection.state"
	ConnectionLost         Type = "connection.lost"
	ConnectionRestored     Type = "connection.restored"
	NotificationAccepted   Type = "notification.accepted"
	NotificationRead       Type = "notification.read"
	BadgeChanged           Type = "badge.changed"
	ToastShown             Type = "toast.shown"
	ToastDismissed         Type = "toast.dismissed"
	PollCompleted          Type = "poll.completed"
	PushReceived           Type = "push.received"
	BannerLoaded           Type = "banner.loaded"
)

// StateChange is the payload of ConnectionStateChanged.
type StateChange struct {
	From      string
	To        string
	Transport string
	Failures  int
}

// Accepted is the payload of NotificationAccepted.
type Accepted struct {
	ID     string
	Kind   string
	Source string // "push" or "poll"
	IsNew  bool
	Toast  bool
}

// Badge is the payload of BadgeChanged.
type Badge struct {
	Mode  string
	Label string
	Count int
}

// Toast is the payload of ToastShown and ToastDismissed.
type Toast struct {
	Key        string
	Persistent bool
	Reason     string // dismiss reason: "timeout", "user", "evicted", "click"
}

// Poll is the payload of PollCompleted.
type Poll struct {
	Kind     string // "fallback", "reconcile", "freshness"
	Items    int
	Err      error
	Duration time.Duration
}

// Push is the payload of PushReceived.
type Push struct {
	Event     string
	Transport string
}

// BannerLoad is the payload of BannerLoaded.
type BannerLoad struct {
	State    string
	Items    int
	Attempts int
	Err      error
}
