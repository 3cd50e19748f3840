package presenter

import (
	"sync"

	"loopin/internal/badge"
	"loopin/internal/banner"
	"loopin/internal/toast"
)

// Dismissal is one recorded DismissToast call.
type Dismissal struct {
	Toast  toast.Toast
	Reason string
}

// Recorder keeps presenter calls in memory.
type Recorder struct {
	mu          sync.Mutex
	shown       []toast.Toast
	dismissed   []Dismissal
	badges      []badge.State
	connections []Connection
	banners     []banner.View
}

func (r *Recorder) ShowToast(t toast.Toast) {
	r.mu.Lock()
	r.shown = append(r.shown, t)
	r.mu.Unlock()
}

func (r *Recorder) DismissToast(t toast.Toast, reason string) {
	r.mu.Lock()
	r.dismissed = append(r.dismissed, Dismissal{Toast: t, Reason: reason})
	r.mu.Unlock()
}

func (r *Recorder) ShowBadge(s badge.State) {
	r.mu.Lock()
	r.badges = append(r.badges, s)
	r.mu.Unlock()
}

func (r *Recorder) ShowConnection(c Connection) {
	r.mu.Lock()
	r.connections = append(r.connections, c)
	r.mu.Unlock()
}

func (r *Recorder) RenderBanner(v banner.View) {
	r.mu.Lock()
	r.banners = append(r.banners, v)
	r.mu.Unlock()
}

func (r *Recorder) Shown() []toast.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toast.Toast(nil), r.shown...)
}

func (r *Recorder) Dismissed() []Dismissal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Dismissal(nil), r.dismissed...)
}

// Badge returns the last badge shown.
func (r *Recorder) Badge() (badge.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.badges) == 0 {
		return badge.State{}, false
	}
	return r.badges[len(r.badges)-1], true
}

func (r *Recorder) Connections() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Connection(nil), r.connections...)
}

func (r *Recorder) Banners() []banner.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]banner.View(nil), r.banners...)
}
