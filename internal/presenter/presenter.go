// Package presenter draws the bell badge, toast stack, banner panel and
// connection indicator. Terminal renders with lipgloss; Recorder keeps the
// calls in memory for headless runs and tests.
package presenter

import (
	"loopin/internal/badge"
	"loopin/internal/banner"
	"loopin/internal/toast"
)

// Connection is the connection indicator.
type Connection struct {
	State     string
	Transport string
	// Lost is the de-duplicated "connection lost" indicator.
	Lost bool
}

// Presenter is everything the session draws.
type Presenter interface {
	toast.Presenter
	banner.Renderer
	ShowBadge(s badge.State)
	ShowConnection(c Connection)
}
