package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"loopin/internal/badge"
	"loopin/internal/banner"
	"loopin/internal/markup"
	"loopin/internal/notify"
	"loopin/internal/toast"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A89")
)

type styles struct {
	bold      lipgloss.Style
	title     lipgloss.Style
	muted     lipgloss.Style
	warn      lipgloss.Style
	err       lipgloss.Style
	toast     lipgloss.Style
	sticky    lipgloss.Style
	panel     lipgloss.Style
	badge     lipgloss.Style
	badgeDot  lipgloss.Style
	selection lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		bold:      r.NewStyle().Bold(true),
		title:     r.NewStyle().Bold(true).Foreground(colorAccent),
		muted:     r.NewStyle().Foreground(colorMuted),
		warn:      r.NewStyle().Foreground(colorWarning),
		err:       r.NewStyle().Foreground(colorError),
		toast:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1),
		sticky:    r.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(colorWarning).Padding(0, 1),
		panel:     r.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(colorMuted).Padding(0, 1),
		badge:     r.NewStyle().Bold(true).Foreground(colorError),
		badgeDot:  r.NewStyle().Foreground(colorAccent),
		selection: r.NewStyle().Foreground(colorAccent).Underline(true),
	}
}

// Terminal writes each change as a styled block. Colors follow the
// capabilities lipgloss detects for w.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	st    styles
	width int
}

func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{w: w, st: newStyles(r), width: 60}
}

// Markup renders **bold** spans with the bold style.
func (t *Terminal) Markup(s string) string {
	var b strings.Builder
	for _, seg := range markup.Parse(s) {
		if seg.Bold {
			b.WriteString(t.st.bold.Render(seg.Text))
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

func (t *Terminal) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, s+"\n")
}

func (t *Terminal) ShowToast(ts toast.Toast) {
	box := t.st.toast
	footer := t.st.muted.Render(ts.ShownAt.Local().Format(time.Kitchen))
	if ts.Persistent {
		box = t.st.sticky
		footer += t.st.muted.Render("  [x] dismiss")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		t.st.title.Render(ts.Title),
		t.Markup(ts.Message),
		footer,
	)
	t.write(box.Width(t.width).Render(body))
}

func (t *Terminal) DismissToast(ts toast.Toast, reason string) {
	if reason == toast.ReasonTimeout {
		return
	}
	t.write(t.st.muted.Render(fmt.Sprintf("  dismissed %q (%s)", ts.Title, reason)))
}

func (t *Terminal) ShowBadge(s badge.State) {
	t.write(t.BadgeLine(s))
}

// BadgeLine is the badge without a trailing newline.
func (t *Terminal) BadgeLine(s badge.State) string {
	switch s.Mode {
	case badge.Count:
		return "bell " + t.st.badge.Render("("+s.Label()+")")
	case badge.FreshnessDot:
		return "bell " + t.st.badgeDot.Render(s.Label())
	default:
		return "bell"
	}
}

func (t *Terminal) ShowConnection(c Connection) {
	switch {
	case c.Lost:
		t.write(t.st.warn.Render("Connection lost. Retrying in the background…"))
	case c.State == "connected":
		t.write(t.st.muted.Render("connected via " + c.Transport))
	case c.State == "polling-fallback":
		t.write(t.st.warn.Render("Live updates unavailable; checking periodically."))
	}
}

func (t *Terminal) RenderBanner(v banner.View) {
	t.write(t.Banner(v))
}

// Banner renders the panel to a string.
func (t *Terminal) Banner(v banner.View) string {
	var lines []string
	lines = append(lines, t.st.title.Render("Recent updates"))
	switch v.State {
	case banner.StateLoading:
		lines = append(lines, t.st.muted.Render("Loading…"))
	case banner.StateEmpty:
		lines = append(lines, t.st.muted.Render("No recent updates."))
	case banner.StateError:
		lines = append(lines, t.st.err.Render(v.InlineError), t.st.selection.Render("[r] retry"))
	case banner.StateReady:
		for i, u := range v.Items {
			msg := markup.Bold(u.Name) + " posted an update"
			if u.Process != "" {
				msg += " in " + markup.Bold(u.Process)
			}
			line := fmt.Sprintf("%d. %s", i+1, t.Markup(msg))
			if !u.Timestamp.IsZero() {
				line += " " + t.st.muted.Render(u.Timestamp.Local().Format("Jan 2 15:04"))
			}
			lines = append(lines, line)
		}
		if v.HasOverflow() {
			lines = append(lines, t.st.selection.Render(v.OverflowLabel()))
		}
	default:
		return ""
	}
	if v.InlineError != "" && v.State != banner.StateError {
		lines = append(lines, t.st.err.Render(v.InlineError))
	}
	return t.st.panel.Width(t.width).Render(strings.Join(lines, "\n"))
}

// List renders the notifications panel for the `list` command.
func (t *Terminal) List(records []notify.Record, s badge.State) string {
	var lines []string
	lines = append(lines, t.st.title.Render("Notifications")+"  "+t.BadgeLine(s))
	if len(records) == 0 {
		lines = append(lines, t.st.muted.Render("Nothing here yet."))
	}
	for _, r := range records {
		mark := " "
		if r.Unread {
			mark = t.st.badgeDot.Render("•")
		}
		line := fmt.Sprintf("%s %s  %s", mark, t.Markup(r.Message), t.st.muted.Render(r.ID))
		if r.ReadCount > 0 {
			line += t.st.muted.Render(fmt.Sprintf("  seen by %d", r.ReadCount))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
