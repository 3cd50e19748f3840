// Package markup implements the one emphasis convention notification
// messages may carry: **bold**. Untrusted fields are escaped before they are
// spliced into a template, so they can never open or close emphasis.
package markup

import (
	"strings"
	"unicode"
)

// Segment is a run of text with uniform emphasis.
type Segment struct {
	Text string
	Bold bool
}

// Escape neutralizes markup characters and strips control characters.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\' || r == '*':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Bold wraps an untrusted value as an emphasized span.
func Bold(s string) string { return "**" + Escape(s) + "**" }

// Parse splits s into segments. An unterminated "**" is kept as literal text.
func Parse(s string) []Segment {
	var (
		out  []Segment
		cur  strings.Builder
		bold bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, Segment{Text: cur.String(), Bold: bold})
			cur.Reset()
		}
	}
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '\\' && i+1 < len(rs) {
			i++
			cur.WriteRune(rs[i])
			continue
		}
		if r == '*' && i+1 < len(rs) && rs[i+1] == '*' {
			if !bold && !hasCloser(rs[i+2:]) {
				cur.WriteString("**")
				i++
				continue
			}
			flush()
			bold = !bold
			i++
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return merge(out)
}

func hasCloser(rs []rune) bool {
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\\' {
			i++
			continue
		}
		if rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '*' {
			return true
		}
	}
	return false
}

// merge joins adjacent segments with equal emphasis.
func merge(in []Segment) []Segment {
	out := in[:0]
	for _, s := range in {
		if n := len(out); n > 0 && out[n-1].Bold == s.Bold {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	return out
}

// Plain renders s without emphasis.
func Plain(s string) string {
	var b strings.Builder
	for _, seg := range Parse(s) {
		b.WriteString(seg.Text)
	}
	return b.String()
}
