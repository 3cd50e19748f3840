package banner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const openTimeout = 10 * time.Second

// Opener navigates to a URL.
type Opener interface {
	Open(url string) error
}

// PrintOpener writes the URL instead of launching anything.
type PrintOpener struct{ Out io.Writer }

func (o PrintOpener) Open(url string) error {
	w := o.Out
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintf(w, "open %s\n", url)
	return err
}

// CommandOpener runs Command with the URL appended (e.g. "xdg-open").
type CommandOpener struct {
	Command string
	run     func(ctx context.Context, name string, args ...string) error
}

func NewCommandOpener(command string) Opener {
	if strings.TrimSpace(command) == "" {
		return PrintOpener{}
	}
	return &CommandOpener{Command: command}
}

func (o *CommandOpener) Open(url string) error {
	f := strings.Fields(o.Command)
	if len(f) == 0 {
		return PrintOpener{}.Open(url)
	}
	run := o.run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	return run(ctx, f[0], append(f[1:], url)...)
}
