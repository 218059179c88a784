// Package capture invokes tmux to read pane content.
//
// This is pure transport: it captures what the pane shows without
// interpreting any of it. The watch core owns all judgment about the text.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"panewatch/pkg/logx"
)

// Runner executes an external command. It exists so tests can substitute
// a fake for the tmux binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner runs real commands.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// Request identifies what to capture.
type Request struct {
	Target string // tmux pane address, e.g. "main:1.0" or "%5"
	Socket string // optional tmux socket path (tmux -S)
	Lines  int    // history lines to include above the visible screen
}

type Client struct {
	runner Runner
	log    logx.Logger
}

func NewClient(log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{runner: OSRunner{}, log: log}
}

func NewClientWithRunner(runner Runner, log logx.Logger) *Client {
	c := NewClient(log)
	c.runner = runner
	return c
}

// Capture returns the pane's current text. A cleanly returned empty string
// is valid content, not a failure.
func (c *Client) Capture(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Target) == "" {
		return "", errors.New("capture target is required")
	}
	out, err := c.runner.Run(ctx, "tmux", buildArgs(req)...)
	if err != nil {
		return "", fmt.Errorf("capture-pane %s: %w", req.Target, err)
	}
	return string(out), nil
}

func buildArgs(req Request) []string {
	var args []string
	if req.Socket != "" {
		args = append(args, "-S", req.Socket)
	}
	args = append(args, "capture-pane", "-p", "-t", req.Target)
	if req.Lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(req.Lines))
	}
	return args
}
