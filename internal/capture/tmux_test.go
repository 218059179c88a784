package capture

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"panewatch/pkg/logx"
)

type fakeRunner struct {
	gotName string
	gotArgs []string
	out     []byte
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.gotName = name
	r.gotArgs = args
	return r.out, r.err
}

func TestCaptureBuildsTmuxCommand(t *testing.T) {
	r := &fakeRunner{out: []byte("pane text\n")}
	c := NewClientWithRunner(r, logx.Nop())

	got, err := c.Capture(context.Background(), Request{Target: "main:1.0", Lines: 120})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got != "pane text\n" {
		t.Fatalf("Capture output = %q", got)
	}
	if r.gotName != "tmux" {
		t.Fatalf("command = %q, want tmux", r.gotName)
	}
	want := []string{"capture-pane", "-p", "-t", "main:1.0", "-S", "-120"}
	if !reflect.DeepEqual(r.gotArgs, want) {
		t.Fatalf("args = %v, want %v", r.gotArgs, want)
	}
}

func TestCaptureSocketOverride(t *testing.T) {
	r := &fakeRunner{}
	c := NewClientWithRunner(r, logx.Nop())

	if _, err := c.Capture(context.Background(), Request{Target: "%5", Socket: "/tmp/alt.sock"}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	want := []string{"-S", "/tmp/alt.sock", "capture-pane", "-p", "-t", "%5"}
	if !reflect.DeepEqual(r.gotArgs, want) {
		t.Fatalf("args = %v, want %v", r.gotArgs, want)
	}
}

func TestCaptureEmptyOutputIsValid(t *testing.T) {
	c := NewClientWithRunner(&fakeRunner{out: []byte("")}, logx.Nop())
	got, err := c.Capture(context.Background(), Request{Target: "a:0.0"})
	if err != nil {
		t.Fatalf("empty capture must not fail: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestCaptureErrors(t *testing.T) {
	c := NewClientWithRunner(&fakeRunner{err: errors.New("no server running")}, logx.Nop())
	if _, err := c.Capture(context.Background(), Request{Target: "a:0.0"}); err == nil {
		t.Fatalf("expected error from failing runner")
	}
	if _, err := c.Capture(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error for missing target")
	}
}
