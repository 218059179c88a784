// Package channels routes alert text to destination channel classes.
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Target is one delivery destination within a channel.
type Target struct {
	Address   string
	AccountID string
	ThreadID  string
}

// Sender delivers plain text to a destination. Implementations fail
// independently per call; the caller decides what a failure means.
type Sender interface {
	SendText(ctx context.Context, to Target, text string) error
}

// Internal channel classes are not externally reachable (embedded chat UI,
// terminal UI). They are excluded from last-known destination resolution
// unless no external alternative exists.
var internalChannels = map[string]bool{
	"webchat": true,
	"tui":     true,
}

// IsInternal reports whether a channel class cannot reach a user externally.
func IsInternal(channel string) bool {
	return internalChannels[strings.ToLower(strings.TrimSpace(channel))]
}

// Registry maps channel class names to senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[string]Sender{}}
}

func (r *Registry) Register(channel string, s Sender) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" || s == nil {
		return
	}
	r.mu.Lock()
	r.senders[channel] = s
	r.mu.Unlock()
}

// Sender returns the sender for a channel class.
func (r *Registry) Sender(channel string) (Sender, error) {
	r.mu.RLock()
	s, ok := r.senders[strings.ToLower(strings.TrimSpace(channel))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", channel)
	}
	return s, nil
}

// Channels lists the registered channel classes.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	return out
}
