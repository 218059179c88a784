// Package watch implements the subscription lifecycle and stability
// detection engine: the durable subscription store, the per-subscription
// poll scheduler, content-hash stability detection with at-most-once
// notification per stable episode, and notify-target resolution.
package watch

import (
	"strings"
	"time"
)

// stateVersion is the schema version of the persisted subscription file.
// Any other version is treated as an empty document on load.
const stateVersion = 1

// Built-in fallbacks for the interval / threshold resolution chains.
const (
	defaultInterval    = 5 * time.Second
	minInterval        = time.Second
	defaultStableCount = 3
	defaultLines       = 200
	defaultMaxChars    = 4000
)

// Subscription is one watched pane, as persisted.
//
// A record needs id and target to be valid; anything else is optional.
// Interval and threshold carry both the preferred fields
// (captureIntervalSeconds, stableCount) and legacy ones
// (intervalMs, stableSeconds) which older state files still use.
type Subscription struct {
	ID         string `json:"id"`
	Target     string `json:"target"`
	Label      string `json:"label,omitempty"`
	Note       string `json:"note,omitempty"`
	Socket     string `json:"socket,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`

	CaptureIntervalSeconds int `json:"captureIntervalSeconds,omitempty"`
	IntervalMS             int `json:"intervalMs,omitempty"` // legacy
	StableCount            int `json:"stableCount,omitempty"`
	StableSeconds          int `json:"stableSeconds,omitempty"` // legacy

	CaptureLines int   `json:"captureLines,omitempty"`
	StripANSI    bool  `json:"stripAnsi,omitempty"`
	Enabled      *bool `json:"enabled,omitempty"` // nil means true

	Notify *NotifyOverride `json:"notify,omitempty"`
}

// IsEnabled treats an absent enabled flag as true.
func (s Subscription) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Valid reports whether the record can be watched at all.
func (s Subscription) Valid() bool {
	return strings.TrimSpace(s.ID) != "" && strings.TrimSpace(s.Target) != ""
}

// NotifyOverride is a per-subscription notify configuration that takes
// precedence over the daemon-level one.
type NotifyOverride struct {
	Mode    string         `json:"mode,omitempty"` // last | targets | targets+last
	Targets []NotifyTarget `json:"targets,omitempty"`
}

// NotifyTarget is an explicitly configured destination.
type NotifyTarget struct {
	Channel   string `json:"channel"`
	Target    string `json:"target"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	Label     string `json:"label,omitempty"`
}

// sanitize trims fields and reports whether the target is usable
// (channel and address both present).
func (t NotifyTarget) sanitize() (NotifyTarget, bool) {
	t.Channel = strings.ToLower(strings.TrimSpace(t.Channel))
	t.Target = strings.TrimSpace(t.Target)
	t.AccountID = strings.TrimSpace(t.AccountID)
	t.ThreadID = strings.TrimSpace(t.ThreadID)
	t.Label = strings.TrimSpace(t.Label)
	return t, t.Channel != "" && t.Target != ""
}

// Target sources, recorded on each resolved destination.
const (
	SourceExplicit          = "explicit-target"
	SourceLastKnown         = "last-known"
	SourceLastKnownFallback = "last-known-fallback"
)

// ResolvedTarget is a destination produced for one notification episode.
// It is never persisted.
type ResolvedTarget struct {
	Channel   string `json:"channel"`
	Target    string `json:"target"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	Label     string `json:"label,omitempty"`
	Source    string `json:"source"`
}

// dedupeKey identifies a destination for order-preserving deduplication.
func (t ResolvedTarget) dedupeKey() string {
	return t.Channel + "|" + t.Target + "|" + t.AccountID + "|" + t.ThreadID
}

// State is the persisted document: a version tag plus the ordered
// subscription collection.
type State struct {
	Version       int            `json:"version"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Patch is a partial subscription update. Nil fields keep the previous
// value; an empty ID means "create with a generated id".
type Patch struct {
	ID         string
	Target     *string
	Label      *string
	Note       *string
	Socket     *string
	SessionKey *string

	CaptureIntervalSeconds *int
	IntervalMS             *int
	StableCount            *int
	StableSeconds          *int

	CaptureLines *int
	StripANSI    *bool
	Enabled      *bool

	Notify *NotifyOverride
}

// Defaults are the daemon-level fallbacks consulted when a subscription
// leaves a parameter unset. Zero fields fall through to the built-ins.
type Defaults struct {
	CaptureIntervalSeconds int
	IntervalMS             int // legacy
	StableCount            int
	StableSeconds          int // legacy
	CaptureLines           int
	MaxAlertChars          int
}

// watchRuntime is the ephemeral per-subscription poll state. It is created
// when a subscription becomes managed and discarded the moment the
// subscription leaves the store's view.
type watchRuntime struct {
	running bool

	stableTicks      int
	lastHash         string
	lastOutput       string
	lastNotifiedHash string

	lastCapturedAt time.Time
	lastNotifiedAt time.Time
	lastErr        string
}
