package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration document.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file may be JSON or YAML; YAML is coerced to JSON before the strict
// decode so unknown keys are rejected in both formats.
type Config struct {
	Watch    WatchConfig     `json:"watch"`
	Notify   NotifyConfig    `json:"notify,omitempty"`
	Sessions SessionsConfig  `json:"sessions,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
}

// WatchConfig holds the subscription file location and the daemon-level
// fallbacks for per-subscription polling parameters.
//
// Legacy note:
//   - interval_ms and stable_seconds are accepted for older configs;
//     new configs should use capture_interval_seconds and stable_count.
type WatchConfig struct {
	StatePath         string `json:"state_path"`
	ReconcileInterval string `json:"reconcile_interval,omitempty"`

	CaptureIntervalSeconds int `json:"capture_interval_seconds,omitempty"`
	IntervalMS             int `json:"interval_ms,omitempty"` // legacy
	StableCount            int `json:"stable_count,omitempty"`
	StableSeconds          int `json:"stable_seconds,omitempty"` // legacy

	CaptureLines  int `json:"capture_lines,omitempty"`
	MaxAlertChars int `json:"max_alert_chars,omitempty"`
}

// ReconcileEvery returns the parsed reconcile cadence, or def when the
// field is unset.
func (w WatchConfig) ReconcileEvery(def time.Duration) (time.Duration, error) {
	d, err := parseDuration("watch.reconcile_interval", w.ReconcileInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// NotifyConfig is the daemon-level notification routing.
type NotifyConfig struct {
	Mode       string               `json:"mode,omitempty"` // last | targets | targets+last
	SessionKey string               `json:"session_key,omitempty"`
	Targets    []NotifyTargetConfig `json:"targets,omitempty"`
	RatePerSec int                  `json:"rate_per_sec,omitempty"`
}

type NotifyTargetConfig struct {
	Channel   string `json:"channel"`
	Target    string `json:"target"`
	AccountID string `json:"account_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Label     string `json:"label,omitempty"`
}

// SessionsConfig locates the session route-history database.
type SessionsConfig struct {
	Path string `json:"path,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// SendTimeout is a Go duration string (e.g. "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

// Timeout returns the parsed send timeout; zero means the sender's own
// default applies.
func (t TelegramConfig) Timeout() (time.Duration, error) {
	return parseDuration("telegram.send_timeout", t.SendTimeout)
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
