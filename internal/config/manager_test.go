package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"panewatch/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"watch": {
			"state_path": "/var/lib/panewatch/watches.json",
			"capture_interval_seconds": 3,
			"stable_count": 5
		},
		"notify": {
			"mode": "targets+last",
			"targets": [{"channel": "telegram", "target": "12345"}]
		},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}}
	}`)

	cfg, err := NewManager(path, logx.Nop()).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Watch.CaptureIntervalSeconds != 3 || cfg.Watch.StableCount != 5 {
		t.Fatalf("watch fields not decoded: %+v", cfg.Watch)
	}
	if cfg.Notify.Mode != "targets+last" || len(cfg.Notify.Targets) != 1 {
		t.Fatalf("notify fields not decoded: %+v", cfg.Notify)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
watch:
  state_path: /var/lib/panewatch/watches.json
  reconcile_interval: 30s
  interval_ms: 2000
telegram:
  token: test-token
  send_timeout: 10s
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)

	cfg, err := NewManager(path, logx.Nop()).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Watch.IntervalMS != 2000 {
		t.Fatalf("legacy interval_ms not decoded: %+v", cfg.Watch)
	}
	if cfg.Telegram == nil || cfg.Telegram.Token != "test-token" {
		t.Fatalf("telegram section not decoded: %+v", cfg.Telegram)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
watch:
  state_path: /tmp/watches.json
  state_psth_typo: /tmp/oops.json
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
`)
	if _, err := NewManager(path, logx.Nop()).Parse(); err == nil {
		t.Fatal("unknown key must be rejected")
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing state path", `{"watch": {"state_path": "  "}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`},
		{"bad reconcile interval", `{"watch": {"state_path": "/tmp/w.json", "reconcile_interval": "soon"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`},
		{"unknown notify mode", `{"watch": {"state_path": "/tmp/w.json"}, "notify": {"mode": "broadcast"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tc.body)
			if _, err := NewManager(path, logx.Nop()).Parse(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSubscribePublishDropsStale(t *testing.T) {
	m := NewManager("unused", logx.Nop())
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Notify: NotifyConfig{Mode: "last"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got != second {
		t.Fatalf("subscriber must receive the newest config, got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra config %+v", extra)
	default:
	}
}

func TestDurationAccessors(t *testing.T) {
	var w WatchConfig
	if d, err := w.ReconcileEvery(15 * time.Second); err != nil || d != 15*time.Second {
		t.Fatalf("unset reconcile interval = %s, %v; want the default", d, err)
	}
	w.ReconcileInterval = "30s"
	if d, err := w.ReconcileEvery(15 * time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("reconcile interval = %s, %v; want 30s", d, err)
	}
	w.ReconcileInterval = "soon"
	if _, err := w.ReconcileEvery(15 * time.Second); err == nil {
		t.Fatal("unparseable reconcile interval must error")
	}

	tg := TelegramConfig{SendTimeout: " 5s "}
	if d, err := tg.Timeout(); err != nil || d != 5*time.Second {
		t.Fatalf("send timeout = %s, %v; want 5s", d, err)
	}
	tg.SendTimeout = ""
	if d, err := tg.Timeout(); err != nil || d != 0 {
		t.Fatalf("unset send timeout = %s, %v; want 0", d, err)
	}
	tg.SendTimeout = "-1s"
	if _, err := tg.Timeout(); err == nil {
		t.Fatal("negative send timeout must error")
	}
}

func TestSetLoggerRedirectsReloadEvents(t *testing.T) {
	path := writeConfig(t, "config.json", `{broken`)
	m := NewManager(path, logx.Nop())

	var buf bytes.Buffer
	m.SetLogger(logx.NewWriter(&buf, "debug"))
	m.reload()

	if !strings.Contains(buf.String(), "config reload rejected") {
		t.Fatalf("reload events must reach the swapped logger, got %q", buf.String())
	}
}

func TestReloadKeepsPreviousOnParseFailure(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"watch": {"state_path": "/tmp/w.json"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}`)
	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if m.Get() != cfg {
		t.Fatal("failed reload must keep the previous config")
	}
}
