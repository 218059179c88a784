package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"panewatch/pkg/logx"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "watches.json"), logx.Nop())
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }

func TestLoadMissingFile(t *testing.T) {
	st := tempStore(t).Load()
	if st.Version != stateVersion {
		t.Fatalf("version = %d, want %d", st.Version, stateVersion)
	}
	if len(st.Subscriptions) != 0 {
		t.Fatalf("expected empty subscriptions, got %d", len(st.Subscriptions))
	}
}

func TestLoadMalformedAndVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watches.json")
	s := NewStore(path, logx.Nop())

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if st := s.Load(); len(st.Subscriptions) != 0 || st.Version != stateVersion {
		t.Fatalf("malformed file must load as empty state, got %+v", st)
	}

	if err := os.WriteFile(path, []byte(`{"version": 99, "subscriptions": [{"id":"a","target":"x:0.0"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if st := s.Load(); len(st.Subscriptions) != 0 {
		t.Fatalf("version mismatch must load as empty state, got %+v", st)
	}
}

func TestLoadDropsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watches.json")
	s := NewStore(path, logx.Nop())

	doc := `{"version": 1, "subscriptions": [
		{"id": "ok", "target": "main:1.0"},
		{"id": "no-target"},
		{"target": "orphan:0.0"}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	st := s.Load()
	if len(st.Subscriptions) != 1 || st.Subscriptions[0].ID != "ok" {
		t.Fatalf("expected only the valid record, got %+v", st.Subscriptions)
	}
}

func TestUpsertCreatesAndMerges(t *testing.T) {
	s := tempStore(t)

	created, err := s.Upsert(Patch{Target: strPtr("  main:1.0  "), Label: strPtr("build")})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("create must generate an id")
	}
	if created.Target != "main:1.0" {
		t.Fatalf("target not trimmed: %q", created.Target)
	}

	// Merge: only mentioned fields change.
	updated, err := s.Upsert(Patch{ID: created.ID, StableCount: intPtr(5), Enabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("Upsert merge: %v", err)
	}
	if updated.Target != "main:1.0" || updated.Label != "build" {
		t.Fatalf("merge dropped previous fields: %+v", updated)
	}
	if updated.StableCount != 5 || updated.IsEnabled() {
		t.Fatalf("merge did not apply patch: %+v", updated)
	}

	// Persisted synchronously.
	st := s.Load()
	if len(st.Subscriptions) != 1 || st.Subscriptions[0].StableCount != 5 {
		t.Fatalf("upsert not persisted: %+v", st.Subscriptions)
	}
}

func TestUpsertRequiresTarget(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Upsert(Patch{Label: strPtr("no target")}); err == nil {
		t.Fatalf("expected error for record without target")
	}
}

func TestRemove(t *testing.T) {
	s := tempStore(t)
	sub, err := s.Upsert(Patch{Target: strPtr("main:1.0")})
	if err != nil {
		t.Fatal(err)
	}

	removed, err := s.Remove(sub.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v; want true, nil", removed, err)
	}
	if removed, _ := s.Remove(sub.ID); removed {
		t.Fatalf("second remove of the same id must report false")
	}
	if st := s.Load(); len(st.Subscriptions) != 0 {
		t.Fatalf("record still present after remove")
	}
}

func TestChangedProbesModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watches.json")
	s := NewStore(path, logx.Nop())

	s.Load()
	if s.Changed() {
		t.Fatalf("missing file never seen must not report changed")
	}

	if _, err := s.Upsert(Patch{Target: strPtr("main:1.0")}); err != nil {
		t.Fatal(err)
	}
	if s.Changed() {
		t.Fatalf("own save must not report changed")
	}

	// Simulate another process rewriting the file.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	if !s.Changed() {
		t.Fatalf("external rewrite must report changed")
	}

	s.Load()
	if s.Changed() {
		t.Fatalf("load must clear the changed probe")
	}
}
