package watch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"panewatch/pkg/logx"
)

// Store owns the durable subscription document.
//
// The file is the single shared mutable resource between a daemon and any
// concurrent CLI edits, so every mutation is a full read-merge-write rewrite
// of the whole snapshot (tmp file + rename, always parseable) and external
// changes are detected with a cheap mtime probe instead of locking.
// Last writer wins on conflicting edits; that is deliberate.
type Store struct {
	path string
	log  logx.Logger

	mu      sync.Mutex
	lastMod time.Time
}

// ErrNotFound is returned by Get when no record carries the id.
var ErrNotFound = errors.New("subscription not found")

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

// Load reads the current persisted collection.
//
// A missing file, malformed content, or a version mismatch is an empty valid
// state, never an error: the watcher must keep running even when the state
// file was hand-edited into garbage.
func (s *Store) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() State {
	empty := State{Version: stateVersion, Subscriptions: []Subscription{}}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state file unreadable; treating as empty", logx.String("path", s.path), logx.Err(err))
		}
		s.rememberModLocked()
		return empty
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		s.log.Warn("state file malformed; treating as empty", logx.String("path", s.path), logx.Err(err))
		s.rememberModLocked()
		return empty
	}
	if st.Version != stateVersion {
		s.log.Warn("state file version mismatch; treating as empty",
			logx.String("path", s.path), logx.Int("version", st.Version), logx.Int("want", stateVersion))
		s.rememberModLocked()
		return empty
	}

	// Drop records that can't be watched; keep everything else verbatim.
	kept := make([]Subscription, 0, len(st.Subscriptions))
	for _, sub := range st.Subscriptions {
		if sub.Valid() {
			kept = append(kept, sub)
		}
	}
	st.Subscriptions = kept
	s.rememberModLocked()
	return st
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Subscription, error) {
	st := s.Load()
	for _, sub := range st.Subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return Subscription{}, ErrNotFound
}

// Upsert merges the patch over any existing record with the same id, or
// creates a new record with a generated id, and persists synchronously
// before returning the result.
func (s *Store) Upsert(p Patch) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked()

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}

	idx := -1
	for i, sub := range st.Subscriptions {
		if sub.ID == id {
			idx = i
			break
		}
	}

	var prev Subscription
	if idx >= 0 {
		prev = st.Subscriptions[idx]
	}
	next := applyPatch(prev, p)
	next.ID = id

	if !next.Valid() {
		return Subscription{}, errors.New("subscription target is required")
	}

	if idx >= 0 {
		st.Subscriptions[idx] = next
	} else {
		st.Subscriptions = append(st.Subscriptions, next)
	}

	if err := s.saveLocked(st); err != nil {
		return Subscription{}, err
	}
	return next, nil
}

// Remove deletes the record if present, persists, and reports whether
// anything was removed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked()
	kept := st.Subscriptions[:0]
	removed := false
	for _, sub := range st.Subscriptions {
		if sub.ID == id {
			removed = true
			continue
		}
		kept = append(kept, sub)
	}
	if !removed {
		return false, nil
	}
	st.Subscriptions = kept
	if err := s.saveLocked(st); err != nil {
		return false, err
	}
	return true, nil
}

// Changed cheaply reports whether the file has been modified since this
// process last loaded or saved it.
func (s *Store) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		// Missing file counts as changed only if we previously saw one.
		return !s.lastMod.IsZero()
	}
	return !fi.ModTime().Equal(s.lastMod)
}

func (s *Store) saveLocked(st State) error {
	st.Version = stateVersion

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.rememberModLocked()
	return nil
}

func (s *Store) rememberModLocked() {
	if fi, err := os.Stat(s.path); err == nil {
		s.lastMod = fi.ModTime()
	} else {
		s.lastMod = time.Time{}
	}
}

// applyPatch shallow-merges a patch over a snapshot, returning a new record.
// String fields are trimmed; nil patch fields keep the previous value.
func applyPatch(prev Subscription, p Patch) Subscription {
	next := prev

	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	setStr(&next.Target, p.Target)
	setStr(&next.Label, p.Label)
	setStr(&next.Note, p.Note)
	setStr(&next.Socket, p.Socket)
	setStr(&next.SessionKey, p.SessionKey)

	setInt(&next.CaptureIntervalSeconds, p.CaptureIntervalSeconds)
	setInt(&next.IntervalMS, p.IntervalMS)
	setInt(&next.StableCount, p.StableCount)
	setInt(&next.StableSeconds, p.StableSeconds)
	setInt(&next.CaptureLines, p.CaptureLines)

	if p.StripANSI != nil {
		next.StripANSI = *p.StripANSI
	}
	if p.Enabled != nil {
		v := *p.Enabled
		next.Enabled = &v
	}
	if p.Notify != nil {
		cp := *p.Notify
		cp.Targets = append([]NotifyTarget(nil), p.Notify.Targets...)
		next.Notify = &cp
	}
	return next
}
