package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"panewatch/internal/capture"
	"panewatch/internal/textutil"
	"panewatch/pkg/logx"
)

// Capturer is the external capture collaborator.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (string, error)
}

// SchedulerConfig is the daemon-level watch configuration.
type SchedulerConfig struct {
	Defaults          Defaults
	Notify            NotifyConfig
	ReconcileInterval time.Duration // 0 means 15s
}

// Scheduler owns one recurring timer per managed, enabled subscription plus
// one reconciliation timer, and drives capture → detection → resolution →
// dispatch on each tick.
//
// Guarantees:
//   - at most one poll in flight per subscription; an overlapping tick is
//     skipped, not queued
//   - concurrent reconcile triggers collapse into one pass (later triggers
//     wait on the same mutex and re-check the change probe)
//   - stopping clears all timers but never interrupts an in-flight capture
//     or delivery; a late result is discarded by the managed-set guard
type Scheduler struct {
	store      *Store
	capturer   Capturer
	resolver   *Resolver
	dispatcher *Dispatcher
	log        logx.Logger

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cron    *cron.Cron
	managed map[string]*managedWatch

	defaults       Defaults
	notify         NotifyConfig
	reconcileEvery time.Duration

	// Serializes reconcile passes so concurrent triggers collapse into one.
	reconcileMu sync.Mutex
}

type managedWatch struct {
	sub   Subscription
	hash  uint64
	entry cron.EntryID
	rt    *watchRuntime
}

// WatchStatus is a point-in-time snapshot of one managed subscription's
// runtime, for operator inspection.
type WatchStatus struct {
	ID             string
	Target         string
	Enabled        bool
	StableTicks    int
	LastCapturedAt time.Time
	LastNotifiedAt time.Time
	LastError      string
}

func NewScheduler(cfg SchedulerConfig, store *Store, capturer Capturer, resolver *Resolver, dispatcher *Dispatcher, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	every := cfg.ReconcileInterval
	if every <= 0 {
		every = 15 * time.Second
	}
	return &Scheduler{
		store:          store,
		capturer:       capturer,
		resolver:       resolver,
		dispatcher:     dispatcher,
		log:            log,
		managed:        map[string]*managedWatch{},
		defaults:       cfg.Defaults,
		notify:         cfg.Notify,
		reconcileEvery: every,
	}
}

// Start arms the reconciliation timer and one capture timer per currently
// enabled subscription.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.runCtx = ctx
	c := cron.New()
	s.cron = c
	s.mu.Unlock()

	if _, err := c.AddFunc(everySpec(s.reconcileEvery), func() { s.reconcile(false) }); err != nil {
		return fmt.Errorf("arm reconcile timer: %w", err)
	}
	s.reconcile(true)
	c.Start()

	s.mu.Lock()
	n := len(s.managed)
	s.mu.Unlock()
	s.log.Info("watch scheduler started",
		logx.Int("watches", n), logx.Duration("reconcile_every", s.reconcileEvery))
	return nil
}

// Stop clears every timer the scheduler owns. An in-flight capture or
// delivery is allowed to finish; its result is discarded by the guard in
// pollOnce.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.cron
	s.cron = nil
	s.managed = map[string]*managedWatch{}
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	s.log.Info("watch scheduler stopped")
}

// Apply installs new daemon-level defaults and notify configuration, then
// restarts every capture timer so changed effective intervals take effect.
func (s *Scheduler) Apply(cfg SchedulerConfig) {
	s.mu.Lock()
	s.defaults = cfg.Defaults
	s.notify = cfg.Notify
	if cfg.ReconcileInterval > 0 {
		s.reconcileEvery = cfg.ReconcileInterval
	}
	started := s.started
	if started {
		for id, mw := range s.managed {
			s.cron.Remove(mw.entry)
			mw.entry = s.addEntryLocked(id, effectiveInterval(mw.sub, s.defaults))
		}
	}
	s.mu.Unlock()
	if started {
		s.log.Info("watch defaults applied")
	}
}

// Status reports a snapshot of every managed subscription's runtime.
func (s *Scheduler) Status() []WatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WatchStatus, 0, len(s.managed))
	for _, mw := range s.managed {
		out = append(out, WatchStatus{
			ID:             mw.sub.ID,
			Target:         mw.sub.Target,
			Enabled:        mw.sub.IsEnabled(),
			StableTicks:    mw.rt.stableTicks,
			LastCapturedAt: mw.rt.lastCapturedAt,
			LastNotifiedAt: mw.rt.lastNotifiedAt,
			LastError:      mw.rt.lastErr,
		})
	}
	return out
}

// LogStatus writes one line per managed watch, including the last capture
// error. The daemon triggers it on SIGUSR1 for live inspection.
func (s *Scheduler) LogStatus() {
	statuses := s.Status()
	s.log.Info("watch status dump", logx.Int("watches", len(statuses)))
	for _, ws := range statuses {
		s.log.Info("watch status",
			logx.String("watch", ws.ID),
			logx.String("target", ws.Target),
			logx.Bool("enabled", ws.Enabled),
			logx.Int("stable_ticks", ws.StableTicks),
			logx.Time("last_captured_at", ws.LastCapturedAt),
			logx.Time("last_notified_at", ws.LastNotifiedAt),
			logx.String("last_error", ws.LastError))
	}
}

// reconcile brings the managed set back in sync with the store: timers are
// added for new records, removed (runtime discarded) for records no longer
// present or disabled, and restarted for records whose parameters changed.
//
// force skips the cheap change probe; periodic ticks pass false so an
// unchanged file costs one stat call.
func (s *Scheduler) reconcile(force bool) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if !force && !s.store.Changed() {
		return
	}
	st := s.store.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	seen := map[string]bool{}
	for _, sub := range st.Subscriptions {
		if !sub.IsEnabled() {
			continue
		}
		seen[sub.ID] = true
		h := hashSubscription(sub)

		mw, ok := s.managed[sub.ID]
		if !ok {
			mw = &managedWatch{sub: sub, hash: h, rt: &watchRuntime{}}
			mw.entry = s.addEntryLocked(sub.ID, effectiveInterval(sub, s.defaults))
			s.managed[sub.ID] = mw
			s.log.Info("watch added", logx.String("watch", sub.ID), logx.String("target", sub.Target))
			continue
		}
		if mw.hash != h {
			s.cron.Remove(mw.entry)
			mw.sub = sub
			mw.hash = h
			mw.entry = s.addEntryLocked(sub.ID, effectiveInterval(sub, s.defaults))
			s.log.Info("watch updated", logx.String("watch", sub.ID), logx.String("target", sub.Target))
		}
	}

	for id, mw := range s.managed {
		if seen[id] {
			continue
		}
		s.cron.Remove(mw.entry)
		delete(s.managed, id)
		s.log.Info("watch removed", logx.String("watch", id))
	}
}

func (s *Scheduler) addEntryLocked(id string, interval time.Duration) cron.EntryID {
	entry, err := s.cron.AddFunc(everySpec(interval), func() { s.pollOnce(id) })
	if err != nil {
		// Interval resolution floors at minInterval, so this spec is always
		// parseable; log defensively anyway.
		s.log.Error("arm capture timer failed", logx.String("watch", id), logx.Err(err))
	}
	return entry
}

// pollOnce runs one capture tick for a subscription.
func (s *Scheduler) pollOnce(id string) {
	s.mu.Lock()
	mw, ok := s.managed[id]
	if !ok || !s.started {
		s.mu.Unlock()
		return
	}
	if mw.rt.running {
		// Capture is outlasting the interval; skip rather than pile up.
		s.mu.Unlock()
		s.log.Debug("poll still in flight; skipping tick", logx.String("watch", id))
		return
	}
	mw.rt.running = true
	sub := mw.sub
	rt := mw.rt
	runCtx := s.runCtx
	defaults := s.defaults
	notify := s.notify
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if cur, ok := s.managed[id]; ok && cur.rt == rt {
			cur.rt.running = false
		}
		s.mu.Unlock()
	}()

	interval := effectiveInterval(sub, defaults)
	cctx, cancel := context.WithTimeout(runCtx, interval)
	text, err := s.capturer.Capture(cctx, capture.Request{
		Target: sub.Target,
		Socket: sub.Socket,
		Lines:  effectiveLines(sub, defaults),
	})
	cancel()
	now := time.Now()

	// The subscription may have been disabled or removed while the capture
	// was in flight; if so, discard the result silently.
	s.mu.Lock()
	cur, ok := s.managed[id]
	if !ok || !s.started || cur.rt != rt {
		s.mu.Unlock()
		return
	}
	if err != nil {
		rt.observeFailure(err, now)
		s.mu.Unlock()
		s.log.Warn("capture failed", logx.String("watch", id), logx.String("target", sub.Target), logx.Err(err))
		return
	}
	if sub.StripANSI {
		text = textutil.StripANSI(text)
	}
	required := requiredStableCount(sub, interval, defaults)
	stable := rt.observe(text, required, now)
	output := rt.lastOutput
	s.mu.Unlock()

	if !stable {
		return
	}
	s.log.Info("watch stable", logx.String("watch", id), logx.String("target", sub.Target),
		logx.Int("stable_count", required), logx.Duration("interval", interval))

	targets, mode := s.resolver.Resolve(runCtx, sub, notify)
	if len(targets) == 0 {
		s.log.Warn("stable episode had no resolvable notify targets", logx.String("watch", id))
		return
	}

	sessionKey := sub.SessionKey
	if sessionKey == "" {
		sessionKey = notify.SessionKey
	}
	s.dispatcher.Dispatch(runCtx, episode{
		sub:        sub,
		output:     output,
		capturedAt: now,
		interval:   interval,
		required:   required,
		targets:    targets,
		mode:       mode,
		sessionKey: sessionKey,
	})
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// hashSubscription returns a stable hash of the record for cheap
// parameter-change detection across reconcile passes.
func hashSubscription(sub Subscription) uint64 {
	b, err := json.Marshal(sub)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
