package watch

import (
	"context"
	"testing"
	"time"

	"panewatch/internal/sessions"
	"panewatch/pkg/logx"
)

type fakeRoutes struct {
	byKey  map[string]*sessions.Route
	recent []sessions.Route
}

func (f *fakeRoutes) LastRoute(ctx context.Context, key string) (*sessions.Route, error) {
	return f.byKey[key], nil
}

func (f *fakeRoutes) RecentRoutes(ctx context.Context, limit int) ([]sessions.Route, error) {
	return f.recent, nil
}

func newTestResolver(routes RouteSource) *Resolver {
	return NewResolver(routes, logx.Nop())
}

func TestResolveExplicitTargets(t *testing.T) {
	r := newTestResolver(&fakeRoutes{})
	sub := Subscription{ID: "w1", Target: "main:1.0", Notify: &NotifyOverride{
		Mode: ModeTargets,
		Targets: []NotifyTarget{
			{Channel: " Telegram ", Target: " 12345 "},
			{Channel: "telegram", Target: ""}, // dropped: no address
			{Channel: "", Target: "980"},      // dropped: no channel
		},
	}}

	got, mode := r.Resolve(context.Background(), sub, NotifyConfig{Mode: ModeLast})
	if mode != ModeTargets {
		t.Fatalf("subscription mode must override global, got %q", mode)
	}
	if len(got) != 1 {
		t.Fatalf("resolved %d targets, want 1: %+v", len(got), got)
	}
	if got[0].Channel != "telegram" || got[0].Target != "12345" || got[0].Source != SourceExplicit {
		t.Fatalf("unexpected target %+v", got[0])
	}
}

func TestResolveDedupePreservesExplicitOrder(t *testing.T) {
	routes := &fakeRoutes{byKey: map[string]*sessions.Route{
		"sess": {SessionKey: "sess", Channel: "telegram", Target: "111"},
	}}
	r := newTestResolver(routes)
	sub := Subscription{ID: "w1", Target: "main:1.0", SessionKey: "sess", Notify: &NotifyOverride{
		Mode: ModeTargetsLast,
		Targets: []NotifyTarget{
			{Channel: "telegram", Target: "111"}, // A, same as last-known
			{Channel: "telegram", Target: "222"}, // B
		},
	}}

	got, _ := r.Resolve(context.Background(), sub, NotifyConfig{})
	if len(got) != 2 {
		t.Fatalf("resolved %d targets, want 2: %+v", len(got), got)
	}
	if got[0].Target != "111" || got[0].Source != SourceExplicit {
		t.Fatalf("explicit entry must win the tie: %+v", got[0])
	}
	if got[1].Target != "222" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestResolveLastKnownExternal(t *testing.T) {
	routes := &fakeRoutes{byKey: map[string]*sessions.Route{
		"sess": {SessionKey: "sess", Channel: "telegram", Target: "42", ThreadID: "7"},
	}}
	r := newTestResolver(routes)
	sub := Subscription{ID: "w1", Target: "main:1.0", SessionKey: "sess"}

	got, mode := r.Resolve(context.Background(), sub, NotifyConfig{Mode: ModeLast})
	if mode != ModeLast || len(got) != 1 {
		t.Fatalf("got mode %q targets %+v", mode, got)
	}
	if got[0].Source != SourceLastKnown || got[0].ThreadID != "7" {
		t.Fatalf("unexpected target %+v", got[0])
	}
}

func TestResolveInternalChannelFallsBackToExternal(t *testing.T) {
	now := time.Now()
	routes := &fakeRoutes{
		byKey: map[string]*sessions.Route{
			"sess": {SessionKey: "sess", Channel: "webchat", Target: "ui-1", UpdatedAt: now},
		},
		recent: []sessions.Route{
			{SessionKey: "sess", Channel: "webchat", Target: "ui-1", UpdatedAt: now},
			{SessionKey: "other", Channel: "telegram", Target: "42", UpdatedAt: now.Add(-time.Minute)},
		},
	}
	r := newTestResolver(routes)
	sub := Subscription{ID: "w1", Target: "main:1.0", SessionKey: "sess"}

	got, _ := r.Resolve(context.Background(), sub, NotifyConfig{Mode: ModeLast})
	if len(got) != 1 {
		t.Fatalf("resolved %d targets, want 1", len(got))
	}
	if got[0].Channel != "telegram" || got[0].Source != SourceLastKnownFallback {
		t.Fatalf("expected external fallback, got %+v", got[0])
	}
}

func TestResolveInternalChannelSelfWhenNoExternal(t *testing.T) {
	routes := &fakeRoutes{
		byKey: map[string]*sessions.Route{
			"sess": {SessionKey: "sess", Channel: "webchat", Target: "ui-1"},
		},
		recent: []sessions.Route{
			{SessionKey: "sess", Channel: "webchat", Target: "ui-1"},
		},
	}
	r := newTestResolver(routes)
	sub := Subscription{ID: "w1", Target: "main:1.0", SessionKey: "sess"}

	// Better than silence: the internal route itself comes back.
	got, _ := r.Resolve(context.Background(), sub, NotifyConfig{Mode: ModeLast})
	if len(got) != 1 {
		t.Fatalf("resolved %d targets, want 1", len(got))
	}
	if got[0].Channel != "webchat" || got[0].Source != SourceLastKnown {
		t.Fatalf("expected internal self-fallback, got %+v", got[0])
	}
}

func TestResolveNoSessionScope(t *testing.T) {
	r := newTestResolver(&fakeRoutes{})
	sub := Subscription{ID: "w1", Target: "main:1.0"}

	got, _ := r.Resolve(context.Background(), sub, NotifyConfig{Mode: ModeLast})
	if len(got) != 0 {
		t.Fatalf("no session scope must resolve zero targets, got %+v", got)
	}
}

func TestResolveGlobalTargetsWhenSubHasNone(t *testing.T) {
	r := newTestResolver(&fakeRoutes{})
	sub := Subscription{ID: "w1", Target: "main:1.0"}
	cfg := NotifyConfig{Mode: ModeTargets, Targets: []NotifyTarget{{Channel: "telegram", Target: "555"}}}

	got, _ := r.Resolve(context.Background(), sub, cfg)
	if len(got) != 1 || got[0].Target != "555" {
		t.Fatalf("global targets must apply, got %+v", got)
	}
}
