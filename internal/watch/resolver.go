package watch

import (
	"context"
	"strings"

	"panewatch/internal/channels"
	"panewatch/internal/sessions"
	"panewatch/pkg/logx"
)

// Notify modes. A subscription-level mode overrides the daemon-level one.
const (
	ModeLast        = "last"
	ModeTargets     = "targets"
	ModeTargetsLast = "targets+last"
)

// NotifyConfig is the daemon-level notify configuration.
type NotifyConfig struct {
	Mode       string
	Targets    []NotifyTarget
	SessionKey string // default destination-resolution scope
}

// RouteSource is the session destination-history collaborator.
type RouteSource interface {
	LastRoute(ctx context.Context, sessionKey string) (*sessions.Route, error)
	RecentRoutes(ctx context.Context, limit int) ([]sessions.Route, error)
}

// Resolver turns a subscription's notify configuration plus session history
// into an ordered, deduplicated destination list.
type Resolver struct {
	routes RouteSource
	log    logx.Logger
}

func NewResolver(routes RouteSource, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{routes: routes, log: log}
}

// Resolve produces the destination list for one notification episode, along
// with the mode that was applied. An empty list means the episode should be
// abandoned.
func (r *Resolver) Resolve(ctx context.Context, sub Subscription, cfg NotifyConfig) ([]ResolvedTarget, string) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	explicit := cfg.Targets
	if sub.Notify != nil {
		if m := strings.ToLower(strings.TrimSpace(sub.Notify.Mode)); m != "" {
			mode = m
		}
		if len(sub.Notify.Targets) > 0 {
			explicit = sub.Notify.Targets
		}
	}
	switch mode {
	case ModeLast, ModeTargets, ModeTargetsLast:
	default:
		mode = ModeLast
	}

	var out []ResolvedTarget
	if mode == ModeTargets || mode == ModeTargetsLast {
		for _, t := range explicit {
			st, ok := t.sanitize()
			if !ok {
				continue
			}
			out = append(out, ResolvedTarget{
				Channel:   st.Channel,
				Target:    st.Target,
				AccountID: st.AccountID,
				ThreadID:  st.ThreadID,
				Label:     st.Label,
				Source:    SourceExplicit,
			})
		}
	}
	if mode == ModeLast || mode == ModeTargetsLast {
		if last := r.lastKnown(ctx, sub, cfg); last != nil {
			out = append(out, *last)
		}
	}

	return dedupeTargets(out), mode
}

// lastKnown looks up the most recent delivery destination for the
// subscription's session scope. Internal channels are not externally
// reachable, so when the stored route points at one, the most recently
// updated external route (any session, different address) is preferred;
// the internal route itself is still better than silence when nothing
// external exists.
func (r *Resolver) lastKnown(ctx context.Context, sub Subscription, cfg NotifyConfig) *ResolvedTarget {
	if r.routes == nil {
		return nil
	}
	key := strings.TrimSpace(sub.SessionKey)
	if key == "" {
		key = strings.TrimSpace(cfg.SessionKey)
	}
	if key == "" {
		r.log.Debug("no session scope for last-known resolution", logx.String("watch", sub.ID))
		return nil
	}

	route, err := r.routes.LastRoute(ctx, key)
	if err != nil {
		r.log.Warn("session route lookup failed", logx.String("watch", sub.ID), logx.Err(err))
		return nil
	}
	if route == nil {
		return nil
	}

	if !channels.IsInternal(route.Channel) {
		return routeTarget(*route, SourceLastKnown)
	}

	// The stored route is an internal channel. Scan for the freshest
	// external route, excluding the rejected address.
	recent, err := r.routes.RecentRoutes(ctx, 0)
	if err != nil {
		r.log.Warn("session route scan failed", logx.String("watch", sub.ID), logx.Err(err))
	}
	for _, cand := range recent {
		if channels.IsInternal(cand.Channel) {
			continue
		}
		if cand.Target == route.Target {
			continue
		}
		return routeTarget(cand, SourceLastKnownFallback)
	}

	// Better than silence: fall back to the internal destination itself.
	return routeTarget(*route, SourceLastKnown)
}

func routeTarget(route sessions.Route, source string) *ResolvedTarget {
	t, ok := NotifyTarget{
		Channel:   route.Channel,
		Target:    route.Target,
		AccountID: route.AccountID,
		ThreadID:  route.ThreadID,
		Label:     route.Label,
	}.sanitize()
	if !ok {
		return nil
	}
	return &ResolvedTarget{
		Channel:   t.Channel,
		Target:    t.Target,
		AccountID: t.AccountID,
		ThreadID:  t.ThreadID,
		Label:     t.Label,
		Source:    source,
	}
}

// dedupeTargets preserves first-seen order, so explicit entries win ties
// over last-known ones.
func dedupeTargets(in []ResolvedTarget) []ResolvedTarget {
	seen := make(map[string]bool, len(in))
	out := make([]ResolvedTarget, 0, len(in))
	for _, t := range in {
		key := t.dedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
