package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"panewatch/internal/channels"
	"panewatch/internal/sessions"
	"panewatch/internal/textutil"
	"panewatch/pkg/logx"
)

// Alert is the immutable payload built for one stable episode.
type Alert struct {
	WatchID    string           `json:"watchId"`
	Label      string           `json:"label,omitempty"`
	Note       string           `json:"note,omitempty"`
	Target     string           `json:"target"`
	SessionKey string           `json:"sessionKey,omitempty"`
	Mode       string           `json:"mode"`
	Targets    []ResolvedTarget `json:"targets"`
	Primary    ResolvedTarget   `json:"primary"`

	Output    string `json:"output"`
	Truncated bool   `json:"truncated"`

	StableCount    int           `json:"stableCount"`
	StableDuration time.Duration `json:"stableDuration"`
	Interval       time.Duration `json:"interval"`
	CapturedAt     time.Time     `json:"capturedAt"`

	Preamble string `json:"preamble"`
}

// Body is the raw preamble-plus-output text delivered when no summarizer
// produces a final payload, and always mirrored verbatim to secondaries.
func (a Alert) Body() string {
	return a.Preamble + "\n\n" + a.Output
}

// Summarizer may turn an alert into a final text payload for the primary
// target. Returning ok=false declines, in which case the dispatcher falls
// back to the raw body.
type Summarizer interface {
	Summarize(ctx context.Context, a Alert) (text string, ok bool, err error)
}

// RouteRecorder receives successful external deliveries so session history
// stays fresh.
type RouteRecorder interface {
	RecordRoute(ctx context.Context, r sessions.Route) error
}

// Dispatcher builds alert payloads and delivers them: the primary target
// through the summarizer (raw-body fallback), every secondary with the
// identical raw body. Delivery failures are logged, never propagated, and
// never block sibling targets.
type Dispatcher struct {
	registry   *channels.Registry
	summarizer Summarizer
	recorder   RouteRecorder
	limiter    *rate.Limiter
	maxChars   int
	log        logx.Logger
}

type DispatcherConfig struct {
	MaxAlertChars int
	RatePerSec    int // 0 disables rate limiting
}

func NewDispatcher(cfg DispatcherConfig, registry *channels.Registry, summarizer Summarizer, recorder RouteRecorder, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		registry:   registry,
		summarizer: summarizer,
		recorder:   recorder,
		maxChars:   cfg.MaxAlertChars,
		log:        log,
	}
	if d.maxChars <= 0 {
		d.maxChars = defaultMaxChars
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// episode carries everything the dispatcher needs from one stable event.
type episode struct {
	sub        Subscription
	output     string
	capturedAt time.Time
	interval   time.Duration
	required   int
	targets    []ResolvedTarget
	mode       string
	sessionKey string
}

// BuildAlert assembles the payload. The output is truncated to the
// configured character budget, keeping the tail.
func (d *Dispatcher) BuildAlert(ep episode) Alert {
	out, truncated := textutil.TruncateTail(ep.output, d.maxChars)
	a := Alert{
		WatchID:        ep.sub.ID,
		Label:          ep.sub.Label,
		Note:           ep.sub.Note,
		Target:         ep.sub.Target,
		SessionKey:     ep.sessionKey,
		Mode:           ep.mode,
		Targets:        ep.targets,
		Primary:        ep.targets[0],
		Output:         out,
		Truncated:      truncated,
		StableCount:    ep.required,
		StableDuration: time.Duration(ep.required) * ep.interval,
		Interval:       ep.interval,
		CapturedAt:     ep.capturedAt,
	}
	a.Preamble = buildPreamble(a)
	return a
}

func buildPreamble(a Alert) string {
	name := a.Label
	if name == "" {
		name = a.Target
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[pane watch] %s has shown no output change for %s (%d polls at %s intervals).",
		name, a.StableDuration, a.StableCount, a.Interval)
	if a.Note != "" {
		fmt.Fprintf(&b, " Note: %s.", a.Note)
	}
	b.WriteString(" This is a system-generated watcher event, not user input.")
	b.WriteString(" Summarize the captured output below and notify the user, unless they explicitly asked for silence on this watch.")
	if a.Truncated {
		b.WriteString(" The output was truncated to its trailing portion.")
	}
	return b.String()
}

// Dispatch delivers the alert. Primary delivery always completes (or fails)
// before any secondary mirror is attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, ep episode) {
	if len(ep.targets) == 0 {
		d.log.Info("no notify targets resolved; skipping alert", logx.String("watch", ep.sub.ID))
		return
	}
	a := d.BuildAlert(ep)

	body := a.Body()
	primaryText := body
	if d.summarizer != nil {
		text, ok, err := d.summarizer.Summarize(ctx, a)
		switch {
		case err != nil:
			d.log.Warn("summarizer failed; falling back to raw body", logx.String("watch", a.WatchID), logx.Err(err))
		case ok && strings.TrimSpace(text) != "":
			primaryText = text
		}
	}

	d.deliver(ctx, a, a.Primary, primaryText)
	for _, tgt := range a.Targets[1:] {
		d.deliver(ctx, a, tgt, body)
	}
}

// deliver sends to one target. Failure is logged and absorbed so one broken
// destination never blocks the others or the scheduler.
func (d *Dispatcher) deliver(ctx context.Context, a Alert, tgt ResolvedTarget, text string) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Warn("rate limit wait aborted", logx.String("watch", a.WatchID), logx.Err(err))
			return
		}
	}

	sender, err := d.registry.Sender(tgt.Channel)
	if err != nil {
		d.log.Warn("alert delivery skipped",
			logx.String("watch", a.WatchID), logx.String("channel", tgt.Channel), logx.Err(err))
		return
	}

	err = sender.SendText(ctx, channels.Target{
		Address:   tgt.Target,
		AccountID: tgt.AccountID,
		ThreadID:  tgt.ThreadID,
	}, text)
	if err != nil {
		d.log.Warn("alert delivery failed",
			logx.String("watch", a.WatchID),
			logx.String("channel", tgt.Channel),
			logx.String("target", tgt.Target),
			logx.Err(err))
		return
	}

	d.log.Info("alert delivered",
		logx.String("watch", a.WatchID),
		logx.String("channel", tgt.Channel),
		logx.String("target", tgt.Target),
		logx.String("source", tgt.Source))

	if d.recorder != nil && a.SessionKey != "" && !channels.IsInternal(tgt.Channel) {
		rec := sessions.Route{
			SessionKey: a.SessionKey,
			Channel:    tgt.Channel,
			Target:     tgt.Target,
			AccountID:  tgt.AccountID,
			ThreadID:   tgt.ThreadID,
			Label:      tgt.Label,
		}
		if err := d.recorder.RecordRoute(ctx, rec); err != nil {
			d.log.Debug("session route record failed", logx.String("watch", a.WatchID), logx.Err(err))
		}
	}
}
