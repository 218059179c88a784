package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"panewatch/internal/capture"
	"panewatch/internal/channels"
	"panewatch/internal/channels/telegram"
	"panewatch/internal/config"
	"panewatch/internal/sessions"
	"panewatch/internal/watch"
	"panewatch/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./panewatch.json", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	log, closeLog, err := logx.Open(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		return fmt.Errorf("open log sinks: %w", err)
	}
	defer closeLog()
	mgr.SetLogger(log.With(logx.String("component", "config")))

	routes, err := sessions.Open(sessionsPath(cfg), log.With(logx.String("component", "sessions")))
	if err != nil {
		return fmt.Errorf("open sessions store: %w", err)
	}
	defer routes.Close()

	registry := channels.NewRegistry()
	if cfg.Telegram != nil && cfg.Telegram.Token != "" {
		sendTimeout, err := cfg.Telegram.Timeout()
		if err != nil {
			return err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, SendTimeout: sendTimeout},
			log.With(logx.String("component", "telegram")))
		if err != nil {
			return fmt.Errorf("init telegram channel: %w", err)
		}
		registry.Register(telegram.Channel, tg)
	}
	if len(registry.Channels()) == 0 {
		log.Warn("no delivery channels configured; stable alerts will be logged and dropped")
	}

	store := watch.NewStore(cfg.Watch.StatePath, log.With(logx.String("component", "store")))
	capturer := capture.NewClient(log.With(logx.String("component", "capture")))
	resolver := watch.NewResolver(routes, log.With(logx.String("component", "resolver")))
	dispatcher := watch.NewDispatcher(watch.DispatcherConfig{
		MaxAlertChars: cfg.Watch.MaxAlertChars,
		RatePerSec:    cfg.Notify.RatePerSec,
	}, registry, nil, routes, log.With(logx.String("component", "dispatch")))

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return err
	}
	sched := watch.NewScheduler(schedCfg, store, capturer, resolver, dispatcher,
		log.With(logx.String("component", "scheduler")))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// SIGUSR1 dumps every managed watch's runtime state to the log.
	statusSig := make(chan os.Signal, 1)
	signal.Notify(statusSig, syscall.SIGUSR1)
	go func() {
		for range statusSig {
			sched.LogStatus()
		}
	}()

	// Live config reload: watch defaults and notify routing apply in place;
	// logging/channel changes need a restart.
	updates := mgr.Subscribe(1)
	go func() { _ = mgr.Watch(ctx) }()
	go func() {
		for next := range updates {
			nc, err := schedulerConfig(next)
			if err != nil {
				log.Warn("reloaded config rejected", logx.Err(err))
				continue
			}
			sched.Apply(nc)
		}
	}()

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	log.Info("panewatchd running", logx.String("config", cfgPath), logx.String("state", cfg.Watch.StatePath))

	<-ctx.Done()

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	sched.Stop()
	mgr.Unsubscribe(updates)
	log.Info("panewatchd stopped")
	return nil
}

func sessionsPath(cfg *config.Config) string {
	if cfg.Sessions.Path != "" {
		return cfg.Sessions.Path
	}
	return filepath.Join(filepath.Dir(cfg.Watch.StatePath), "sessions.db")
}

func schedulerConfig(cfg *config.Config) (watch.SchedulerConfig, error) {
	reconcile, err := cfg.Watch.ReconcileEvery(15 * time.Second)
	if err != nil {
		return watch.SchedulerConfig{}, err
	}

	targets := make([]watch.NotifyTarget, 0, len(cfg.Notify.Targets))
	for _, t := range cfg.Notify.Targets {
		targets = append(targets, watch.NotifyTarget{
			Channel:   t.Channel,
			Target:    t.Target,
			AccountID: t.AccountID,
			ThreadID:  t.ThreadID,
			Label:     t.Label,
		})
	}

	return watch.SchedulerConfig{
		Defaults: watch.Defaults{
			CaptureIntervalSeconds: cfg.Watch.CaptureIntervalSeconds,
			IntervalMS:             cfg.Watch.IntervalMS,
			StableCount:            cfg.Watch.StableCount,
			StableSeconds:          cfg.Watch.StableSeconds,
			CaptureLines:           cfg.Watch.CaptureLines,
			MaxAlertChars:          cfg.Watch.MaxAlertChars,
		},
		Notify: watch.NotifyConfig{
			Mode:       cfg.Notify.Mode,
			SessionKey: cfg.Notify.SessionKey,
			Targets:    targets,
		},
		ReconcileInterval: reconcile,
	}, nil
}
