package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/tabflow/internal/panel"
	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/internal/trigger"
	tabmcp "github.com/rendis/tabflow/pkg/mcp"
)

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := commonFlags(fs)
	listen := fs.String("listen", "", "status panel address, overrides listen_addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, stderr)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := tabmcp.NewServer(tabmcp.ServerDeps{
		Executor:  a.orch,
		Browser:   a.browser,
		Store:     a.store,
		Validator: a.validator,
		Logger:    logger,
	})
	go forwardEvents(ctx, a.hub, srv.Notifier(), logger)

	sched := trigger.NewScheduler(a.orch, cfg.TriggerInterval, logger)
	for _, job := range cfg.Schedules {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	if len(cfg.Schedules) > 0 {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.ListenAddr != "" {
		httpSrv := &http.Server{
			Addr: cfg.ListenAddr,
			Handler: panel.NewServer(panel.Deps{
				Store:     a.store,
				Hub:       a.hub,
				Events:    a.events,
				Sessions:  a.browser,
				Runner:    a.orch,
				Schedules: sched,
				Logger:    logger,
			}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status panel listening", "addr", cfg.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status panel stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer done()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("tabflow serving", "version", version, "driver", a.browser.DriverName(), "schedules", len(cfg.Schedules))
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// forwardEvents relays hub events to n until ctx ends. The hub drops events
// for a slow reader rather than blocking executions.
func forwardEvents(ctx context.Context, hub *streaming.MemoryHub, n streaming.Notifier, logger *slog.Logger) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		logger.Warn("event forwarding disabled", "error", err)
		return
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Publish(ctx, ev.SessionID, ev); err != nil {
				logger.Debug("forward event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
			}
		}
	}
}
