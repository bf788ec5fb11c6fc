package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/term"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/connectors"
	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/internal/engine"
	"github.com/rendis/tabflow/internal/expressions"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/internal/validation"
)

// app is the wired runtime shared by every subcommand that executes
// workflows.
type app struct {
	cfg    Config
	logger *slog.Logger

	store      *store.LibSQLStore
	events     *store.EventLog
	hub        *streaming.MemoryHub
	redis      *streaming.RedisHub
	browser    *browser.Manager
	connectors *connectors.Registry
	validator  *validation.WorkflowValidator
	orch       *engine.Orchestrator

	closers []func(context.Context) error
}

// newLogger picks a text handler for terminals and JSON otherwise unless
// log_format says otherwise.
func newLogger(w io.Writer, cfg Config) *slog.Logger {
	format := cfg.LogFormat
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	return logging.New(w, format, cfg.LogLevel)
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initTracing(); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initBrowser(); err != nil {
		return nil, err
	}
	if err := a.initConnectors(); err != nil {
		return nil, err
	}

	a.hub = streaming.NewMemoryHub()
	notifiers := streaming.Fanout{a.hub, a.events}
	if cfg.RedisURL != "" {
		a.redis, err = streaming.NewRedisHub(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
		notifiers = append(notifiers, a.redis)
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}
	var llm dispatch.Completer
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		llm = dispatch.NewOpenAICompleter(cfg.OpenAI)
	}

	dispatcher := dispatch.New(dispatch.Options{
		Browser:    a.browser,
		Search:     dispatch.NewDuckDuckGo(cfg.UserAgent),
		Analyzer:   dispatch.NewAnalyzer(engines, llm),
		Connectors: a.connectors,
		Logger:     logger,
	})

	a.validator, err = validation.NewWorkflowValidator(a.connectors)
	if err != nil {
		return nil, fmt.Errorf("workflow validator: %w", err)
	}

	a.orch = engine.NewOrchestrator(engine.Options{
		Runner:   dispatcher,
		Store:    a.store,
		Notifier: notifiers,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	a.closers = append(a.closers, func(context.Context) error {
		a.orch.Shutdown()
		return nil
	})
	return a, nil
}

func (a *app) initTracing() error {
	if a.cfg.Tracing != "stdout" {
		return nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "tabflow"),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	a.closers = append(a.closers, tp.Shutdown)
	return nil
}

func (a *app) initStore(ctx context.Context) error {
	if dir := filepath.Dir(strings.TrimPrefix(a.cfg.DBPath, "file:")); dir != "." && !strings.Contains(a.cfg.DBPath, "://") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewLibSQLStore(dbURI(a.cfg.DBPath))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.store = st
	a.events = store.NewEventLog(st)
	return nil
}

func (a *app) initBrowser() error {
	var driver browser.Driver
	switch a.cfg.Driver {
	case "chromedp":
		driver = browser.NewChromedpDriver(a.cfg.Headless, a.cfg.ChromePath)
	case "playwright":
		driver = browser.NewPlaywrightDriver(a.cfg.Headless, a.cfg.InstallBrowsers)
	default:
		driver = browser.NewHTTPDriver(nil)
	}

	var policy *browser.URLPolicy
	if len(a.cfg.URLAllow) > 0 || len(a.cfg.URLDeny) > 0 {
		var err error
		if policy, err = browser.NewURLPolicy(a.cfg.URLAllow, a.cfg.URLDeny); err != nil {
			return err
		}
	}

	a.browser = browser.NewManager(driver, browser.Config{
		UserAgent:         a.cfg.UserAgent,
		NavigationTimeout: a.cfg.NavigationTimeout,
		ActionTimeout:     a.cfg.ActionTimeout,
		PreviewChars:      a.cfg.PreviewChars,
		Screenshots:       a.cfg.Screenshots,
		Policy:            policy,
	}, a.logger)
	a.closers = append(a.closers, a.browser.Shutdown)
	return nil
}

func (a *app) initConnectors() error {
	a.connectors = connectors.NewRegistry(nil, a.logger)
	cc := a.cfg.Connectors

	var list []connectors.Connector
	if cc.TelegramToken != "" {
		list = append(list, connectors.NewTelegram(cc.TelegramToken, cc.TelegramEndpoint))
	}
	if cc.DiscordToken != "" {
		d, err := connectors.NewDiscord(cc.DiscordToken, nil)
		if err != nil {
			return err
		}
		list = append(list, d)
	}
	if len(cc.Webhooks) > 0 {
		list = append(list, connectors.NewWebhook(cc.Webhooks, nil))
	}
	for _, c := range list {
		if err := a.connectors.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
