package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/rendis/tabflow/internal/diagram"
	"github.com/rendis/tabflow/internal/engine"
	"github.com/rendis/tabflow/internal/validation"
	"github.com/rendis/tabflow/pkg/schema"
)

const usage = `usage: tabflow <command> [flags]

commands:
  run <workflow.yaml>       execute a workflow file and print its summary
  serve                     run the MCP stdio server, cron triggers and status panel
  validate <workflow.yaml>  check a workflow file
  plan <workflow.yaml>      print the scheduler groups (-format text, ascii, mermaid)
  version                   print the version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "run":
		var code int
		code, err = runWorkflow(ctx, rest, stdout, stderr)
		if err == nil {
			return code
		}
	case "serve":
		err = runServe(ctx, rest, stderr)
	case "validate":
		var code int
		code, err = runValidate(rest, stdout, stderr)
		if err == nil {
			return code
		}
	case "plan":
		err = runPlan(rest, stdout, stderr)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "tabflow %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// commonFlags registers the flags every command shares.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "config file (default ~/.tabflow/config.yaml)")
}

func setup(configPath string, stderr io.Writer) (Config, *slog.Logger, error) {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return cfg, nil, err
	}
	logger := newLogger(stderr, cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runWorkflow(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := commonFlags(fs)
	session := fs.String("session", engine.DefaultSessionID, "browser session id")
	strategy := fs.String("strategy", "", "override the workflow strategy (sequential|parallel|hybrid)")
	output := fs.String("o", "json", "summary format: json or yaml")
	save := fs.Bool("save", false, "store the workflow definition before running it")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	if fs.NArg() != 1 {
		return 2, fmt.Errorf("expected one workflow file")
	}

	cfg, logger, err := setup(*configPath, stderr)
	if err != nil {
		return 1, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return 1, err
	}
	defer a.Close(context.WithoutCancel(ctx))

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return 1, err
	}
	if *strategy != "" {
		data, err = overrideStrategy(data, *strategy)
		if err != nil {
			return 1, err
		}
	}
	wf, result, err := a.validator.Load(data)
	printIssues(stderr, result)
	if err != nil {
		return 1, err
	}
	if *save {
		if wf.Status == "" {
			wf.Status = schema.WorkflowStatusReady
		}
		if err := a.store.SaveWorkflow(ctx, wf); err != nil {
			return 1, err
		}
	}

	summary, execErr := a.orch.Execute(ctx, wf, *session)
	if summary != nil {
		if err := writeSummary(stdout, summary, *output); err != nil {
			return 1, err
		}
	}
	if execErr != nil {
		return 1, execErr
	}
	if summary.Status != schema.ExecutionStatusCompleted {
		return 1, nil
	}
	return 0, nil
}

func runValidate(args []string, stdout, stderr io.Writer) (int, error) {
	wf, result, err := loadForInspection("validate", args, stderr)
	if result == nil {
		return 1, err
	}
	printIssues(stderr, result)
	if err != nil {
		fmt.Fprintf(stdout, "invalid: %v\n", err)
		return 1, nil
	}
	fmt.Fprintf(stdout, "ok: %s (%d steps, %d groups)\n", wf.ID, len(wf.Steps), len(result.Plan))
	return 0, nil
}

func runPlan(args []string, stdout, stderr io.Writer) error {
	var format string
	wf, result, err := loadForInspection("plan", args, stderr, func(fs *flag.FlagSet) {
		fs.StringVar(&format, "format", "text", "output: text, ascii or mermaid")
	})
	if err != nil {
		printIssues(stderr, result)
		return err
	}

	switch format {
	case "ascii", "mermaid":
		model, err := diagram.Build(wf, nil)
		if err != nil {
			return err
		}
		if format == "ascii" {
			fmt.Fprint(stdout, diagram.RenderASCII(model))
		} else {
			fmt.Fprint(stdout, diagram.RenderMermaid(model))
		}
	case "text":
		fmt.Fprintf(stdout, "%s (%s)\n", wf.ID, wf.EffectiveStrategy())
		for i, group := range result.Plan {
			fmt.Fprintf(stdout, "  group %d: %s\n", i+1, strings.Join(group, ", "))
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// loadForInspection validates a workflow file with the configured
// connectors but without opening the store or a browser.
func loadForInspection(name string, args []string, stderr io.Writer, extra ...func(*flag.FlagSet)) (*schema.Workflow, *validation.Result, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := commonFlags(fs)
	for _, register := range extra {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() != 1 {
		return nil, nil, fmt.Errorf("expected one workflow file")
	}
	cfg, logger, err := setup(*configPath, stderr)
	if err != nil {
		return nil, nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.initConnectors(); err != nil {
		return nil, nil, err
	}
	v, err := validation.NewWorkflowValidator(a.connectors)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return nil, nil, err
	}
	return v.Load(data)
}

func printIssues(w io.Writer, result *validation.Result) {
	if result == nil {
		return
	}
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error: %s\n", issue)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", issue)
	}
}

func writeSummary(w io.Writer, summary *schema.ExecutionSummary, format string) error {
	switch format {
	case "yaml", "yml":
		// Round-trip through JSON so the output keeps the json field names.
		raw, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
}

// overrideStrategy rewrites the top-level strategy of a workflow document.
func overrideStrategy(data []byte, strategy string) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc["strategy"] = strategy
	return yaml.Marshal(doc)
}
