// Package main is the entry point for xrdp-setup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/linuxrdp/xrdp-setup/internal/config"
	"github.com/linuxrdp/xrdp-setup/internal/executor"
	"github.com/linuxrdp/xrdp-setup/internal/hostinfo"
	"github.com/linuxrdp/xrdp-setup/internal/installer"
	"github.com/linuxrdp/xrdp-setup/internal/journal"
	"github.com/linuxrdp/xrdp-setup/internal/state"
)

// version is set at build time via -ldflags.
var version = "dev"

// cliConfig holds everything parsed from the command line.
type cliConfig struct {
	Request    installer.Request
	ConfigPath string
	DataDir    string
	LogLevel   string
	LogFormat  string
}

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "version", "--version":
			fmt.Printf("xrdp-setup %s\n", version)
			return
		case "history":
			runHistory(os.Args[2:])
			return
		}
	}

	cfg := parseFlags()
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat, cfg.Request.Verbose)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, aborting", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "xrdp-setup: %s\n", renderError(err))
		os.Exit(1)
	}
}

// run wires the components and executes the controller.
func run(ctx context.Context, cfg *cliConfig, logger *slog.Logger) error {
	// Must run before any external action is dispatched.
	if err := installer.CheckPrivilege(os.Geteuid()); err != nil {
		return err
	}

	conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}

	runner := executor.New(logger, cfg.Request.Verbose)

	// The journal is observability only: open failures degrade to a
	// warning, not an abort.
	var runRecord *journal.Run
	if j, err := journal.Open(cfg.DataDir, logger); err != nil {
		logger.Warn("run journal unavailable", "data_dir", cfg.DataDir, "error", err)
	} else {
		defer j.Close()
		if runRecord, err = j.Begin(cfg.Request.Mode(), cfg.Request); err != nil {
			logger.Warn("run journal unavailable", "error", err)
		} else {
			runner.SetRecorder(runRecord)
		}
	}

	facts, err := hostinfo.Probe(ctx, runner)
	if err != nil {
		finishRun(runRecord, err)
		return err
	}
	logger.Info("host probed",
		"distribution", facts.Description,
		"desktop", facts.Desktop,
		"hwe", facts.HWE,
	)

	store := state.New(conf.MarkerPath, runner)
	ctrl := installer.New(runner, store, conf, facts, logger)

	err = ctrl.Run(ctx, cfg.Request)
	finishRun(runRecord, err)
	return err
}

func finishRun(r *journal.Run, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.Finish(journal.StatusFailed, err.Error())
		return
	}
	r.Finish(journal.StatusSucceeded, "")
}

// renderError produces the single user-facing failure message.
func renderError(err error) string {
	var privErr *installer.PrivilegeError
	var platErr *hostinfo.UnsupportedPlatformError
	var execErr *executor.ExecError
	switch {
	case errors.As(err, &privErr):
		return privErr.Error()
	case errors.As(err, &platErr):
		return platErr.Error()
	case errors.As(err, &execErr):
		return fmt.Sprintf("setup failed: %v", err)
	default:
		return err.Error()
	}
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}

	boolFlag := func(p *bool, long, short, usage string) {
		flag.BoolVar(p, long, false, usage)
		if short != "" {
			flag.BoolVar(p, short, false, "shorthand for -"+long)
		}
	}

	boolFlag(&cfg.Request.Custom, "custom", "c", "Build and install xrdp from source instead of the packaged build")
	boolFlag(&cfg.Request.Remove, "remove", "r", "Remove the xrdp installation (exclusive with all install flags)")
	boolFlag(&cfg.Request.UseDev, "dev", "d", "Build the upstream development HEAD instead of the release branch")
	boolFlag(&cfg.Request.UseSound, "sound", "s", "Install the audio-bridge module for sound redirection")
	boolFlag(&cfg.Request.Verbose, "verbose", "v", "Stream command output and enable debug logging")
	boolFlag(&cfg.Request.UseCUDA, "cuda", "", "Install the NVIDIA CUDA toolkit")
	boolFlag(&cfg.Request.UseNexarianFork, "nexarian", "", "Build from the Nexarian fork")

	flag.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file overriding repositories and package lists")
	flag.StringVar(&cfg.DataDir, "data-dir", journal.DefaultDataDir(), "Data directory for the run journal")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", "auto", "Log format (auto, text, json)")
	flag.Parse()

	// Allow environment variables to override paths
	if v := os.Getenv("XRDP_SETUP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("XRDP_SETUP_CONFIG"); v != "" {
		cfg.ConfigPath = v
	}

	return cfg
}

func setupLogger(level, format string, verbose bool) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runHistory handles the "history" subcommand: it lists past setup runs
// from the journal in a table.
func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data-dir", journal.DefaultDataDir(), "Data directory for the run journal")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(args)

	j, err := journal.Open(*dataDir, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	entries, err := j.History(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No recorded runs.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tMODE\tSTATUS\tCOMMANDS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Mode, e.Status, e.Commands, e.Error)
	}
	w.Flush()
}
