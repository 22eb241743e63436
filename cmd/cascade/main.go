package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/msageha/cascade/internal/external"
	"github.com/msageha/cascade/internal/lock"
	"github.com/msageha/cascade/internal/logging"
	"github.com/msageha/cascade/internal/manifest"
	"github.com/msageha/cascade/internal/model"
	"github.com/msageha/cascade/internal/release"
	"github.com/msageha/cascade/internal/report"
	"github.com/msageha/cascade/internal/setup"
	"github.com/msageha/cascade/internal/staging"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "graph":
		runGraph(os.Args[2:])
	case "release":
		runRelease(os.Args[2:])
	case "version":
		fmt.Printf("cascade %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var dir, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			if dir != "" || strings.HasPrefix(args[i], "--") {
				fmt.Fprintf(os.Stderr, "unknown argument: %s\nusage: cascade setup <project_dir> [--name <project>]\n", args[i])
				os.Exit(1)
			}
			dir = args[i]
		}
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "usage: cascade setup <project_dir> [--name <project>]")
		os.Exit(1)
	}
	base, err := setup.Run(dir, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", base)
}

type runFlags struct {
	dryRun      bool
	skipTests   bool
	sequential  bool
	// concurrency is nil unless the flag was given, so an explicit 0 still
	// reaches validation.
	concurrency *int
	from        []string
}

func parseRunFlags(args []string, usage string, allowRelease bool) runFlags {
	var f runFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--from":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--from requires a value")
				os.Exit(1)
			}
			i++
			for _, s := range strings.Split(args[i], ",") {
				if s = strings.TrimSpace(s); s != "" {
					f.from = append(f.from, s)
				}
			}
			continue
		}
		if !allowRelease {
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
			os.Exit(1)
		}
		switch args[i] {
		case "--dry-run":
			f.dryRun = true
		case "--skip-tests":
			f.skipTests = true
		case "--sequential":
			f.sequential = true
		case "--concurrency":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--concurrency requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: --concurrency must be an integer, got %q\n", args[i])
				os.Exit(1)
			}
			f.concurrency = &n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
			os.Exit(1)
		}
	}
	return f
}

// apply lets flags override the configuration file.
func (f runFlags) apply(cfg *model.Config) {
	if f.dryRun {
		cfg.Run.DryRun = true
	}
	if f.skipTests {
		cfg.Run.SkipTests = true
	}
	if f.sequential {
		cfg.Run.Sequential = true
	}
	if f.concurrency != nil {
		cfg.Run.Concurrency = *f.concurrency
	}
	if len(f.from) > 0 {
		cfg.Run.ReleaseFrom = f.from
	}
}

func runGraph(args []string) {
	flags := parseRunFlags(args, "usage: cascade graph [--from a,b]", false)
	cascadeDir, cfg := mustLoad(flags)

	// Planning resets the checkout trees, so it excludes a running release.
	runID := model.NewRunID()
	fl := mustLock(cascadeDir, runID)
	logger, closer := mustOpenLog(cascadeDir, cfg)
	runner, descs := mustRunner(cfg, runID, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	plan, err := runner.Plan(ctx, descs)
	stop()

	code := 0
	if plan != nil {
		for _, f := range plan.CheckoutFailures {
			printErr(f.Err)
			code = 1
		}
	}
	if err != nil {
		printErr(err)
		code = 1
	} else {
		fmt.Print(plan.Graph.DOT("release"))
	}

	closer()
	_ = fl.Unlock()
	os.Exit(code)
}

func runRelease(args []string) {
	flags := parseRunFlags(args, "usage: cascade release [--dry-run] [--from a,b] [--concurrency N] [--skip-tests] [--sequential]", true)
	cascadeDir, cfg := mustLoad(flags)

	runID := model.NewRunID()
	fl := mustLock(cascadeDir, runID)
	logger, closer := mustOpenLog(cascadeDir, cfg)
	runner, descs := mustRunner(cfg, runID, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	started := time.Now()
	res, runErr := runner.Run(ctx, descs)
	finished := time.Now()
	stop()

	summary := report.Summarize(res, runErr, cfg.Project.Name, started, finished)
	reportDir := filepath.Join(cfg.Workspace.ReportDir, runID)
	paths, err := report.Write(reportDir, summary, res)
	if err != nil {
		logger.Errorf("write reports: %v", err)
	} else {
		logger.Infof("reports written: %s", strings.Join(paths, ", "))
	}

	fmt.Print(report.Render(summary))
	if runErr != nil {
		printErr(runErr)
	}
	for _, f := range res.CheckoutFailures {
		printErr(f.Err)
	}

	closer()
	_ = fl.Unlock()
	if runErr != nil || res.Failed() {
		os.Exit(1)
	}
}

// acquireWorkspace takes the workspace run lock. Every command that touches
// the checkout trees holds it.
func acquireWorkspace(cascadeDir, runID string) (*lock.FileLock, error) {
	fl := lock.Workspace(cascadeDir)
	if err := fl.TryLock(runID); err != nil {
		return nil, err
	}
	return fl, nil
}

func mustLock(cascadeDir, runID string) *lock.FileLock {
	fl, err := acquireWorkspace(cascadeDir, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return fl
}

// mustLoad finds the workspace, loads its config, applies flags and
// validates the result before anything runs.
func mustLoad(flags runFlags) (string, model.Config) {
	cascadeDir := findCascadeDir()
	if cascadeDir == "" {
		fmt.Fprintln(os.Stderr, "error: .cascade/ directory not found. Run 'cascade setup <dir>' first.")
		os.Exit(1)
	}
	cfg, err := model.LoadConfig(filepath.Join(cascadeDir, setup.ConfigFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flags.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		printErr(err)
		os.Exit(1)
	}
	return cascadeDir, cfg
}

func mustOpenLog(cascadeDir string, cfg model.Config) (*logging.Logger, func()) {
	logger, closer, err := logging.Open(filepath.Join(cascadeDir, "logs", "cascade.log"), logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	return logger, func() { _ = closer.Close() }
}

func mustRunner(cfg model.Config, runID string, logger *logging.Logger) (*release.Runner, []model.Descriptor) {
	descs, err := cfg.Descriptors()
	if err != nil {
		printErr(err)
		os.Exit(1)
	}
	triggers, err := model.ResolveTriggers(descs, cfg.Run.ReleaseFrom)
	if err != nil {
		printErr(err)
		os.Exit(1)
	}
	collab, err := newCollaborators(cfg, runID, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	runner, err := release.NewRunner(collab, release.Options{
		Concurrency: cfg.EffectiveConcurrency(),
		DryRun:      cfg.Run.DryRun,
		SkipTests:   cfg.Run.SkipTests,
		Triggers:    triggers,
		RunID:       runID,
	}, logger)
	if err != nil {
		printErr(err)
		os.Exit(1)
	}
	logger.Infof("run %s: %d repositories, concurrency %d, dry_run=%t", runID, len(descs), cfg.EffectiveConcurrency(), cfg.Run.DryRun)
	return runner, descs
}

func newCollaborators(cfg model.Config, runID string, logger *logging.Logger) (release.Collaborators, error) {
	gomod, err := manifest.NewGoModHandler(manifest.DefaultParseCacheSize)
	if err != nil {
		return release.Collaborators{}, err
	}

	var mirror staging.Mirror
	if cfg.Staging.S3.Enabled {
		m, err := staging.NewS3Mirror(cfg.Staging.S3, runID)
		if err != nil {
			return release.Collaborators{}, fmt.Errorf("s3 mirror: %w", err)
		}
		mirror = m
	}
	stager, err := staging.NewDir(cfg.Staging.Dir, cfg.Staging.Upstream, mirror)
	if err != nil {
		return release.Collaborators{}, err
	}
	logger.Debugf("staging channel %s (s3 mirror %t)", stager.Root(), mirror != nil)

	var oracle release.VersionOracle = &external.GitOracle{}
	if cfg.Commands.Version != "" {
		oracle = &external.CommandOracle{Command: cfg.Commands.Version}
	}

	git := external.NewGit(cfg)
	return release.Collaborators{
		Checkout:  git,
		Manifests: manifest.NewRegistry(gomod, manifest.NewArtifactHandler()),
		Oracle:    oracle,
		VCS:       git,
		Steps:     external.NewSteps(cfg.Commands),
		Stager:    stager,
	}, nil
}

// printErr prefers an error's own stderr rendering.
func printErr(err error) {
	var f interface{ FormatStderr() string }
	if errors.As(err, &f) {
		fmt.Fprint(os.Stderr, f.FormatStderr())
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// findCascadeDir searches for .cascade/ in the current directory and ancestors.
func findCascadeDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.Dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cascade %s - dependency-ordered multi-repository releases

Usage: cascade <command> [options]

Commands:
  setup <dir> [--name <project>]   Initialize .cascade/ directory
  graph [--from a,b]               Check out, scan and print the release graph (DOT)
  release [flags]                  Release every repository level by level
      --dry-run                    Stop after publishing to the staging channel
      --from a,b                   Release only these repositories and their dependents
      --concurrency N              Pipelines per level (default from config)
      --sequential                 Force one pipeline at a time
      --skip-tests                 Skip the test step
  version                          Show version
  help                             Show this help

`, version)
}
