// Package cli implements codecrawler's command surface: crawl, status,
// and watch, built with spf13/cobra the way the teacher's own cli.go
// builds its monitor/analyze/fix/validate commands — a root command
// with persistent flags, subcommands wired to RunE handlers, and a
// PersistentPreRun that sets up logging and configuration before any
// subcommand body runs.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/codekeeper/crawler/internal/adapters"
	"github.com/codekeeper/crawler/internal/analyzer"
	"github.com/codekeeper/crawler/internal/applier"
	"github.com/codekeeper/crawler/internal/cache"
	"github.com/codekeeper/crawler/internal/config"
	"github.com/codekeeper/crawler/internal/engine"
	"github.com/codekeeper/crawler/internal/learner"
	"github.com/codekeeper/crawler/internal/model"
	"github.com/codekeeper/crawler/internal/outcomes"
	"github.com/codekeeper/crawler/internal/patterns"
	"github.com/codekeeper/crawler/internal/pipeline"
	"github.com/codekeeper/crawler/internal/scheduler"
	"github.com/codekeeper/crawler/internal/selector"
	"github.com/codekeeper/crawler/internal/store"
	"github.com/codekeeper/crawler/internal/telemetry"
	"github.com/codekeeper/crawler/internal/validator"
)

// Exit codes per spec.md §6: 0 clean, 1 run error, 2 usage/config
// error, 130 interrupted (128 + SIGINT).
const (
	ExitOK          = 0
	ExitRunError    = 1
	ExitUsageError  = 2
	ExitInterrupted = 130
)

// CacheTTL is the Cache Store's staleness window (spec.md §4.2/§9).
const CacheTTL = 24 * time.Hour

// CLI wraps the root cobra.Command and the resources a run needs.
type CLI struct {
	logger  *logrus.Logger
	rootCmd *cobra.Command
	titler  cases.Caser
}

// New builds a codecrawler CLI instance.
func New() *CLI {
	c := &CLI{
		logger: logrus.New(),
		titler: cases.Title(language.English),
	}
	c.setupRootCommand()
	return c
}

// Execute runs the CLI and returns the process exit code to use, per
// spec.md §6: 0 clean, 1 run error, 2 usage/config error, 130
// interrupted.
func (c *CLI) Execute() int {
	err := c.rootCmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errInterrupted):
		return ExitInterrupted
	case errors.As(err, new(usageError)):
		return ExitUsageError
	default:
		return ExitRunError
	}
}

var errInterrupted = errors.New("interrupted")

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func (c *CLI) setupRootCommand() {
	c.rootCmd = &cobra.Command{
		Use:     "codecrawler",
		Short:   "Autonomous codebase maintenance engine",
		Long:    "codecrawler scans a source tree, detects defects through a Review Client, proposes and validates repairs, and applies the ones that clear its confidence gate.",
		Version: "1.0.0",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			c.setupLogging(level, format)
		},
	}

	c.rootCmd.PersistentFlags().String("config", config.DefaultEnvFile, "path to the .codecrawler.env file")
	c.rootCmd.PersistentFlags().String("project-config", config.DefaultTOMLFile, "path to the codecrawler.toml project file")
	c.rootCmd.PersistentFlags().String("data-dir", "", "override the data directory (SQLite store + stats)")
	c.rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	c.rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	c.rootCmd.AddCommand(c.buildCrawlCmd(), c.buildStatusCmd(), c.buildWatchCmd())
}

func (c *CLI) setupLogging(level, format string) {
	if format == "text" {
		c.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		c.logger.SetLevel(lvl)
	} else {
		c.logger.SetLevel(logrus.InfoLevel)
	}
}

func (c *CLI) buildCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Scan the source tree, fix what clears the gate, and report the rest",
		RunE:  c.runCrawl,
	}
	cmd.Flags().String("root", "", "root directory to crawl")
	cmd.Flags().Bool("auto-fix", false, "apply fixes that clear the confidence gate")
	cmd.Flags().Int("concurrency", 0, "bounded worker pool size (default: max(cpu_count, 10))")
	cmd.Flags().String("extensions", "", "comma-separated extension allowlist, e.g. .go,.py")
	cmd.Flags().Bool("skip-unchanged", false, "honor the Cache Store's TTL and skip unchanged files")
	cmd.Flags().Bool("no-optimize", false, "skip the generator cascade and specialist router, using only reuse/pattern/simple-line stages")
	return cmd
}

func (c *CLI) buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the last persisted run stats and the top patterns by success rate",
		RunE:  c.runStatus,
	}
}

func (c *CLI) buildWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a source tree and invalidate the Cache Store as files change",
		RunE:  c.runWatch,
	}
	cmd.Flags().String("root", "", "root directory to watch")
	return cmd
}

func (c *CLI) flagConfig(cmd *cobra.Command) map[string]string {
	flags := map[string]string{}
	for _, name := range []string{"root", "auto-fix", "concurrency", "extensions", "skip-unchanged", "no-optimize", "log-level"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = f.Value.String()
		}
	}
	return flags
}

func (c *CLI) loadConfig(cmd *cobra.Command) (config.CLIConfig, error) {
	envPath, _ := cmd.Flags().GetString("config")
	tomlPath, _ := cmd.Flags().GetString("project-config")
	cfg, err := config.Load(envPath, tomlPath, c.flagConfig(cmd))
	if err != nil {
		return config.CLIConfig{}, usageError{err}
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// build assembles every core component behind one engine.Engine, per
// SPEC_FULL.md §2's control-flow order.
func (c *CLI) build(ctx context.Context, cfg config.CLIConfig) (*engine.Engine, *store.SQLiteStore, error) {
	dbPath := filepath.Join(cfg.DataDir, "codecrawler.db")
	backing, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	cacheStore := cache.New(backing, CacheTTL, cfg.SkipUnchanged)

	registry, err := patterns.New(ctx, backing)
	if err != nil {
		backing.Close()
		return nil, nil, fmt.Errorf("loading pattern registry: %w", err)
	}

	outcomeLog := outcomes.New(backing)

	review, search, generators, err := c.buildExternalAdapters(ctx, cfg)
	if err != nil {
		backing.Close()
		return nil, nil, err
	}

	a := analyzer.New(cacheStore, review)

	selCfg := selector.Config{
		Root:       cfg.Root,
		Extensions: cfg.Extensions,
	}
	if cfg.Project.HealthThreshold > 0 {
		selCfg.HealthThreshold = cfg.Project.HealthThreshold
	}
	if cfg.Project.HealthLimit > 0 {
		selCfg.HealthLimit = cfg.Project.HealthLimit
	}
	if len(cfg.Project.ExcludedDirs) > 0 {
		selCfg.ExcludedDirs = toSet(cfg.Project.ExcludedDirs)
	}
	sel := selector.New(selCfg, backing, search, c.logger)

	if cfg.NoOptimize {
		// --no-optimize: the cascade falls through to the specialist
		// router (none configured) and then gives up, leaving only the
		// reuse/pattern/simple-line stages active.
		generators = nil
	}
	p := pipeline.New(outcomeLog, registry, generators, nil)

	v := validator.New(nil)
	app := applier.New()
	lrn := learner.New(registry)

	sched := scheduler.New(cfg.Concurrency, backing, c.logger)

	eng := &engine.Engine{
		Store:     backing,
		Selector:  sel,
		Analyzer:  a,
		Pipeline:  p,
		Validator: v,
		Applier:   app,
		Learner:   lrn,
		Outcomes:  outcomeLog,
		Registry:  registry,
		Scheduler: sched,
		Logger:    c.logger,
		AutoFix:   cfg.AutoFix,
	}
	return eng, backing, nil
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// buildExternalAdapters connects to the configured MCP server, if any,
// and wraps its Review/Search/Generator surfaces behind a circuit
// breaker per external call (spec.md §5). Without an MCP server
// configured it falls back to the in-process fakes, matching the
// teacher's own "fake client used by tests, never the default for a
// real run" disclaimer (logged once here as a warning).
func (c *CLI) buildExternalAdapters(ctx context.Context, cfg config.CLIConfig) (adapters.ReviewClient, adapters.Search, []adapters.Generator, error) {
	if len(cfg.MCPServerCommand) == 0 {
		c.logger.Warn("no external Review Client configured; using the in-process fake (no issues will ever be found)")
		return &adapters.FakeReviewClient{}, adapters.NoopSearch{}, nil, nil
	}

	client := adapters.NewMCPClient(adapters.MCPConfig{ServerCommand: cfg.MCPServerCommand}, c.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	review := resilientReviewClient{inner: adapters.MCPReviewClient{MCPClient: client}, breaker: adapters.NewResilient("review-client", c.logger)}
	search := resilientSearch{inner: adapters.MCPSearch{MCPClient: client}, breaker: adapters.NewResilient("search", c.logger)}

	stages := []struct {
		name   string
		method model.Method
	}{
		{"generator-context", model.MethodGeneratorContext},
		{"generator-codebase", model.MethodGeneratorCodebase},
		{"generator-advanced", model.MethodGeneratorAdvanced},
		{"generator-multifile", model.MethodGeneratorMultiFile},
	}
	generators := make([]adapters.Generator, 0, len(stages))
	for _, s := range stages {
		gen := adapters.NewMCPGenerator(client, s.name, s.method)
		generators = append(generators, resilientGenerator{inner: gen, breaker: adapters.NewResilient(s.name, c.logger)})
	}

	return review, search, generators, nil
}

// resilientReviewClient, resilientSearch, and resilientGenerator wrap
// one external call each in adapters.Resilient's circuit breaker plus
// exponential back-off, per spec.md §5.
type resilientReviewClient struct {
	inner   adapters.ReviewClient
	breaker *adapters.Resilient
}

func (r resilientReviewClient) Review(ctx context.Context, sourceText, path string) (adapters.ReviewResult, error) {
	var out adapters.ReviewResult
	err := r.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = r.inner.Review(ctx, sourceText, path)
		return callErr
	})
	return out, err
}

type resilientSearch struct {
	inner   adapters.Search
	breaker *adapters.Resilient
}

func (s resilientSearch) SemanticSearch(ctx context.Context, query string, opts adapters.SearchOptions) ([]adapters.SearchResult, error) {
	var out []adapters.SearchResult
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = s.inner.SemanticSearch(ctx, query, opts)
		return callErr
	})
	return out, err
}

type resilientGenerator struct {
	inner   adapters.Generator
	breaker *adapters.Resilient
}

func (g resilientGenerator) Name() string { return g.inner.Name() }

func (g resilientGenerator) Generate(ctx context.Context, issue model.Issue, sourceText, path string, hints adapters.GenHints) (adapters.GenResult, bool, error) {
	var out adapters.GenResult
	var ok bool
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, ok, callErr = g.inner.Generate(ctx, issue, sourceText, path, hints)
		return callErr
	})
	return out, ok, err
}

func (c *CLI) runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng, backing, err := c.build(ctx, cfg)
	if err != nil {
		return err
	}
	defer backing.Close()

	stats := eng.Run(ctx)
	c.printRunStats(stats)
	if stats.Cancelled {
		return errInterrupted
	}
	if stats.Errors > 0 {
		return fmt.Errorf("crawl completed with %d file-level errors", stats.Errors)
	}
	return nil
}

func (c *CLI) runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.DataDir, "codecrawler.db")
	backing, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backing.Close()

	ctx := context.Background()
	registry, err := patterns.New(ctx, backing)
	if err != nil {
		return fmt.Errorf("loading pattern registry: %w", err)
	}

	metrics, err := telemetry.GetMetrics(ctx, backing, registry, 1)
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	c.printMetrics(metrics)
	return nil
}

func (c *CLI) runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	dbPath := filepath.Join(cfg.DataDir, "codecrawler.db")
	backing, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backing.Close()

	cacheStore := cache.New(backing, CacheTTL, cfg.SkipUnchanged)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, cfg.Root); err != nil {
		return fmt.Errorf("watching %s: %w", cfg.Root, err)
	}
	c.logger.WithField("root", cfg.Root).Info("watching for changes; file-writes invalidate the Cache Store immediately")

	for {
		select {
		case <-ctx.Done():
			return errInterrupted
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// File-watcher invalidation wins over TTL, per spec.md §9
			// ambiguity (a): a watched change invalidates the Cache
			// Store entry immediately, regardless of how fresh the TTL
			// still considers it.
			if err := cacheStore.Invalidate(ctx, event.Name); err != nil {
				c.logger.WithError(err).WithField("path", event.Name).Warn("watch: failed to invalidate cache entry")
			} else {
				c.logger.WithField("path", event.Name).Debug("watch: invalidated cache entry")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithError(err).Warn("watch: fsnotify reported an error")
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *CLI) printRunStats(stats model.RunStats) {
	fmt.Printf("\n=== Crawl Summary ===\n")
	fmt.Printf("Files scanned:          %d\n", stats.FilesScanned)
	fmt.Printf("Files skipped:          %d\n", stats.FilesSkipped)
	fmt.Printf("Files with issues:      %d\n", stats.FilesWithIssues)
	fmt.Printf("Issues found:           %d\n", stats.IssuesFound)
	fmt.Printf("Issues auto-fixed:      %d\n", stats.IssuesAutoFixed)
	fmt.Printf("Issues needing review:  %d\n", stats.IssuesNeedingReview)
	fmt.Printf("Errors:                 %d\n", stats.Errors)
	fmt.Printf("Duration:               %v\n", stats.EndTime.Sub(stats.StartTime))
	if stats.Cancelled {
		fmt.Println("Run was cancelled before completion.")
	}
	fmt.Println()
}

func (c *CLI) printMetrics(metrics telemetry.OperationalMetrics) {
	fmt.Printf("\n=== codecrawler status ===\n")
	if !metrics.HasLastRun {
		fmt.Println("No run has been persisted yet.")
	} else {
		c.printRunStats(metrics.LastRun)
	}

	if len(metrics.TopPatterns) == 0 {
		fmt.Println("No patterns recorded yet.")
		return
	}
	fmt.Printf("Top patterns by success rate:\n")
	for _, p := range metrics.TopPatterns {
		status := c.titler.String("active")
		if !p.Active {
			status = c.titler.String("retired")
		}
		fmt.Printf("  %-20s success=%.2f occurrences=%d [%s]\n", p.Fingerprint, p.SuccessRate, p.Occurrences, status)
	}
}
