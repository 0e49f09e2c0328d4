// Command tvcollector gathers IPTV playlists, checks every stream and publishes
// the live ones as one consolidated playlist.
//
//	run    One collection: fetch, validate, publish, exit. For cron/systemd timers.
//	serve  Collect at startup and every -refresh; serve the playlist over HTTP.
//	check  Check the stream URLs given as arguments (or a running server with -server).
//	probe  Pre-flight the configured sources and print them ranked.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/snapetech/tvcollector/internal/config"
	"github.com/snapetech/tvcollector/internal/health"
	"github.com/snapetech/tvcollector/internal/hls"
	"github.com/snapetech/tvcollector/internal/httpclient"
	"github.com/snapetech/tvcollector/internal/pipeline"
	"github.com/snapetech/tvcollector/internal/probe"
	"github.com/snapetech/tvcollector/internal/provider"
	"github.com/snapetech/tvcollector/internal/publish"
	"github.com/snapetech/tvcollector/internal/server"
)

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads .env, the environment and an optional YAML overlay.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg := config.Load()
	if path == "" {
		path = os.Getenv("TVCOLLECTOR_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runConfig := runCmd.String("config", "", "YAML config overlay (default: TVCOLLECTOR_CONFIG)")
	runOutput := runCmd.String("output", "", "Output directory (default: TVCOLLECTOR_OUTPUT_DIR)")
	runBudget := runCmd.Duration("budget", 0, "Validation budget override, e.g. 90s; 0 probes nothing (default: TVCOLLECTOR_VALIDATION_BUDGET)")
	runSources := runCmd.String("sources", "", "Comma-separated sources, replacing TVCOLLECTOR_SOURCES")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveConfig := serveCmd.String("config", "", "YAML config overlay (default: TVCOLLECTOR_CONFIG)")
	serveAddr := serveCmd.String("addr", "", "Listen address (default: TVCOLLECTOR_SERVE_ADDR or :8080)")
	serveRefresh := serveCmd.Duration("refresh", 0, "Refresh interval, e.g. 6h (default: TVCOLLECTOR_REFRESH_INTERVAL)")
	serveBaseURL := serveCmd.String("base-url", "", "Public URL prefix of /channels (default: derived from the request)")

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	checkConfig := checkCmd.String("config", "", "YAML config overlay (default: TVCOLLECTOR_CONFIG)")
	checkServer := checkCmd.String("server", "", "Check a running tvcollector at this base URL instead")
	checkVariants := checkCmd.Bool("variants", true, "List HLS variants of active manifests")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeConfig := probeCmd.String("config", "", "YAML config overlay (default: TVCOLLECTOR_CONFIG)")
	probeURLs := probeCmd.String("urls", "", "Comma-separated sources to probe (default: configured sources)")
	probeTimeout := probeCmd.Duration("timeout", 60*time.Second, "Overall timeout")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|serve|check|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  run    One collection: fetch, validate, publish, exit\n")
		fmt.Fprintf(os.Stderr, "  serve  Collect on a schedule and serve the playlist over HTTP\n")
		fmt.Fprintf(os.Stderr, "  check  Check stream URLs given as arguments (or -server URL)\n")
		fmt.Fprintf(os.Stderr, "  probe  Pre-flight sources: report OK / Cloudflare / fail, ranked by latency\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		var budget *time.Duration
		if flagPassed(runCmd, "budget") {
			budget = runBudget
		}
		code = cmdRun(ctx, *runConfig, *runOutput, *runSources, budget)
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		code = cmdServe(ctx, *serveConfig, *serveAddr, *serveBaseURL, *serveRefresh)
	case "check":
		_ = checkCmd.Parse(os.Args[2:])
		code = cmdCheck(ctx, *checkConfig, *checkServer, *checkVariants, checkCmd.Args())
	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		code = cmdProbe(ctx, *probeConfig, *probeURLs, *probeTimeout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		code = 1
	}
	stop()
	os.Exit(code)
}

// flagPassed reports whether name was set on the command line, so an explicit
// zero can be told apart from the default.
func flagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// cmdRun runs one collection. A nil budget keeps the configured one.
func cmdRun(ctx context.Context, configPath, output, sources string, budget *time.Duration) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if output != "" {
		cfg.OutputDir = output
	}
	if sources != "" {
		cfg.Sources = strings.Split(sources, ",")
	}
	if budget != nil {
		cfg.ValidationBudget = *budget
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("pipeline setup failed", "err", err)
		return 1
	}
	defer p.Close()

	res, err := p.Run(ctx)
	if err != nil {
		logger.Error("run failed", "run_id", res.RunID, "err", err)
		return 1
	}
	fmt.Printf("Published %d channels to %s (%d passed, %d cached, %d failed, %d abandoned)\n",
		len(res.Channels), res.Publish.PlaylistPath, res.Report.Passed, res.Report.CacheHits, res.Report.Failed, res.Report.Abandoned)
	return 0
}

func cmdServe(ctx context.Context, configPath, addr, baseURL string, refresh time.Duration) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}
	if addr == "" {
		addr = cfg.ServeAddr
	}
	if refresh == 0 {
		refresh = cfg.RefreshInterval
	}

	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("pipeline setup failed", "err", err)
		return 1
	}
	defer p.Close()

	// Serve the last published catalog until the first refresh completes.
	catalogPath := filepath.Join(cfg.OutputDir, publish.CatalogName)
	if err := p.Catalog.Load(catalogPath); err != nil {
		logger.Info("no previous catalog", "path", catalogPath, "err", err)
	}

	srv := &server.Server{
		Addr:            addr,
		Catalog:         p.Catalog,
		Runner:          p,
		RefreshInterval: refresh,
		BaseURL:         baseURL,
		Logger:          logger.With("component", "server"),
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", "err", err)
		return 1
	}
	return 0
}

func cmdCheck(ctx context.Context, configPath, serverURL string, variants bool, urls []string) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if serverURL != "" {
		if err := health.CheckEndpoints(ctx, serverURL, nil); err != nil {
			fmt.Printf("FAIL %s: %v\n", serverURL, err)
			return 1
		}
		fmt.Printf("OK   %s\n", serverURL)
		return 0
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "check: give stream URLs as arguments or -server URL")
		return 1
	}

	limiter := httpclient.NewHostLimiter(cfg.HostConcurrency, cfg.HostRPS)
	checker := &probe.Checker{
		Timeout:         cfg.ProbeTimeout,
		UserAgent:       cfg.UserAgent,
		Extensions:      probe.AcceptedExtensions(cfg.CheckExtensions),
		AllowBare:       cfg.CheckAllowBare,
		AcceptRedirects: cfg.AcceptRedirects,
		SchemeFallback:  cfg.SchemeFallback,
		Limiter:         limiter,
		Logger:          logger,
	}
	resolver := &hls.Resolver{Checker: checker, UserAgent: cfg.UserAgent, Timeout: cfg.ProbeTimeout, Limiter: limiter, Logger: logger}

	failed := 0
	for _, u := range urls {
		res := checker.Check(ctx, u)
		fmt.Printf("%-8s %-8s %s", res.Outcome(), res.Kind, u)
		if res.ResolvedURL != "" {
			fmt.Printf(" -> %s", res.ResolvedURL)
		}
		if res.Err != nil {
			fmt.Printf(" (%v)", res.Err)
		}
		fmt.Println()
		if !res.Active {
			failed++
			continue
		}
		if variants && res.Kind == probe.KindManifest {
			for _, v := range resolver.Resolve(ctx, res.Canonical()) {
				fmt.Printf("         %-10s %9d  %s\n", v.Label, v.Bandwidth, v.URL)
			}
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func cmdProbe(ctx context.Context, configPath, urls string, timeout time.Duration) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)
	sources := cfg.AllSources()
	if urls != "" {
		sources = strings.Split(urls, ",")
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "probe: no sources (set TVCOLLECTOR_SOURCES or -urls)")
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	results := provider.ProbeAll(ctx, sources, nil)
	for _, r := range results {
		fmt.Printf("%-11s %-7s %6dms  HTTP %-3d  %s\n", r.Status, r.Format, r.LatencyMs, r.StatusCode, r.URL)
	}
	best := provider.BestSourceURL(ctx, sources, nil)
	if best == "" {
		fmt.Println("No source answered OK.")
		return 1
	}
	fmt.Printf("Best source: %s\n", best)
	return 0
}
