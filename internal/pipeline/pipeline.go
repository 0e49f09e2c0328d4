// Package pipeline wires one collector run together: fetch sources, parse,
// validate, assemble, persist the cache and publish.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snapetech/tvcollector/internal/cache"
	"github.com/snapetech/tvcollector/internal/catalog"
	"github.com/snapetech/tvcollector/internal/config"
	"github.com/snapetech/tvcollector/internal/hls"
	"github.com/snapetech/tvcollector/internal/httpclient"
	"github.com/snapetech/tvcollector/internal/indexer"
	"github.com/snapetech/tvcollector/internal/metrics"
	"github.com/snapetech/tvcollector/internal/notify"
	"github.com/snapetech/tvcollector/internal/probe"
	"github.com/snapetech/tvcollector/internal/provider"
	"github.com/snapetech/tvcollector/internal/publish"
	"github.com/snapetech/tvcollector/internal/smoketest"
)

// Result describes a finished run.
type Result struct {
	RunID         string
	Sources       int
	SourcesFailed int
	Entries       int
	Parse         indexer.ParseStats
	StaticSample  bool // no source produced entries; the built-in sample was used
	Report        smoketest.Report
	Channels      []catalog.Channel
	Fallback      bool // nothing validated; the fallback channel was published
	Publish       publish.Result
	Duration      time.Duration
}

// Pipeline holds the collaborators of a run. New builds them from config;
// tests replace individual fields.
type Pipeline struct {
	Config   *config.Config
	Fetcher  *indexer.Fetcher
	Prober   smoketest.Prober
	Resolver catalog.VariantResolver
	Store    cache.Store
	Writer   *publish.Writer
	Notifier notify.Notifier
	// Catalog receives every run's channels; serve mode reads it.
	Catalog *catalog.Catalog
	Logger  *slog.Logger
	Now     func() time.Time
}

// New builds a pipeline from cfg. Close releases the store and notifier.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := httpclient.NewHostLimiter(cfg.HostConcurrency, cfg.HostRPS)
	client := httpclient.WithTimeout(cfg.ProbeTimeout * 2)
	checker := &probe.Checker{
		Client:          client,
		Timeout:         cfg.ProbeTimeout,
		UserAgent:       cfg.UserAgent,
		Extensions:      probe.AcceptedExtensions(cfg.CheckExtensions),
		AllowBare:       cfg.CheckAllowBare,
		AcceptRedirects: cfg.AcceptRedirects,
		SchemeFallback:  cfg.SchemeFallback,
		Limiter:         limiter,
		Logger:          logger.With("component", "probe"),
	}

	store, err := cache.OpenStore(cfg.CacheBackend, cfg.CachePath)
	if err != nil {
		return nil, err
	}
	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		n, err := notify.NewRabbitMQ(ctx, notify.Config{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
			QueueName:  cfg.AMQPQueue,
		}, logger.With("component", "notify"))
		if err != nil {
			// Notifications are best effort; a broker outage must not stop publishing.
			logger.Warn("run notifications disabled", "err", err)
		} else {
			notifier = n
		}
	}

	return &Pipeline{
		Config: cfg,
		Fetcher: &indexer.Fetcher{
			Client:      httpclient.WithTimeout(cfg.FetchTimeout),
			UserAgent:   cfg.UserAgent,
			Concurrency: cfg.FetchConcurrency,
			Retry:       httpclient.DefaultRetryPolicy,
			FollowHTML:  cfg.FollowHTML,
			Logger:      logger.With("component", "fetch"),
		},
		Prober: checker,
		Resolver: &hls.Resolver{
			Checker:     checker,
			Client:      client,
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.ProbeTimeout,
			Concurrency: cfg.VariantConcurrency,
			Limiter:     limiter,
			Logger:      logger.With("component", "hls"),
		},
		Store:    store,
		Writer:   &publish.Writer{Dir: cfg.OutputDir, PlaylistName: cfg.PlaylistName, ChannelDir: cfg.ChannelDir, BaseURL: cfg.PublicBaseURL, Logger: logger},
		Notifier: notifier,
		Catalog:  catalog.New(),
		Logger:   logger,
	}, nil
}

// Close releases the cache store and the notifier.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Store != nil {
		errs = append(errs, p.Store.Close())
	}
	if p.Notifier != nil {
		errs = append(errs, p.Notifier.Close())
	}
	return errors.Join(errs...)
}

// Run performs one collection. Fetch, parse and validation problems never
// fail a run; the returned error joins cache and output persistence failures
// and is reported only after every step has been attempted. A cancelled ctx
// stops the run early.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	cfg := p.Config
	res := Result{RunID: uuid.NewString()}
	log := p.logger().With("run_id", res.RunID)
	log.Info("run started")

	sources := cfg.AllSources()
	if cfg.Preflight && len(sources) > 0 {
		reachable := provider.Reachable(ctx, sources, nil, cfg.PreflightBlockCF)
		log.Info("source preflight", "configured", len(sources), "reachable", len(reachable))
		res.SourcesFailed += len(sources) - len(reachable)
		sources = reachable
	}
	res.Sources = len(sources) + res.SourcesFailed

	docs := p.Fetcher.FetchAll(ctx, sources)
	res.SourcesFailed += countMissing(sources, docs)
	entries := p.parse(docs, &res.Parse)
	if len(entries) == 0 {
		log.Warn("no entries from any source; using static sample")
		entries = indexer.StaticEntries(indexer.ParseOptions{DefaultLogo: cfg.DefaultLogo})
		res.StaticSample = true
	}
	res.Entries = len(entries)

	store := cache.Load(ctx, p.Store, log)
	sched := &smoketest.Scheduler{
		Prober:  p.Prober,
		Cache:   store,
		Workers: cfg.Workers,
		Budget:  cfg.ValidationBudget,
		TTL:     cfg.CacheTTL,
		Now:     p.Now,
		Logger:  log.With("component", "smoketest"),
	}
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	rep, err := sched.Validate(ctx, urls)
	res.Report = rep
	if err != nil {
		res.Duration = time.Since(start)
		metrics.RunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("pipeline: validate: %w", err)
	}

	active := make([]indexer.Entry, 0, len(rep.Active))
	for _, e := range entries {
		if _, ok := rep.Active[e.URL]; ok {
			active = append(active, e)
		}
	}
	res.Fallback = len(active) == 0

	asm := &catalog.Assembler{
		Resolver:    p.Resolver,
		MaxChannels: cfg.MaxChannels,
		DefaultLogo: cfg.DefaultLogo,
		Canonical: func(u string) string {
			return rep.Active[u].Canonical()
		},
		Fallback:    p.fallbackEntry(),
		Concurrency: cfg.VariantConcurrency,
		Logger:      log.With("component", "catalog"),
	}
	res.Channels = asm.Build(ctx, active)

	var errs []error
	if err := store.Save(ctx, p.Store); err != nil {
		log.Error("validation cache save failed", "err", err)
		errs = append(errs, fmt.Errorf("pipeline: save cache: %w", err))
	}

	p.Catalog.Replace(res.RunID, p.now(), res.Channels)
	pub, err := p.Writer.Write(res.Channels, p.Catalog)
	res.Publish = pub
	if err != nil {
		log.Error("publish failed", "err", err)
		errs = append(errs, err)
	}

	res.Duration = time.Since(start)
	result := "ok"
	if len(errs) > 0 {
		result = "error"
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()
	metrics.ChannelsPublished.Set(float64(len(res.Channels)))
	metrics.LastRunTimestamp.SetToCurrentTime()
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		log.Warn("metrics textfile", "err", err)
	}

	runErr := errors.Join(errs...)
	p.notify(ctx, log, res, runErr)
	log.Info("run finished",
		"sources", res.Sources,
		"sources_failed", res.SourcesFailed,
		"entries", res.Entries,
		"passed", rep.Passed,
		"cached", rep.CacheHits,
		"channels", len(res.Channels),
		"fallback", res.Fallback,
		"duration", res.Duration,
	)
	return res, runErr
}

// parse turns fetched documents into entries, capping each source at
// MaxEntriesPerSource.
func (p *Pipeline) parse(docs []indexer.Document, total *indexer.ParseStats) []indexer.Entry {
	var out []indexer.Entry
	limit := p.Config.MaxEntriesPerSource
	for _, d := range docs {
		opts := indexer.ParseOptions{Source: d.Source, DefaultLogo: p.Config.DefaultLogo}
		if d.HTML {
			found := indexer.HTMLEntries(d, opts)
			if limit > 0 && len(found) > limit {
				found = found[:limit]
			}
			out = append(out, found...)
			continue
		}
		parser := indexer.NewParser(bytes.NewReader(d.Body), opts)
		n := 0
		for e := range parser.Entries() {
			out = append(out, e)
			n++
			if limit > 0 && n >= limit {
				break
			}
		}
		if err := parser.Err(); err != nil {
			p.logger().Warn("source parse stopped early", "source", d.Source, "err", err)
		}
		st := parser.Stats()
		total.Entries += st.Entries
		total.Orphaned += st.Orphaned
		total.Unterminated += st.Unterminated
		total.Unclassified += st.Unclassified
		if st.Skipped() > 0 {
			p.logger().Debug("lines skipped while parsing", "source", d.Source, "skipped", st.Skipped())
		}
	}
	return out
}

// fallbackEntry applies the configured overrides to the built-in fallback.
// nil leaves the assembler default in place.
func (p *Pipeline) fallbackEntry() *indexer.Entry {
	fb := p.Config.Fallback
	if fb == (config.FallbackChannel{}) {
		return nil
	}
	e := catalog.FallbackEntry()
	if fb.URL != "" {
		e.URL = fb.URL
	}
	if fb.Name != "" {
		e.Meta.Name = fb.Name
	}
	if fb.Group != "" {
		e.Meta = e.Meta.WithAttr("group-title", fb.Group)
		e.Meta.Group = fb.Group
	}
	if fb.Logo != "" {
		e.Meta = e.Meta.WithLogo(fb.Logo)
	}
	return &e
}

func (p *Pipeline) notify(ctx context.Context, log *slog.Logger, res Result, runErr error) {
	if p.Notifier == nil {
		return
	}
	s := notify.RunSummary{
		RunID:          res.RunID,
		StartedAt:      p.now().Add(-res.Duration),
		FinishedAt:     p.now(),
		Sources:        res.Sources,
		SourcesFailed:  res.SourcesFailed,
		Entries:        res.Entries,
		SkippedLines:   res.Parse.Skipped(),
		CacheHits:      res.Report.CacheHits,
		Checked:        res.Report.Checked,
		Passed:         res.Report.Passed,
		Failed:         res.Report.Failed,
		Abandoned:      res.Report.Abandoned,
		BudgetExceeded: res.Report.BudgetExceeded,
		Channels:       len(res.Channels),
		Fallback:       res.Fallback,
		PlaylistPath:   res.Publish.PlaylistPath,
		Elapsed:        res.Duration,
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	if err := p.Notifier.Notify(ctx, s); err != nil {
		log.Warn("run notification failed", "err", err)
	}
}

func countMissing(sources []string, docs []indexer.Document) int {
	got := make(map[string]bool, len(docs))
	for _, d := range docs {
		got[d.Source] = true
	}
	missing := 0
	for _, s := range sources {
		if !got[s] {
			missing++
		}
	}
	return missing
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
