// Package smoketest validates batches of stream URLs concurrently under a
// wall-clock budget, consulting and updating the validation cache.
package smoketest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/snapetech/tvcollector/internal/cache"
	"github.com/snapetech/tvcollector/internal/metrics"
	"github.com/snapetech/tvcollector/internal/probe"
)

const (
	DefaultWorkers = 8
	DefaultBudget  = 60 * time.Second
	DefaultTTL     = 24 * time.Hour

	// releaseWait bounds how long Validate waits for cancelled probes to return.
	releaseWait = 5 * time.Second
)

// Report summarizes one Validate call.
type Report struct {
	// Active holds every URL accepted in this batch, from cache or probe.
	Active         map[string]cache.Record
	CacheHits      int
	Checked        int // probe results recorded in the cache
	Passed         int
	Failed         int
	Abandoned      int // needed a probe but no result was recorded
	BudgetExceeded bool
	Elapsed        time.Duration
}

// Scheduler runs liveness checks through a fixed-size worker pool.
//
// The budget is a deadline on the context handed to every probe: once it
// lapses, in-flight checks are cancelled and late results are discarded. The
// goroutine consuming results is the only writer to Cache.
type Scheduler struct {
	Prober  Prober
	Cache   *cache.Cache
	Workers int
	// Budget caps the wall time of a batch. 0 means already spent (no probes
	// run); negative disables the cap.
	Budget time.Duration
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Validate returns the URLs of urls that are live, probing only those whose
// cache record is missing, negative or older than TTL. Duplicates in urls are
// checked once. The error is non-nil only when ctx itself was cancelled or the
// worker pool could not be created; the report is valid either way.
func (s *Scheduler) Validate(ctx context.Context, urls []string) (Report, error) {
	start := time.Now()
	log := s.logger()
	rep := Report{Active: make(map[string]cache.Record)}
	defer func() {
		rep.Elapsed = time.Since(start)
		metrics.BatchDuration.Observe(rep.Elapsed.Seconds())
		metrics.CacheRecords.Set(float64(s.Cache.Len()))
	}()

	now := s.now()
	seen := make(map[string]bool, len(urls))
	var pending []string
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		rec, ok := s.Cache.Lookup(u)
		if ok && !cache.ShouldRevalidate(&rec, s.TTL, now) {
			rep.Active[u] = rec
			rep.CacheHits++
			continue
		}
		pending = append(pending, u)
	}
	metrics.CacheHitsTotal.Add(float64(rep.CacheHits))

	if len(pending) == 0 {
		return rep, nil
	}
	if s.Budget == 0 {
		rep.BudgetExceeded = true
		rep.Abandoned = len(pending)
		metrics.BudgetExceededTotal.Inc()
		log.Warn("validation budget already spent", "pending", len(pending))
		return rep, nil
	}

	var (
		bctx   context.Context
		cancel context.CancelFunc
	)
	if s.Budget > 0 {
		bctx, cancel = context.WithTimeout(ctx, s.Budget)
	} else {
		bctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	pool, err := ants.NewPool(s.workers())
	if err != nil {
		rep.Abandoned = len(pending)
		return rep, fmt.Errorf("smoketest: worker pool: %w", err)
	}

	results := make(chan probe.Result, len(pending))
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for _, u := range pending {
			if bctx.Err() != nil {
				return
			}
			err := pool.Submit(func() {
				results <- s.Prober.Check(bctx, u)
			})
			if err != nil {
				results <- probe.Result{URL: u, Err: err}
			}
		}
	}()

	log.Info("validation batch started", "pending", len(pending), "cached", rep.CacheHits, "workers", s.workers(), "budget", s.Budget)
	received := 0
consume:
	for received < len(pending) {
		select {
		case res := <-results:
			received++
			if bctx.Err() != nil || s.overBudget(start) {
				break consume
			}
			s.record(&rep, res)
		case <-bctx.Done():
			break consume
		}
	}

	cancel()
	<-submitted
	if err := pool.ReleaseTimeout(releaseWait); err != nil {
		log.Debug("worker pool release", "err", err)
	}

	rep.Abandoned = len(pending) - rep.Checked
	if ctx.Err() != nil {
		log.Warn("validation batch cancelled", "checked", rep.Checked, "abandoned", rep.Abandoned)
		return rep, ctx.Err()
	}
	if rep.Abandoned > 0 {
		rep.BudgetExceeded = true
		metrics.BudgetExceededTotal.Inc()
		log.Warn("validation budget exceeded", "budget", s.Budget, "checked", rep.Checked, "abandoned", rep.Abandoned)
	}
	log.Info("validation batch done",
		"passed", rep.Passed,
		"failed", rep.Failed,
		"cached", rep.CacheHits,
		"abandoned", rep.Abandoned,
		"elapsed", time.Since(start),
	)
	return rep, nil
}

func (s *Scheduler) record(rep *Report, res probe.Result) {
	rec := s.Cache.Upsert(res.URL, res.Active, res.ResolvedURL, s.now())
	rep.Checked++
	if !res.Active {
		rep.Failed++
		return
	}
	rep.Passed++
	rep.Active[res.URL] = rec
}

func (s *Scheduler) overBudget(start time.Time) bool {
	return s.Budget > 0 && time.Since(start) >= s.Budget
}

func (s *Scheduler) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return DefaultWorkers
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
