package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
)

// metricsPassLimit caps how many tracked products one daily metrics pass
// re-scrapes per platform.
const metricsPassLimit = 500

// platformPlan pins one platform's cadence. Metrics passes are staggered
// across the early-UTC hours; discovery passes run on 6h or 12h grids with
// offsets so no two platforms crawl at the same minute.
type platformPlan struct {
	Platform      models.Platform
	ProductLimit  int    // products kept per bestseller page
	MetricsSpec   string // daily metrics refresh, cron spec, UTC
	DiscoverySpec string // bestseller discovery crawl, cron spec, UTC
}

var defaultPlans = []platformPlan{
	{models.PlatformAmazonUS, 30, "0 3 * * *", "0 0/6 * * *"},
	{models.PlatformFlipkartIN, 30, "0 4 * * *", "0 1/6 * * *"},
	{models.PlatformEBayUS, 20, "0 5 * * *", "0 0/12 * * *"},
	{models.PlatformWalmartUS, 20, "0 6 * * *", "0 6/12 * * *"},
}

// PassObserver receives every finished pass for instrumentation.
// *metrics.Registry satisfies it.
type PassObserver interface {
	ObservePass(platform, kind string, stored, duplicates, errs, alerts int, skipped bool, d time.Duration)
}

// Scheduler owns the cron table and the per-platform exclusivity locks. A
// platform never runs two passes at once; a tick that lands while the
// previous pass is still going is dropped, not queued.
type Scheduler struct {
	collector *Collector
	cron      *cron.Cron
	observer  PassObserver

	mu       sync.Mutex
	inFlight map[models.Platform]bool
	last     map[string]PassResult // keyed platform/kind
}

// New builds a scheduler over the collector. Jobs are registered but not
// started until Start.
func New(collector *Collector) (*Scheduler, error) {
	s := &Scheduler{
		collector: collector,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		inFlight:  make(map[models.Platform]bool),
		last:      make(map[string]PassResult),
	}
	for _, plan := range defaultPlans {
		plan := plan
		if _, err := s.cron.AddFunc(plan.MetricsSpec, func() { s.runMetrics(plan) }); err != nil {
			return nil, fmt.Errorf("failed to schedule %s metrics job: %w", plan.Platform, err)
		}
		if _, err := s.cron.AddFunc(plan.DiscoverySpec, func() { s.runDiscovery(plan) }); err != nil {
			return nil, fmt.Errorf("failed to schedule %s discovery job: %w", plan.Platform, err)
		}
	}
	return s, nil
}

// Observe attaches a pass observer. Call before Start.
func (s *Scheduler) Observe(obs PassObserver) { s.observer = obs }

// Start begins ticking. Returns immediately; jobs run on cron goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts the cron table and waits for running jobs to drain, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler drain interrupted: %w", ctx.Err())
	}
}

func (s *Scheduler) runDiscovery(plan platformPlan) {
	s.runExclusive(plan.Platform, "discovery", func(ctx context.Context) (PassResult, error) {
		return s.collector.RefreshBestsellers(ctx, plan.Platform, plan.ProductLimit)
	})
}

func (s *Scheduler) runMetrics(plan platformPlan) {
	s.runExclusive(plan.Platform, "metrics", func(ctx context.Context) (PassResult, error) {
		return s.collector.CollectDailyMetrics(ctx, plan.Platform, metricsPassLimit)
	})
}

// runExclusive runs one pass under the platform's exclusivity lock and
// records the result for the status endpoint.
func (s *Scheduler) runExclusive(platform models.Platform, kind string, pass func(context.Context) (PassResult, error)) {
	if !s.acquire(platform) {
		log.Warn().Str("platform", platform.String()).Str("kind", kind).Msg("pass dropped, platform busy")
		return
	}
	defer s.release(platform)

	res, err := pass(context.Background())
	if err != nil {
		log.Error().Err(err).Str("platform", platform.String()).Str("kind", kind).Msg("scheduled pass failed")
		res.Errors++
	}
	s.record(res)
	if s.observer != nil {
		s.observer.ObservePass(res.Platform.String(), res.Kind, res.Stored, res.Duplicates, res.Errors, res.Alerts, res.Skipped, res.Duration)
	}
	log.Info().
		Str("platform", platform.String()).
		Str("kind", kind).
		Int("scraped", res.Scraped).
		Int("stored", res.Stored).
		Int("alerts", res.Alerts).
		Int("errors", res.Errors).
		Bool("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("scheduled pass finished")
}

func (s *Scheduler) acquire(platform models.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[platform] {
		return false
	}
	s.inFlight[platform] = true
	return true
}

func (s *Scheduler) release(platform models.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, platform)
}

func (s *Scheduler) record(res PassResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[string(res.Platform)+"/"+res.Kind] = res
}

// Status reports the most recent result of every pass, sorted for stable
// output.
func (s *Scheduler) Status() []PassResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PassResult, 0, len(s.last))
	for _, res := range s.last {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
