// Package scheduler drives the recurring scrape passes: bestseller
// discovery crawls that pull new products into tracking, and daily metric
// refreshes over everything already tracked. Cron wiring lives in
// scheduler.go; the passes themselves are plain methods so tests and the
// one-shot CLI command can run them directly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
	"github.com/commercesignal/commercesignal/internal/scrape"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

// maxDiscoveryPages caps how many bestseller category pages one discovery
// pass crawls per platform. Every extractor's category table fits under it.
const maxDiscoveryPages = 16

// AlertSink receives a (current, previous) metric pair after each stored
// snapshot. Production passes *alerts.Engine.
type AlertSink interface {
	ProcessProductMetrics(ctx context.Context, productID uuid.UUID, current models.DailyMetric, previous *models.DailyMetric) ([]models.AlertEvent, error)
}

// PassResult summarises one platform pass for logs and the status endpoint.
type PassResult struct {
	Platform   models.Platform `json:"platform"`
	Kind       string          `json:"kind"` // "discovery" or "metrics"
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Scraped    int             `json:"scraped"`
	Stored     int             `json:"stored"`
	Duplicates int             `json:"duplicates"`
	Alerts     int             `json:"alerts"`
	Errors     int             `json:"errors"`
	Skipped    bool            `json:"skipped"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

// Collector runs the scrape passes against one fetcher and one store.
// Every product is its own transaction boundary: a parse or insert failure
// is counted and logged, never propagated to the rest of the pass.
type Collector struct {
	registry *extractors.Registry
	fetcher  extractors.PageFetcher
	gate     *scrape.Gate
	products persistence.ProductsRepo
	metrics  persistence.MetricsRepo
	alerts   AlertSink
	now      func() time.Time
}

// NewCollector wires a collector. gate and alerts may be nil; a nil gate
// skips the pre-pass breaker check and a nil sink disables alerting.
func NewCollector(registry *extractors.Registry, fetcher extractors.PageFetcher, gate *scrape.Gate, products persistence.ProductsRepo, metrics persistence.MetricsRepo, alerts AlertSink) *Collector {
	return &Collector{
		registry: registry,
		fetcher:  fetcher,
		gate:     gate,
		products: products,
		metrics:  metrics,
		alerts:   alerts,
		now:      time.Now,
	}
}

// RefreshBestsellers crawls the platform's bestseller pages for product
// references, up to limit per page, then resolves each one to a full
// product page scrape before storing. Listing tiles never become metric
// rows on their own: the scraped page is the only source of a snapshot.
func (c *Collector) RefreshBestsellers(ctx context.Context, platform models.Platform, limit int) (res PassResult, err error) {
	res = PassResult{Platform: platform, Kind: "discovery", StartedAt: c.now().UTC()}
	defer func(start time.Time) { res.Duration = c.now().Sub(start) }(c.now())

	ex, err := c.registry.ForPlatform(platform)
	if err != nil {
		return res, err
	}
	if c.gate != nil && c.gate.Open(platform) {
		res.Skipped, res.SkipReason = true, "circuit open"
		log.Warn().Str("platform", platform.String()).Msg("discovery pass skipped, circuit open")
		return res, nil
	}

	seen := make(map[string]bool)
	for _, listURL := range ex.DiscoveryURLs(maxDiscoveryPages) {
		hits, err := ex.ScrapeList(ctx, c.fetcher, listURL, limit)
		if err != nil {
			if errors.Is(err, scrape.ErrCircuitOpen) {
				res.Skipped, res.SkipReason = true, "circuit opened mid-pass"
				log.Warn().Str("platform", platform.String()).Msg("discovery pass aborted, circuit opened")
				return res, nil
			}
			res.Errors++
			log.Error().Err(err).Str("platform", platform.String()).Str("url", listURL).Msg("listing scrape failed")
			continue
		}
		for _, hit := range hits {
			if seen[hit.ExternalID] {
				res.Duplicates++
				continue
			}
			seen[hit.ExternalID] = true
			item, err := ex.ScrapeProduct(ctx, c.fetcher, hit.ExternalID)
			if err != nil {
				if errors.Is(err, scrape.ErrCircuitOpen) {
					res.Skipped, res.SkipReason = true, "circuit opened mid-pass"
					log.Warn().Str("platform", platform.String()).Msg("discovery pass aborted, circuit opened")
					return res, nil
				}
				res.Errors++
				log.Error().Err(err).Str("platform", platform.String()).Str("external_id", hit.ExternalID).Msg("discovered product scrape failed")
				continue
			}
			res.Scraped++
			c.store(ctx, item, &res)
		}
	}
	return res, nil
}

// CollectDailyMetrics re-scrapes every tracked product on the platform and
// appends today's metric snapshot.
func (c *Collector) CollectDailyMetrics(ctx context.Context, platform models.Platform, limit int) (res PassResult, err error) {
	res = PassResult{Platform: platform, Kind: "metrics", StartedAt: c.now().UTC()}
	defer func(start time.Time) { res.Duration = c.now().Sub(start) }(c.now())

	ex, err := c.registry.ForPlatform(platform)
	if err != nil {
		return res, err
	}
	if c.gate != nil && c.gate.Open(platform) {
		res.Skipped, res.SkipReason = true, "circuit open"
		log.Warn().Str("platform", platform.String()).Msg("metrics pass skipped, circuit open")
		return res, nil
	}

	tracked, err := c.products.ListByPlatform(ctx, platform, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list tracked products: %w", err)
	}
	for _, p := range tracked {
		item, err := ex.ScrapeProduct(ctx, c.fetcher, p.ExternalID)
		if err != nil {
			if errors.Is(err, scrape.ErrCircuitOpen) {
				res.Skipped, res.SkipReason = true, "circuit opened mid-pass"
				log.Warn().Str("platform", platform.String()).Msg("metrics pass aborted, circuit opened")
				return res, nil
			}
			res.Errors++
			log.Error().Err(err).Str("platform", platform.String()).Str("external_id", p.ExternalID).Msg("product scrape failed")
			continue
		}
		res.Scraped++
		c.store(ctx, item, &res)
	}
	return res, nil
}

// store upserts the product row, appends today's metric, and feeds the
// alert engine the (current, previous) pair. Failures are counted on the
// result; a duplicate metric means the product was already collected today.
func (c *Collector) store(ctx context.Context, item *models.ScrapedProduct, res *PassResult) {
	product, err := c.products.Upsert(ctx, item.Product())
	if err != nil {
		res.Errors++
		log.Error().Err(err).Str("platform", item.Platform.String()).Str("external_id", item.ExternalID).Msg("product upsert failed")
		return
	}

	var previous *models.DailyMetric
	if prev, err := c.metrics.Latest(ctx, product.ID); err == nil {
		previous = &prev
	} else if !errors.Is(err, persistence.ErrNotFound) {
		res.Errors++
		log.Error().Err(err).Str("product_id", product.ID.String()).Msg("latest metric lookup failed")
		return
	}

	today := c.now().UTC().Truncate(24 * time.Hour)
	metric, err := c.metrics.Insert(ctx, item.Metric(product.ID, today))
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			res.Duplicates++
			return
		}
		res.Errors++
		log.Error().Err(err).Str("product_id", product.ID.String()).Msg("metric insert failed")
		return
	}
	res.Stored++

	if c.alerts == nil {
		return
	}
	events, err := c.alerts.ProcessProductMetrics(ctx, product.ID, metric, previous)
	if err != nil {
		res.Errors++
		log.Error().Err(err).Str("product_id", product.ID.String()).Msg("alert evaluation failed")
		return
	}
	res.Alerts += len(events)
}

// runAll fans one pass kind out across platforms. Platforms run
// concurrently; products within each platform stay sequential so the
// per-platform pacing holds.
func (c *Collector) runAll(ctx context.Context, plans []platformPlan, pass func(context.Context, platformPlan) (PassResult, error)) ([]PassResult, error) {
	results := make([]PassResult, len(plans))
	g, ctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			res, err := pass(ctx, plan)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RunDiscoveryAll crawls bestsellers on every scheduled platform at once.
func (c *Collector) RunDiscoveryAll(ctx context.Context) ([]PassResult, error) {
	return c.runAll(ctx, defaultPlans, func(ctx context.Context, p platformPlan) (PassResult, error) {
		return c.RefreshBestsellers(ctx, p.Platform, p.ProductLimit)
	})
}

// RunMetricsAll refreshes daily metrics on every scheduled platform at once.
func (c *Collector) RunMetricsAll(ctx context.Context) ([]PassResult, error) {
	return c.runAll(ctx, defaultPlans, func(ctx context.Context, p platformPlan) (PassResult, error) {
		return c.CollectDailyMetrics(ctx, p.Platform, metricsPassLimit)
	})
}
