package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
	"github.com/commercesignal/commercesignal/internal/scrape"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

// stubFetcher serves canned pages keyed by URL and runs validators the way
// the real fetcher does.
type stubFetcher struct {
	pages map[string]string
}

func (s *stubFetcher) Fetch(_ context.Context, _ models.Platform, url string, validate ...scrape.ValidateFunc) (*scrape.RenderResult, error) {
	html, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no canned page for %s", url)
	}
	res := &scrape.RenderResult{HTML: html, EffectiveURL: url}
	for _, v := range validate {
		if err := v(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type memProducts struct {
	mu   sync.Mutex
	rows map[string]models.Product // keyed platform|external_id
}

func newMemProducts() *memProducts {
	return &memProducts{rows: make(map[string]models.Product)}
}

func productKey(platform models.Platform, externalID string) string {
	return string(platform) + "|" + externalID
}

func (m *memProducts) Upsert(_ context.Context, p models.Product) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := productKey(p.Platform, p.ExternalID)
	if existing, ok := m.rows[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.New()
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()
	m.rows[key] = p
	return p, nil
}

func (m *memProducts) GetByID(_ context.Context, id uuid.UUID) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Product{}, persistence.ErrNotFound
}

func (m *memProducts) GetByExternalID(_ context.Context, platform models.Platform, externalID string) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[productKey(platform, externalID)]; ok {
		return p, nil
	}
	return models.Product{}, persistence.ErrNotFound
}

func (m *memProducts) ListByPlatform(_ context.Context, platform models.Platform, limit int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.rows {
		if p.Platform == platform && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) ListByCategory(_ context.Context, platform models.Platform, category string, limit int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.rows {
		if p.Platform == platform && p.Category == category && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memMetrics struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]models.DailyMetric // date-ascending per product
}

func newMemMetrics() *memMetrics {
	return &memMetrics{rows: make(map[uuid.UUID][]models.DailyMetric)}
}

func (m *memMetrics) Insert(_ context.Context, metric models.DailyMetric) (models.DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows[metric.ProductID] {
		if existing.Date.Equal(metric.Date) {
			return models.DailyMetric{}, persistence.ErrDuplicate
		}
	}
	metric.ID = uuid.New()
	metric.CreatedAt = time.Now().UTC()
	m.rows[metric.ProductID] = append(m.rows[metric.ProductID], metric)
	return metric, nil
}

func (m *memMetrics) History(_ context.Context, productID uuid.UUID, _ int) ([]models.DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DailyMetric(nil), m.rows[productID]...), nil
}

func (m *memMetrics) Latest(_ context.Context, productID uuid.UUID) (models.DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[productID]
	if len(rows) == 0 {
		return models.DailyMetric{}, persistence.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (m *memMetrics) LatestTwo(_ context.Context, productID uuid.UUID) ([]models.DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[productID]
	if len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	out := []models.DailyMetric{rows[len(rows)-1]}
	if len(rows) > 1 {
		out = append(out, rows[len(rows)-2])
	}
	return out, nil
}

// sinkRecorder captures every metric pair handed to the alert layer.
type sinkCall struct {
	productID uuid.UUID
	current   models.DailyMetric
	previous  *models.DailyMetric
}

type sinkRecorder struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *sinkRecorder) ProcessProductMetrics(_ context.Context, productID uuid.UUID, current models.DailyMetric, previous *models.DailyMetric) ([]models.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{productID: productID, current: current, previous: previous})
	return []models.AlertEvent{{ID: uuid.New()}}, nil
}

const amazonProductPage = `<html><body>
	<span id="productTitle"> Sony WH-1000XM5 Wireless Headphones </span>
	<span class="a-price"><span class="a-offscreen">$348.00</span></span>
	<div id="acrPopover"><span class="a-size-base">4.7</span></div>
	<span id="acrCustomerReviewText">12,345 ratings</span>
	<div id="availability"><span>In Stock</span></div>
</body></html>`

const amazonListingPage = `<html><body>
	<a href="/dp/B0AAAAAAA1">Wireless Earbuds Pro</a>
	<a href="/dp/B0BBBBBBB2">Smart Home Hub Mini</a>
</body></html>`

const earbudsProductPage = `<html><body>
	<span id="productTitle">Wireless Earbuds Pro</span>
	<span class="a-price"><span class="a-offscreen">$79.99</span></span>
	<div id="acrPopover"><span class="a-size-base">4.5</span></div>
	<span id="acrCustomerReviewText">3,210 ratings</span>
	<div id="availability"><span>In Stock</span></div>
	<div id="detailBullets_feature_div"><ul><li>Best Sellers Rank: #42 in Electronics</li></ul></div>
</body></html>`

const hubProductPage = `<html><body>
	<span id="productTitle">Smart Home Hub Mini</span>
	<span class="a-price"><span class="a-offscreen">$49.99</span></span>
	<div id="acrPopover"><span class="a-size-base">4.2</span></div>
	<span id="acrCustomerReviewText">1,024 ratings</span>
	<div id="availability"><span>In Stock</span></div>
</body></html>`

type harness struct {
	collector *Collector
	products  *memProducts
	metrics   *memMetrics
	sink      *sinkRecorder
	fetcher   *stubFetcher
}

func newHarness(gate *scrape.Gate) *harness {
	h := &harness{
		products: newMemProducts(),
		metrics:  newMemMetrics(),
		sink:     &sinkRecorder{},
		fetcher:  &stubFetcher{pages: make(map[string]string)},
	}
	h.collector = NewCollector(extractors.NewRegistry(), h.fetcher, gate, h.products, h.metrics, h.sink)
	return h
}

func TestRefreshBestsellersStoresNewProducts(t *testing.T) {
	h := newHarness(nil)
	amazon := extractors.NewAmazon()
	for _, url := range amazon.DiscoveryURLs(maxDiscoveryPages) {
		h.fetcher.pages[url] = amazonListingPage
	}
	h.fetcher.pages[amazon.ProductURL("B0AAAAAAA1")] = earbudsProductPage
	h.fetcher.pages[amazon.ProductURL("B0BBBBBBB2")] = hubProductPage

	res, err := h.collector.RefreshBestsellers(context.Background(), models.PlatformAmazonUS, 30)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 0, res.Errors)
	// Two hits per listing across eight category pages; each unique hit is
	// scraped once, repeats across pages are dropped without a fetch.
	assert.Equal(t, 2, res.Scraped)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 14, res.Duplicates)
	assert.Equal(t, 2, res.Alerts)

	p, err := h.products.GetByExternalID(context.Background(), models.PlatformAmazonUS, "B0AAAAAAA1")
	require.NoError(t, err)
	assert.Equal(t, "Wireless Earbuds Pro", p.Title)

	latest, err := h.metrics.Latest(context.Background(), p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 79.99, latest.Price, 0.001)
	require.NotNil(t, latest.Rank)
	assert.Equal(t, 42, *latest.Rank)
}

func TestRefreshBestsellersStoresProductPageSnapshot(t *testing.T) {
	// The snapshot for a discovered product must come from its product
	// page, so a same-day metrics pass finds the real data already stored
	// instead of a listing stub squatting on the (product, date) slot.
	h := newHarness(nil)
	amazon := extractors.NewAmazon()
	for _, url := range amazon.DiscoveryURLs(maxDiscoveryPages) {
		h.fetcher.pages[url] = amazonListingPage
	}
	h.fetcher.pages[amazon.ProductURL("B0AAAAAAA1")] = earbudsProductPage
	h.fetcher.pages[amazon.ProductURL("B0BBBBBBB2")] = hubProductPage

	_, err := h.collector.RefreshBestsellers(context.Background(), models.PlatformAmazonUS, 30)
	require.NoError(t, err)

	res, err := h.collector.CollectDailyMetrics(context.Background(), models.PlatformAmazonUS, metricsPassLimit)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 2, res.Duplicates)

	p, err := h.products.GetByExternalID(context.Background(), models.PlatformAmazonUS, "B0BBBBBBB2")
	require.NoError(t, err)
	latest, err := h.metrics.Latest(context.Background(), p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 49.99, latest.Price, 0.001)
	assert.Equal(t, 1024, latest.Reviews)
}

func TestRefreshBestsellersCountsUnparseableProducts(t *testing.T) {
	h := newHarness(nil)
	amazon := extractors.NewAmazon()
	for _, url := range amazon.DiscoveryURLs(maxDiscoveryPages) {
		h.fetcher.pages[url] = amazonListingPage
	}
	h.fetcher.pages[amazon.ProductURL("B0AAAAAAA1")] = earbudsProductPage
	// Title but no price element: the record is rejected, never stored.
	h.fetcher.pages[amazon.ProductURL("B0BBBBBBB2")] = `<html><body>
		<span id="productTitle">Smart Home Hub Mini</span>
	</body></html>`

	res, err := h.collector.RefreshBestsellers(context.Background(), models.PlatformAmazonUS, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Scraped)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 1, res.Errors)

	_, err = h.products.GetByExternalID(context.Background(), models.PlatformAmazonUS, "B0BBBBBBB2")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestRefreshBestsellersSkipsWhenCircuitOpen(t *testing.T) {
	gate := scrape.NewGate(scrape.GateParams{RequestsPerMinute: 1000, FailureThreshold: 2, ResetTimeout: time.Hour})
	for i := 0; i < 2; i++ {
		ticket, err := gate.Acquire(context.Background(), models.PlatformAmazonUS)
		require.NoError(t, err)
		ticket.Failure()
	}
	require.True(t, gate.Open(models.PlatformAmazonUS))

	h := newHarness(gate)
	res, err := h.collector.RefreshBestsellers(context.Background(), models.PlatformAmazonUS, 30)
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, "circuit open", res.SkipReason)
	assert.Equal(t, 0, res.Scraped)
	assert.Empty(t, h.sink.calls)
}

func TestCollectDailyMetricsFeedsAlertPair(t *testing.T) {
	h := newHarness(nil)
	amazon := extractors.NewAmazon()

	seeded, err := h.products.Upsert(context.Background(), models.Product{
		Platform:   models.PlatformAmazonUS,
		ExternalID: "B0ABCDEF12",
		URL:        amazon.ProductURL("B0ABCDEF12"),
		Title:      "Sony WH-1000XM5 Wireless Headphones",
		Category:   "Electronics",
	})
	require.NoError(t, err)

	yesterday := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	_, err = h.metrics.Insert(context.Background(), models.DailyMetric{
		ProductID: seeded.ID, Date: yesterday, Price: 400.00,
		Reviews: 12000, Rating: 4.7, SellerCount: 1, InStock: true,
	})
	require.NoError(t, err)

	h.fetcher.pages[amazon.ProductURL("B0ABCDEF12")] = amazonProductPage

	res, err := h.collector.CollectDailyMetrics(context.Background(), models.PlatformAmazonUS, metricsPassLimit)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Scraped)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 0, res.Errors)

	require.Len(t, h.sink.calls, 1)
	call := h.sink.calls[0]
	assert.Equal(t, seeded.ID, call.productID)
	assert.InDelta(t, 348.00, call.current.Price, 0.001)
	require.NotNil(t, call.previous)
	assert.InDelta(t, 400.00, call.previous.Price, 0.001)
}

func TestCollectDailyMetricsIsolatesProductFailures(t *testing.T) {
	h := newHarness(nil)
	amazon := extractors.NewAmazon()

	for _, id := range []string{"B0ABCDEF12", "B0MISSING99"} {
		_, err := h.products.Upsert(context.Background(), models.Product{
			Platform: models.PlatformAmazonUS, ExternalID: id,
			URL: amazon.ProductURL(id), Title: "seed " + id, Category: "Electronics",
		})
		require.NoError(t, err)
	}
	h.fetcher.pages[amazon.ProductURL("B0ABCDEF12")] = amazonProductPage

	res, err := h.collector.CollectDailyMetrics(context.Background(), models.PlatformAmazonUS, metricsPassLimit)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 1, res.Errors)
	assert.False(t, res.Skipped)
	assert.Len(t, h.sink.calls, 1)
}

func TestCollectDailyMetricsSecondRunSameDayIsDuplicate(t *testing.T) {
	h := newHarness(nil)
	amazon := extractors.NewAmazon()

	_, err := h.products.Upsert(context.Background(), models.Product{
		Platform: models.PlatformAmazonUS, ExternalID: "B0ABCDEF12",
		URL: amazon.ProductURL("B0ABCDEF12"), Title: "seed", Category: "Electronics",
	})
	require.NoError(t, err)
	h.fetcher.pages[amazon.ProductURL("B0ABCDEF12")] = amazonProductPage

	first, err := h.collector.CollectDailyMetrics(context.Background(), models.PlatformAmazonUS, metricsPassLimit)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stored)

	second, err := h.collector.CollectDailyMetrics(context.Background(), models.PlatformAmazonUS, metricsPassLimit)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Stored)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, h.sink.calls, 1, "duplicate day must not re-alert")
}

func TestSchedulerRegistersAllJobs(t *testing.T) {
	s, err := New(newHarness(nil).collector)
	require.NoError(t, err)
	// One metrics and one discovery entry per planned platform.
	assert.Len(t, s.cron.Entries(), 2*len(defaultPlans))
}

func TestSchedulerPlatformExclusivity(t *testing.T) {
	s, err := New(newHarness(nil).collector)
	require.NoError(t, err)

	require.True(t, s.acquire(models.PlatformAmazonUS))
	assert.False(t, s.acquire(models.PlatformAmazonUS), "same platform must not overlap")
	assert.True(t, s.acquire(models.PlatformFlipkartIN), "other platforms are independent")

	s.release(models.PlatformAmazonUS)
	assert.True(t, s.acquire(models.PlatformAmazonUS))
}

func TestSchedulerStatusSorted(t *testing.T) {
	s, err := New(newHarness(nil).collector)
	require.NoError(t, err)

	s.record(PassResult{Platform: models.PlatformWalmartUS, Kind: "metrics"})
	s.record(PassResult{Platform: models.PlatformAmazonUS, Kind: "metrics"})
	s.record(PassResult{Platform: models.PlatformAmazonUS, Kind: "discovery"})

	status := s.Status()
	require.Len(t, status, 3)
	assert.Equal(t, models.PlatformAmazonUS, status[0].Platform)
	assert.Equal(t, "discovery", status[0].Kind)
	assert.Equal(t, "metrics", status[1].Kind)
	assert.Equal(t, models.PlatformWalmartUS, status[2].Platform)
}
