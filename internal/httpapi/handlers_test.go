package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercesignal/commercesignal/internal/alerts"
	"github.com/commercesignal/commercesignal/internal/intelligence"
	"github.com/commercesignal/commercesignal/internal/metrics"
	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
	"github.com/commercesignal/commercesignal/internal/scrape"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

// ---- in-memory fakes ----

type stubFetcher struct {
	pages map[string]string
}

func (s *stubFetcher) Fetch(_ context.Context, _ models.Platform, url string, validate ...scrape.ValidateFunc) (*scrape.RenderResult, error) {
	html, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: no canned page for %s", scrape.ErrExtraction, url)
	}
	res := &scrape.RenderResult{HTML: html, EffectiveURL: url}
	for _, v := range validate {
		if err := v(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type fakeStore struct {
	mu       sync.Mutex
	products map[string]models.Product
	metrics  map[uuid.UUID][]models.DailyMetric
	brands   map[string]models.Brand
	brandHis map[uuid.UUID][]models.BrandMetric
	subs     map[uuid.UUID]models.AlertSubscription
	events   map[uuid.UUID]models.AlertEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]models.Product),
		metrics:  make(map[uuid.UUID][]models.DailyMetric),
		brands:   make(map[string]models.Brand),
		brandHis: make(map[uuid.UUID][]models.BrandMetric),
		subs:     make(map[uuid.UUID]models.AlertSubscription),
		events:   make(map[uuid.UUID]models.AlertEvent),
	}
}

func pkey(platform models.Platform, externalID string) string {
	return string(platform) + "|" + externalID
}

func (f *fakeStore) Upsert(_ context.Context, p models.Product) (models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.products[pkey(p.Platform, p.ExternalID)]; ok {
		p.ID = existing.ID
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.products[pkey(p.Platform, p.ExternalID)] = p
	return p, nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Product{}, persistence.ErrNotFound
}

func (f *fakeStore) GetByExternalID(_ context.Context, platform models.Platform, externalID string) (models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[pkey(platform, externalID)]; ok {
		return p, nil
	}
	return models.Product{}, persistence.ErrNotFound
}

func (f *fakeStore) ListByPlatform(_ context.Context, platform models.Platform, limit int) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, p := range f.products {
		if p.Platform == platform && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByCategory(_ context.Context, platform models.Platform, category string, limit int) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, p := range f.products {
		if p.Platform == platform && p.Category == category && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, m models.DailyMetric) (models.DailyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.metrics[m.ProductID] {
		if existing.Date.Equal(m.Date) {
			return models.DailyMetric{}, persistence.ErrDuplicate
		}
	}
	m.ID = uuid.New()
	f.metrics[m.ProductID] = append(f.metrics[m.ProductID], m)
	return m, nil
}

func (f *fakeStore) History(_ context.Context, productID uuid.UUID, _ int) ([]models.DailyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DailyMetric(nil), f.metrics[productID]...), nil
}

func (f *fakeStore) Latest(_ context.Context, productID uuid.UUID) (models.DailyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.metrics[productID]
	if len(rows) == 0 {
		return models.DailyMetric{}, persistence.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (f *fakeStore) LatestTwo(_ context.Context, productID uuid.UUID) ([]models.DailyMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.metrics[productID]
	if len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	out := []models.DailyMetric{rows[len(rows)-1]}
	if len(rows) > 1 {
		out = append(out, rows[len(rows)-2])
	}
	return out, nil
}

func bkey(platform models.Platform, slug string) string {
	return string(platform) + "|" + slug
}

func (f *fakeStore) UpsertBrand(_ context.Context, b models.Brand) (models.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.brands[bkey(b.Platform, b.Slug)]; ok {
		return existing, nil
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	f.brands[bkey(b.Platform, b.Slug)] = b
	return b, nil
}

func (f *fakeStore) GetBySlug(_ context.Context, platform models.Platform, slug string) (models.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.brands[bkey(platform, slug)]; ok {
		return b, nil
	}
	return models.Brand{}, persistence.ErrNotFound
}

func (f *fakeStore) Products(_ context.Context, brandID uuid.UUID, limit int) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var brand models.Brand
	for _, b := range f.brands {
		if b.ID == brandID {
			brand = b
		}
	}
	var out []models.Product
	for _, p := range f.products {
		if p.Brand != nil && *p.Brand == brand.Name && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertMetric(_ context.Context, m models.BrandMetric) (models.BrandMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	f.brandHis[m.BrandID] = append(f.brandHis[m.BrandID], m)
	return m, nil
}

func (f *fakeStore) MetricHistory(_ context.Context, brandID uuid.UUID, _ int) ([]models.BrandMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BrandMetric(nil), f.brandHis[brandID]...), nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, s models.AlertSubscription) (models.AlertSubscription, error) {
	if !s.AlertType.Valid() {
		return models.AlertSubscription{}, fmt.Errorf("unknown alert type %q", s.AlertType)
	}
	if !s.Channel.Valid() {
		return models.AlertSubscription{}, fmt.Errorf("unknown channel %q", s.Channel)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New()
	s.IsActive = true
	s.CreatedAt = time.Now().UTC()
	f.subs[s.ID] = s
	return s, nil
}

func (f *fakeStore) GetSubscription(_ context.Context, id uuid.UUID) (models.AlertSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[id]; ok {
		return s, nil
	}
	return models.AlertSubscription{}, persistence.ErrNotFound
}

func (f *fakeStore) ActiveSubscriptions(_ context.Context, productID *uuid.UUID) ([]models.AlertSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AlertSubscription
	for _, s := range f.subs {
		if !s.IsActive {
			continue
		}
		if productID != nil && (s.ProductID == nil || *s.ProductID != *productID) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) DeactivateSubscription(_ context.Context, id uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.UserID != userID {
		return persistence.ErrNotFound
	}
	s.IsActive = false
	f.subs[id] = s
	return nil
}

func (f *fakeStore) InsertEvent(_ context.Context, e models.AlertEvent) (models.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	f.events[e.ID] = e
	return e, nil
}

func (f *fakeStore) EventsForUser(_ context.Context, userID string, unackedOnly bool, limit int) ([]models.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AlertEvent
	for _, e := range f.events {
		sub, ok := f.subs[e.SubscriptionID]
		if !ok || sub.UserID != userID {
			continue
		}
		if unackedOnly && e.Acknowledged {
			continue
		}
		if len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Acknowledge(_ context.Context, eventID uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return persistence.ErrNotFound
	}
	sub, ok := f.subs[e.SubscriptionID]
	if !ok || sub.UserID != userID {
		return persistence.ErrNotFound
	}
	e.Acknowledged = true
	f.events[eventID] = e
	return nil
}

func (f *fakeStore) RecentEventCount(_ context.Context, subscriptionID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.events {
		if e.SubscriptionID == subscriptionID && e.TriggeredAt.After(since) {
			count++
		}
	}
	return count, nil
}

// brandsAdapter exposes the fakeStore under the BrandsRepo method names.
type brandsAdapter struct{ *fakeStore }

func (b brandsAdapter) Upsert(ctx context.Context, brand models.Brand) (models.Brand, error) {
	return b.UpsertBrand(ctx, brand)
}

// ---- harness ----

const amazonProductPage = `<html><body>
	<span id="productTitle"> Sony WH-1000XM5 Wireless Headphones </span>
	<span class="a-price"><span class="a-offscreen">$348.00</span></span>
	<div id="acrPopover"><span class="a-size-base">4.7</span></div>
	<span id="acrCustomerReviewText">12,345 ratings</span>
	<div id="availability"><span>In Stock</span></div>
</body></html>`

type apiHarness struct {
	store   *fakeStore
	fetcher *stubFetcher
	queue   *alerts.Queue
	server  *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	store := newFakeStore()
	fetcher := &stubFetcher{pages: make(map[string]string)}
	queue := alerts.NewQueue()

	// A dead FX endpoint forces the converter onto its fallback table.
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	converter := intelligence.NewConverter(nil, intelligence.WithFXEndpoint(dead.URL))

	handlers := NewHandlers(
		extractors.NewRegistry(),
		fetcher,
		store,
		store,
		brandsAdapter{store},
		store,
		alerts.NewEngine(store, alerts.NewChannels(queue)),
		queue,
		intelligence.NewEngine(),
		intelligence.NewBrandAnalyzer(),
		intelligence.NewArbitrageAnalyzer(converter),
		nil,
	)
	srv := NewServer("127.0.0.1:0", handlers, metrics.New())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &apiHarness{store: store, fetcher: fetcher, queue: queue, server: ts}
}

func (h *apiHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// ---- tests ----

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeMap(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointServes(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyzeProductScrapesUnknownAndTracks(t *testing.T) {
	h := newAPIHarness(t)
	amazon := extractors.NewAmazon()
	h.fetcher.pages[amazon.ProductURL("B0ABCDEF12")] = amazonProductPage

	resp := h.postJSON(t, "/api/analyze-product", map[string]string{
		"url": "https://www.amazon.com/dp/B0ABCDEF12",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeMap(t, resp)
	assert.Equal(t, "B0ABCDEF12", body["external_id"])
	assert.Contains(t, body, "overall_score")
	assert.Contains(t, body, "verdict")
	assert.InDelta(t, 348.00, body["current_price"], 0.001)

	_, err := h.store.GetByExternalID(context.Background(), models.PlatformAmazonUS, "B0ABCDEF12")
	assert.NoError(t, err, "analyzed product must enter tracking")
}

func TestAnalyzeProductRejectsBadBody(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Post(h.server.URL+"/api/analyze-product", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeProductScrapeFailureIsBadGateway(t *testing.T) {
	h := newAPIHarness(t)
	// No canned page: the fetch fails as an extraction error.
	resp := h.postJSON(t, "/api/analyze-product", map[string]string{
		"url": "https://www.amazon.com/dp/B0NOPAGE99",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func seedProduct(t *testing.T, store *fakeStore, platform models.Platform, externalID, title string, price float64) models.Product {
	t.Helper()
	p, err := store.Upsert(context.Background(), models.Product{
		Platform: platform, ExternalID: externalID,
		URL: "https://example.invalid/" + externalID, Title: title, Category: "Electronics",
	})
	require.NoError(t, err)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	_, err = store.Insert(context.Background(), models.DailyMetric{
		ProductID: p.ID, Date: today, Price: price,
		Reviews: 1000, Rating: 4.5, SellerCount: 3, InStock: true,
	})
	require.NoError(t, err)
	return p
}

func TestComparePricesAcrossRegions(t *testing.T) {
	h := newAPIHarness(t)
	seedProduct(t, h.store, models.PlatformAmazonUS, "B0ABCDEF12", "Headphones", 99.99)
	seedProduct(t, h.store, models.PlatformFlipkartIN, "MOBF9GAZWHZ4FHRY", "Headphones", 3000)

	resp := h.postJSON(t, "/api/compare-prices", map[string]any{
		"urls": []string{
			"https://www.amazon.com/dp/B0ABCDEF12",
			"https://www.flipkart.com/headphones/p/itmabc?pid=MOBF9GAZWHZ4FHRY",
		},
		"category": "Electronics",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeMap(t, resp)
	assert.Equal(t, "Headphones", body["product_title"])
	regional := body["regional_prices"].([]any)
	require.Len(t, regional, 2)
	assert.NotEmpty(t, body["recommendation"])
}

func TestComparePricesNeedsTwoURLs(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/compare-prices", map[string]any{
		"urls": []string{"https://www.amazon.com/dp/B0ABCDEF12"},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDetectTrendingRequiresPlatform(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/api/detect-trending?platform=myspace")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDetectTrendingRanksTracked(t *testing.T) {
	h := newAPIHarness(t)
	seedProduct(t, h.store, models.PlatformAmazonUS, "B0AAAAAAA1", "Hot Gadget", 25)
	seedProduct(t, h.store, models.PlatformAmazonUS, "B0BBBBBBB2", "Flat Gadget", 30)

	resp, err := http.Get(h.server.URL + "/api/detect-trending?platform=amazon_us&limit=5")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeMap(t, resp)
	assert.Equal(t, "amazon_us", body["platform"])
	trending := body["trending"].([]any)
	assert.Len(t, trending, 2)
}

func TestAnalyzeBrandUnknownIs404(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/analyze-brand", map[string]string{
		"platform": "amazon_us", "brand": "nonexistent",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeBrandReturnsReport(t *testing.T) {
	h := newAPIHarness(t)
	brand, err := h.store.UpsertBrand(context.Background(), models.Brand{
		Platform: models.PlatformAmazonUS, Name: "Anker", Slug: "anker",
	})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := h.store.InsertMetric(context.Background(), models.BrandMetric{
			BrandID: brand.ID, Date: time.Now().UTC().AddDate(0, 0, -9+i),
			ProductCount: 20, AvgPrice: 45, AvgRating: 4.4, TotalReviews: 8000,
			RevenueEstimate: 250000,
		})
		require.NoError(t, err)
	}

	resp := h.postJSON(t, "/api/analyze-brand", map[string]string{
		"platform": "amazon_us", "brand": "anker",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeMap(t, resp)
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "verdict")
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/subscribe-alert", map[string]any{
		"user_id": "u1", "alert_type": "price_drop", "platform": "amazon_us",
		"threshold_percent": 10, "notification_channel": "queue",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeMap(t, resp)
	subID := body["id"].(string)
	require.NotEmpty(t, subID)

	// Wrong owner cannot deactivate.
	req, _ := http.NewRequest(http.MethodDelete, h.server.URL+"/api/subscriptions/"+subID+"?user_id=intruder", nil)
	wrong, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrong.Body.Close()
	assert.Equal(t, http.StatusNotFound, wrong.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, h.server.URL+"/api/subscriptions/"+subID+"?user_id=u1", nil)
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestSubscribeWebhookRequiresURL(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/subscribe-alert", map[string]any{
		"user_id": "u1", "alert_type": "price_drop", "platform": "amazon_us",
		"notification_channel": "webhook",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAckAlertFlow(t *testing.T) {
	h := newAPIHarness(t)
	sub, err := h.store.CreateSubscription(context.Background(), models.AlertSubscription{
		UserID: "u1", AlertType: models.AlertPriceDrop,
		Platform: models.PlatformAmazonUS, Channel: models.ChannelQueue,
	})
	require.NoError(t, err)
	event, err := h.store.InsertEvent(context.Background(), models.AlertEvent{
		SubscriptionID: sub.ID, EventType: "price_drop_percent",
		EventData: []byte("{}"), TriggeredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	list, err := http.Get(h.server.URL + "/api/alerts?user_id=u1")
	require.NoError(t, err)
	listBody := decodeMap(t, list)
	assert.EqualValues(t, 1, listBody["count"])

	resp := h.postJSON(t, "/api/alerts/"+event.ID.String()+"/ack", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	unacked, err := http.Get(h.server.URL + "/api/alerts?user_id=u1&unacked=true")
	require.NoError(t, err)
	unackedBody := decodeMap(t, unacked)
	assert.EqualValues(t, 0, unackedBody["count"])
}

func TestPendingAlertsQueue(t *testing.T) {
	h := newAPIHarness(t)
	sub := models.AlertSubscription{ID: uuid.New(), UserID: "u9", Channel: models.ChannelQueue}
	event := models.AlertEvent{ID: uuid.New(), SubscriptionID: sub.ID, EventType: "stockout", EventData: []byte("{}")}
	require.NoError(t, h.queue.Send(context.Background(), sub, event, "Product is now OUT OF STOCK"))

	resp, err := http.Get(h.server.URL + "/api/pending-alerts?user_id=u9")
	require.NoError(t, err)
	body := decodeMap(t, resp)
	assert.EqualValues(t, 1, body["count"])

	req, _ := http.NewRequest(http.MethodDelete, h.server.URL+"/api/pending-alerts?user_id=u9", nil)
	cleared, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	clearedBody := decodeMap(t, cleared)
	assert.EqualValues(t, 1, clearedBody["cleared"])
	assert.Zero(t, h.queue.Count("u9"))
}

func TestUnknownEndpointIsJSON404(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Contains(t, body["error"], "/nope")
}
