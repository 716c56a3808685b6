package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/alerts"
	"github.com/commercesignal/commercesignal/internal/intelligence"
	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
	"github.com/commercesignal/commercesignal/internal/scheduler"
	"github.com/commercesignal/commercesignal/internal/scrape"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

const (
	analysisWindowDays = 90
	trendWindowDays    = 30
	defaultTrendLimit  = 10
	maxCompareBrands   = 5
)

// StatusProvider reports the scheduler's latest pass results.
type StatusProvider interface {
	Status() []scheduler.PassResult
}

// Handlers carries every dependency the API needs. All fields are
// interfaces or small structs so tests wire fakes.
type Handlers struct {
	registry   *extractors.Registry
	fetcher    extractors.PageFetcher
	products   persistence.ProductsRepo
	metricsDB  persistence.MetricsRepo
	brands     persistence.BrandsRepo
	alertsRepo persistence.AlertsRepo
	alertsEng  *alerts.Engine
	queue      *alerts.Queue
	intel      *intelligence.Engine
	brandIQ    *intelligence.BrandAnalyzer
	arbitrage  *intelligence.ArbitrageAnalyzer
	status     StatusProvider
	now        func() time.Time
}

// NewHandlers wires the handler set. status may be nil when the API runs
// without the scheduler.
func NewHandlers(
	registry *extractors.Registry,
	fetcher extractors.PageFetcher,
	products persistence.ProductsRepo,
	metricsDB persistence.MetricsRepo,
	brands persistence.BrandsRepo,
	alertsRepo persistence.AlertsRepo,
	alertsEng *alerts.Engine,
	queue *alerts.Queue,
	intel *intelligence.Engine,
	brandIQ *intelligence.BrandAnalyzer,
	arbitrage *intelligence.ArbitrageAnalyzer,
	status StatusProvider,
) *Handlers {
	return &Handlers{
		registry:   registry,
		fetcher:    fetcher,
		products:   products,
		metricsDB:  metricsDB,
		brands:     brands,
		alertsRepo: alertsRepo,
		alertsEng:  alertsEng,
		queue:      queue,
		intel:      intel,
		brandIQ:    brandIQ,
		arbitrage:  arbitrage,
		status:     status,
		now:        time.Now,
	}
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /status with the last result of every scheduled pass.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"scheduler": "not running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": h.status.Status()})
}

type analyzeProductRequest struct {
	URL        string          `json:"url,omitempty"`
	Platform   models.Platform `json:"platform,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
}

// AnalyzeProduct handles POST /api/analyze-product. Unknown products are
// scraped live and enter tracking; known ones are analyzed from history.
func (h *Handlers) AnalyzeProduct(w http.ResponseWriter, r *http.Request) {
	var req analyzeProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ex, id, err := h.resolveTarget(req.URL, req.Platform, req.ExternalID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, history, err := h.ensureProduct(r, ex, id)
	if err != nil {
		h.writeScrapeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.intel.AnalyzeProduct(product, history))
}

type comparePricesRequest struct {
	URLs     []string `json:"urls"`
	Category string   `json:"category,omitempty"`
}

// ComparePrices handles POST /api/compare-prices across two or more
// regional listings of the same product.
func (h *Handlers) ComparePrices(w http.ResponseWriter, r *http.Request) {
	var req comparePricesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.URLs) < 2 {
		writeError(w, http.StatusBadRequest, "compare-prices needs at least 2 product urls")
		return
	}

	var (
		title    string
		category = req.Category
		prices   []intelligence.RegionalPrice
	)
	for _, rawURL := range req.URLs {
		ex, id, err := h.registry.Dispatch(rawURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported url %s: %v", rawURL, err))
			return
		}
		product, history, err := h.ensureProduct(r, ex, id)
		if err != nil {
			h.writeScrapeError(w, err)
			return
		}
		if title == "" {
			title = product.Title
		}
		if category == "" {
			category = product.Category
		}
		latest := history[len(history)-1]
		platform := product.Platform
		prices = append(prices, intelligence.RegionalPrice{
			Platform:    platform,
			Country:     platform.Country(),
			Currency:    intelligence.Currency(platform.Currency()),
			PriceNative: latest.Price,
			InStock:     latest.InStock,
			URL:         product.URL,
		})
	}

	writeJSON(w, http.StatusOK, h.arbitrage.AnalyzePrices(r.Context(), title, category, prices))
}

// DetectTrending handles GET /api/detect-trending.
func (h *Handlers) DetectTrending(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(r.URL.Query().Get("platform"))
	if !platform.Valid() {
		writeError(w, http.StatusBadRequest, "unknown platform "+platform.String())
		return
	}
	limit := queryInt(r, "limit", defaultTrendLimit)
	category := r.URL.Query().Get("category")

	var (
		tracked []models.Product
		err     error
	)
	if category != "" {
		tracked, err = h.products.ListByCategory(r.Context(), platform, category, limit*5)
	} else {
		tracked, err = h.products.ListByPlatform(r.Context(), platform, limit*5)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	batch := make([]intelligence.ProductWithMetrics, 0, len(tracked))
	for _, p := range tracked {
		history, err := h.metricsDB.History(r.Context(), p.ID, trendWindowDays)
		if err != nil {
			log.Error().Err(err).Str("product_id", p.ID.String()).Msg("history load failed")
			continue
		}
		batch = append(batch, intelligence.ProductWithMetrics{Product: p, Metrics: history})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"platform": platform,
		"category": category,
		"trending": h.intel.TrendingProducts(batch, limit),
	})
}

type analyzeBrandRequest struct {
	Platform models.Platform `json:"platform"`
	Brand    string          `json:"brand"`
}

// AnalyzeBrand handles POST /api/analyze-brand.
func (h *Handlers) AnalyzeBrand(w http.ResponseWriter, r *http.Request) {
	var req analyzeBrandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	brand, history, err := h.loadBrand(r, req.Platform, req.Brand)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown brand "+req.Brand)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load brand")
		return
	}
	products, err := h.brands.Products(r.Context(), brand.ID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load brand products")
		return
	}

	writeJSON(w, http.StatusOK, h.brandIQ.AnalyzeBrand(brand, history, products))
}

type compareBrandsRequest struct {
	Platform models.Platform `json:"platform"`
	Brands   []string        `json:"brands"`
}

// CompareBrands handles POST /api/compare-brands for 2 to 5 brands.
func (h *Handlers) CompareBrands(w http.ResponseWriter, r *http.Request) {
	var req compareBrandsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Brands) < 2 || len(req.Brands) > maxCompareBrands {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("compare-brands needs 2 to %d brands", maxCompareBrands))
		return
	}

	brands := make([]models.Brand, 0, len(req.Brands))
	histories := make([][]models.BrandMetric, 0, len(req.Brands))
	for _, slug := range req.Brands {
		brand, history, err := h.loadBrand(r, req.Platform, slug)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown brand "+slug)
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load brand "+slug)
			return
		}
		brands = append(brands, brand)
		histories = append(histories, history)
	}

	writeJSON(w, http.StatusOK, h.brandIQ.CompareBrands(brands, histories))
}

type subscribeRequest struct {
	UserID           string             `json:"user_id"`
	AlertType        models.AlertType   `json:"alert_type"`
	Platform         models.Platform    `json:"platform"`
	ProductID        *uuid.UUID         `json:"product_id,omitempty"`
	BrandID          *uuid.UUID         `json:"brand_id,omitempty"`
	Category         *string            `json:"category,omitempty"`
	ThresholdValue   *float64           `json:"threshold_value,omitempty"`
	ThresholdPercent *float64           `json:"threshold_percent,omitempty"`
	Channel          models.ChannelKind `json:"notification_channel"`
	WebhookURL       *string            `json:"webhook_url,omitempty"`
}

// SubscribeAlert handles POST /api/subscribe-alert.
func (h *Handlers) SubscribeAlert(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Channel == models.ChannelWebhook && (req.WebhookURL == nil || *req.WebhookURL == "") {
		writeError(w, http.StatusBadRequest, "webhook channel requires webhook_url")
		return
	}

	sub, err := h.alertsRepo.CreateSubscription(r.Context(), models.AlertSubscription{
		UserID:           req.UserID,
		AlertType:        req.AlertType,
		Platform:         req.Platform,
		ProductID:        req.ProductID,
		BrandID:          req.BrandID,
		Category:         req.Category,
		ThresholdValue:   req.ThresholdValue,
		ThresholdPercent: req.ThresholdPercent,
		Channel:          req.Channel,
		WebhookURL:       req.WebhookURL,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListAlerts handles GET /api/alerts.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	unacked := r.URL.Query().Get("unacked") == "true"
	limit := queryInt(r, "limit", 50)

	events, err := h.alertsEng.UserAlerts(r.Context(), userID, unacked, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": events, "count": len(events)})
}

type ackRequest struct {
	UserID string `json:"user_id"`
}

// AckAlert handles POST /api/alerts/{id}/ack.
func (h *Handlers) AckAlert(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	var req ackRequest
	if err := decodeBody(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.alertsEng.Acknowledge(r.Context(), eventID, req.UserID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// Unsubscribe handles DELETE /api/subscriptions/{id}.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	subID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.alertsRepo.DeactivateSubscription(r.Context(), subID, userID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deactivate subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

// PendingAlerts handles GET and DELETE /api/pending-alerts for the
// in-process queue channel.
func (h *Handlers) PendingAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if r.Method == http.MethodDelete {
		writeJSON(w, http.StatusOK, map[string]any{"cleared": h.queue.Clear(userID)})
		return
	}
	pending := h.queue.Pending(userID)
	writeJSON(w, http.StatusOK, map[string]any{"alerts": pending, "count": len(pending)})
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "no such endpoint "+r.URL.Path)
}

// resolveTarget maps a request to an extractor and canonical product ID,
// from either a raw URL or an explicit (platform, external_id) pair.
func (h *Handlers) resolveTarget(rawURL string, platform models.Platform, externalID string) (extractors.Extractor, string, error) {
	if rawURL != "" {
		return h.registry.Dispatch(rawURL)
	}
	if !platform.Valid() || externalID == "" {
		return nil, "", errors.New("either url or platform plus external_id is required")
	}
	ex, err := h.registry.ForPlatform(platform)
	if err != nil {
		return nil, "", err
	}
	return ex, externalID, nil
}

// ensureProduct returns the tracked product and its metric history,
// scraping the live page first when the product is unknown.
func (h *Handlers) ensureProduct(r *http.Request, ex extractors.Extractor, id string) (models.Product, []models.DailyMetric, error) {
	ctx := r.Context()
	product, err := h.products.GetByExternalID(ctx, ex.Platform(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		scraped, serr := ex.ScrapeProduct(ctx, h.fetcher, id)
		if serr != nil {
			return models.Product{}, nil, serr
		}
		if product, err = h.products.Upsert(ctx, scraped.Product()); err != nil {
			return models.Product{}, nil, err
		}
		today := h.now().UTC().Truncate(24 * time.Hour)
		if _, err = h.metricsDB.Insert(ctx, scraped.Metric(product.ID, today)); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
			return models.Product{}, nil, err
		}
	} else if err != nil {
		return models.Product{}, nil, err
	}

	history, err := h.metricsDB.History(ctx, product.ID, analysisWindowDays)
	if err != nil {
		return models.Product{}, nil, err
	}
	if len(history) == 0 {
		return models.Product{}, nil, errors.New("no metric history for product")
	}
	return product, history, nil
}

// loadBrand fetches a brand and its aggregate history ordered newest
// first, which is what the analyzer expects.
func (h *Handlers) loadBrand(r *http.Request, platform models.Platform, slug string) (models.Brand, []models.BrandMetric, error) {
	brand, err := h.brands.GetBySlug(r.Context(), platform, slug)
	if err != nil {
		return models.Brand{}, nil, err
	}
	history, err := h.brands.MetricHistory(r.Context(), brand.ID, analysisWindowDays)
	if err != nil {
		return models.Brand{}, nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return brand, history, nil
}

func (h *Handlers) writeScrapeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scrape.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "platform temporarily unavailable, try again later")
	case errors.Is(err, scrape.ErrBlockDetected), errors.Is(err, scrape.ErrExtraction), errors.Is(err, scrape.ErrFetchTimeout):
		writeError(w, http.StatusBadGateway, "scrape failed: "+err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
