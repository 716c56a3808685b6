package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Currency is an ISO-4217 code the analyzer can convert.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyINR Currency = "INR"
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyJPY Currency = "JPY"
)

// fxAPIBase is a free endpoint returning {"rates": {CCY: rate}} keyed by base.
const fxAPIBase = "https://api.exchangerate-api.com/v4/latest"

const fxFetchTimeout = 5 * time.Second

// fxRedisTTL bounds staleness of rates shared across processes.
const fxRedisTTL = time.Hour

// fallbackRates is the static last-resort table, refreshed by hand.
var fallbackRates = map[[2]Currency]float64{
	{CurrencyUSD, CurrencyINR}: 83.00,
	{CurrencyINR, CurrencyUSD}: 0.012,
	{CurrencyUSD, CurrencyGBP}: 0.79,
	{CurrencyGBP, CurrencyUSD}: 1.27,
	{CurrencyUSD, CurrencyEUR}: 0.92,
	{CurrencyEUR, CurrencyUSD}: 1.09,
	{CurrencyUSD, CurrencyJPY}: 150.00,
	{CurrencyJPY, CurrencyUSD}: 0.0067,
}

// taxRates is estimated VAT/GST/sales tax per country.
var taxRates = map[string]float64{
	"US": 0.08,
	"IN": 0.18,
	"UK": 0.20,
	"DE": 0.19,
	"JP": 0.10,
}

const defaultTaxRate = 0.10

// shippingEstimates is per-unit international shipping in USD.
var shippingEstimates = map[[2]string]float64{
	{"US", "IN"}: 25.00,
	{"IN", "US"}: 30.00,
	{"US", "UK"}: 20.00,
	{"UK", "US"}: 20.00,
	{"US", "DE"}: 22.00,
	{"DE", "US"}: 22.00,
}

const defaultShipping = 35.00

// TaxRate returns the estimated tax rate for a country code.
func TaxRate(country string) float64 {
	if rate, ok := taxRates[strings.ToUpper(country)]; ok {
		return rate
	}
	return defaultTaxRate
}

// EstimateShipping returns the per-unit shipping estimate between two
// countries in USD.
func EstimateShipping(from, to string) float64 {
	if cost, ok := shippingEstimates[[2]string{strings.ToUpper(from), strings.ToUpper(to)}]; ok {
		return cost
	}
	return defaultShipping
}

// ConversionRate records where a rate came from, for audit logging.
type ConversionRate struct {
	From   Currency `json:"from"`
	To     Currency `json:"to"`
	Rate   float64  `json:"rate"`
	Source string   `json:"source"`
}

// Converter resolves exchange rates through tiers: in-memory cache, optional
// Redis, live API, then the static fallback table. Cache entries are
// write-once for the life of the process.
type Converter struct {
	client  *http.Client
	rdb     *redis.Client
	apiBase string

	mu    sync.RWMutex
	cache map[string]float64
}

// ConverterOption adjusts converter construction.
type ConverterOption func(*Converter)

// WithFXEndpoint points the live-rate tier at another base URL.
func WithFXEndpoint(base string) ConverterOption {
	return func(c *Converter) { c.apiBase = base }
}

// NewConverter builds a Converter. rdb may be nil to skip the Redis tier.
func NewConverter(rdb *redis.Client, opts ...ConverterOption) *Converter {
	c := &Converter{
		client:  &http.Client{Timeout: fxFetchTimeout},
		rdb:     rdb,
		apiBase: fxAPIBase,
		cache:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rate resolves the conversion rate between two currencies. It never fails
// for currencies in the fallback table; unknown pairs resolve through USD.
func (c *Converter) Rate(ctx context.Context, from, to Currency) ConversionRate {
	if from == to {
		return ConversionRate{From: from, To: to, Rate: 1.0, Source: "identity"}
	}

	key := string(from) + "_" + string(to)

	c.mu.RLock()
	rate, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return ConversionRate{From: from, To: to, Rate: rate, Source: "cache"}
	}

	if c.rdb != nil {
		if rate, err := c.rdb.Get(ctx, "fx:"+key).Float64(); err == nil {
			c.store(key, rate)
			return ConversionRate{From: from, To: to, Rate: rate, Source: "redis"}
		}
	}

	rate, err := c.fetchLive(ctx, from, to)
	if err == nil {
		c.store(key, rate)
		if c.rdb != nil {
			if err := c.rdb.Set(ctx, "fx:"+key, rate, fxRedisTTL).Err(); err != nil {
				log.Debug().Err(err).Str("pair", key).Msg("fx redis write failed")
			}
		}
		return ConversionRate{From: from, To: to, Rate: rate, Source: "api"}
	}
	log.Debug().Err(err).Str("pair", key).Msg("live fx lookup failed, using fallback")

	if rate, ok := fallbackRates[[2]Currency{from, to}]; ok {
		return ConversionRate{From: from, To: to, Rate: rate, Source: "fallback"}
	}

	// Cross through USD when no direct fallback exists.
	if from != CurrencyUSD && to != CurrencyUSD {
		toUSD, ok1 := fallbackRates[[2]Currency{from, CurrencyUSD}]
		fromUSD, ok2 := fallbackRates[[2]Currency{CurrencyUSD, to}]
		if ok1 && ok2 {
			return ConversionRate{From: from, To: to, Rate: toUSD * fromUSD, Source: "fallback_calculated"}
		}
	}

	return ConversionRate{From: from, To: to, Rate: 1.0, Source: "unknown"}
}

// Convert converts an amount between currencies, rounded to cents.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to Currency) float64 {
	r := c.Rate(ctx, from, to)
	return round2(amount * r.Rate)
}

func (c *Converter) store(key string, rate float64) {
	c.mu.Lock()
	c.cache[key] = rate
	c.mu.Unlock()
}

func (c *Converter) fetchLive(ctx context.Context, from, to Currency) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, fxFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/"+string(from), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build fx request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fx endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode fx response: %w", err)
	}

	rate, ok := payload.Rates[string(to)]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no rate for %s in fx response", to)
	}
	return rate, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
