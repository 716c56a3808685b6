// Package extractors holds the per-platform page parsers. Each extractor
// knows how to recognise its platform's URLs, pull canonical product IDs
// out of them, and turn rendered product or listing pages into normalized
// records. Selector sets are versioned constants so drift is a one-line
// diff when a storefront ships a redesign.
package extractors

import (
	"context"
	"fmt"
	"strings"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// PageFetcher is the slice of the scrape substrate extractors depend on.
// Production passes *scrape.Fetcher; tests pass a stub returning canned
// HTML.
type PageFetcher interface {
	Fetch(ctx context.Context, platform models.Platform, url string, validate ...scrape.ValidateFunc) (*scrape.RenderResult, error)
}

// Extractor is the contract every platform parser implements.
type Extractor interface {
	// Platform identifies which marketplace this extractor serves.
	Platform() models.Platform

	// Detect reports whether rawURL belongs to this platform.
	Detect(rawURL string) bool

	// ExtractID pulls the canonical product identifier (ASIN, FSN, item
	// number, handle) out of a product URL.
	ExtractID(rawURL string) (string, error)

	// ProductURL builds the canonical product page URL for an ID.
	ProductURL(id string) string

	// ScrapeProduct fetches and parses a single product page.
	ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error)

	// DiscoveryURLs lists the bestseller or trending pages to crawl for
	// new products, capped at limit entries.
	DiscoveryURLs(limit int) []string

	// ScrapeList fetches a listing page and returns the product
	// references on it in page order, capped at limit. Hits carry
	// identity only; callers resolve each hit through ScrapeProduct
	// before treating it as a real snapshot.
	ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error)
}

// ListingHit is one product reference found on a listing page. Listing
// tiles carry no trustworthy price or review data, so a hit is never
// persisted directly.
type ListingHit struct {
	ExternalID string
	URL        string
	Title      string
	Position   int
}

// Registry maps platforms to extractors and dispatches raw URLs.
type Registry struct {
	byPlatform map[models.Platform]Extractor
	ordered    []Extractor
}

// NewRegistry builds a registry over the default extractor set.
func NewRegistry() *Registry {
	r := &Registry{byPlatform: make(map[models.Platform]Extractor)}
	for _, e := range []Extractor{
		NewAmazon(),
		NewFlipkart(),
		NewWalmart(),
		NewEBay(),
		NewAlibaba(),
		NewShopify(),
	} {
		r.byPlatform[e.Platform()] = e
		r.ordered = append(r.ordered, e)
	}
	return r
}

// ForPlatform returns the extractor for a known platform.
func (r *Registry) ForPlatform(p models.Platform) (Extractor, error) {
	e, ok := r.byPlatform[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scrape.ErrUnknownPlatform, p)
	}
	return e, nil
}

// Dispatch resolves a raw product URL to its extractor and canonical ID.
// Shopify matches by URL shape rather than domain, so it is tried last.
func (r *Registry) Dispatch(rawURL string) (Extractor, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, "", scrape.ErrInvalidURL
	}
	for _, e := range r.ordered {
		if !e.Detect(rawURL) {
			continue
		}
		id, err := e.ExtractID(rawURL)
		if err != nil {
			return nil, "", err
		}
		return e, id, nil
	}
	return nil, "", fmt.Errorf("%w: no extractor matches %s", scrape.ErrUnknownPlatform, rawURL)
}
