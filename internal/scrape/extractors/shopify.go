package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// Shopify theme selectors for the HTML fallback. Themes vary wildly, so
// these are the Dawn-family defaults plus the generic hooks most themes keep.
const (
	shSelTitle    = ".product-title, h1.product__title, [data-product-title], h1"
	shSelPrice    = ".product-price, .price__regular .price-item, [data-product-price]"
	shSelCompare  = ".price__compare .price-item, s.price-item--regular"
	shSelVendor   = ".product-vendor, [data-product-vendor]"
	shSelImage    = ".product__media img, .product-single__photo img"
	shSelSoldOut  = ".sold-out, .product-form__submit[disabled]"
	shSelListLink = `a[href*="/products/"]`
)

var shopifyHandleRe = regexp.MustCompile(`/products/([^/?#]+)`)

// shopifyProductJSON mirrors the store's /products/{handle}.json payload.
type shopifyProductJSON struct {
	Product struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Vendor      string `json:"vendor"`
		ProductType string `json:"product_type"`
		Variants    []struct {
			Price          string `json:"price"`
			CompareAtPrice string `json:"compare_at_price"`
			Available      bool   `json:"available"`
		} `json:"variants"`
		Images []struct {
			Src string `json:"src"`
		} `json:"images"`
	} `json:"product"`
}

// Shopify scrapes any Shopify-powered store. Because the platform spans
// many domains, product IDs are "host/handle" pairs. The public JSON
// endpoint every store exposes is tried before the theme HTML.
type Shopify struct{}

// NewShopify returns the generic Shopify extractor.
func NewShopify() *Shopify { return &Shopify{} }

func (sh *Shopify) Platform() models.Platform { return models.PlatformShopify }

// Detect matches by URL shape rather than domain; the registry tries it
// last so marketplace domains never fall through to it.
func (sh *Shopify) Detect(rawURL string) bool {
	return shopifyHandleRe.MatchString(rawURL)
}

func (sh *Shopify) ExtractID(rawURL string) (string, error) {
	m := shopifyHandleRe.FindStringSubmatch(rawURL)
	if len(m) != 2 {
		return "", fmt.Errorf("%w: no product handle in %s", scrape.ErrInvalidURL, rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: no store host in %s", scrape.ErrInvalidURL, rawURL)
	}
	return u.Host + "/" + m[1], nil
}

func (sh *Shopify) ProductURL(id string) string {
	host, handle, ok := strings.Cut(id, "/")
	if !ok {
		return ""
	}
	return "https://" + host + "/products/" + handle
}

// DiscoveryURLs is empty: there is no central Shopify index to crawl, so
// stores enter tracking through explicit product URLs only.
func (sh *Shopify) DiscoveryURLs(int) []string { return nil }

func (sh *Shopify) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	productURL := sh.ProductURL(id)
	if productURL == "" {
		return nil, fmt.Errorf("%w: malformed shopify id %q", scrape.ErrInvalidURL, id)
	}

	if p, err := sh.scrapeJSON(ctx, f, productURL, id); err == nil {
		return p, nil
	} else {
		log.Debug().Err(err).Str("id", id).Msg("shopify json endpoint failed, falling back to html")
	}

	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, sh.Platform(), productURL, func(res *scrape.RenderResult) error {
		p, err := sh.parseHTML(res.HTML, productURL, id)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (sh *Shopify) scrapeJSON(ctx context.Context, f PageFetcher, productURL, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, sh.Platform(), productURL+".json", func(res *scrape.RenderResult) error {
		p, err := sh.parseJSON(res.HTML, productURL, id)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (sh *Shopify) parseJSON(html, productURL, id string) (*models.ScrapedProduct, error) {
	// The browser wraps raw JSON responses in a bare document; the payload
	// is the body text.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	raw := strings.TrimSpace(doc.Find("body").Text())

	var payload shopifyProductJSON
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: not a product payload: %v", scrape.ErrExtraction, err)
	}
	if payload.Product.Title == "" {
		return nil, fmt.Errorf("%w: empty product payload for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    sh.Platform(),
		ExternalID:  id,
		URL:         productURL,
		Title:       payload.Product.Title,
		Category:    defaultStr(payload.Product.ProductType, "General"),
		SellerCount: 1,
		InStock:     true,
	}
	if payload.Product.Vendor != "" {
		vendor := payload.Product.Vendor
		p.Brand = &vendor
	}
	if len(payload.Product.Images) > 0 {
		img := payload.Product.Images[0].Src
		p.ImageURL = &img
	}
	if len(payload.Product.Variants) > 0 {
		v := payload.Product.Variants[0]
		p.Price = parsePrice(v.Price)
		p.InStock = v.Available
		if compare := parsePrice(v.CompareAtPrice); compare > 0 {
			p.SetDiscount(compare)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (sh *Shopify) parseHTML(html, productURL, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, shSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    sh.Platform(),
		ExternalID:  id,
		URL:         productURL,
		Title:       title,
		Category:    "General",
		Price:       parsePrice(firstText(doc, shSelPrice)),
		SellerCount: 1,
		InStock:     doc.Find(shSelSoldOut).Length() == 0,
	}

	if compare := parsePrice(firstText(doc, shSelCompare)); compare > 0 {
		p.SetDiscount(compare)
	}
	if vendor := firstText(doc, shSelVendor); vendor != "" {
		p.Brand = &vendor
	}
	if img := firstAttr(doc, "src", shSelImage); img != "" {
		p.ImageURL = &img
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

// ScrapeList walks a store collection page for product links.
func (sh *Shopify) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, sh.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		base, err := url.Parse(listURL)
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrInvalidURL, err)
		}
		seen := make(map[string]bool)
		doc.Find(shSelListLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			ref, err := url.Parse(href)
			if err != nil {
				return true
			}
			abs := base.ResolveReference(ref).String()
			id, err := sh.ExtractID(abs)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        sh.ProductURL(id),
				Title:      strings.TrimSpace(s.Text()),
				Position:   len(hits) + 1,
			})
			return len(hits) < limit
		})
		if len(hits) == 0 {
			return fmt.Errorf("%w: no listings on %s", scrape.ErrExtraction, listURL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}
