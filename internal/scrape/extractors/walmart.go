package extractors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// Walmart product page selectors. The itemprop microdata survives layout
// refreshes better than the data-testid hooks, so it is tried first.
const (
	wmSelTitle      = `h1[itemprop="name"], [data-testid="product-title"]`
	wmSelPrice      = `[itemprop="price"], [data-testid="price-wrap"] span`
	wmSelRating     = `[itemprop="ratingValue"]`
	wmSelReviews    = `[itemprop="reviewCount"]`
	wmSelBrand      = `[itemprop="brand"]`
	wmSelImage      = `[data-testid="hero-image"] img`
	wmSelBreadcrumb = `[data-testid="breadcrumb"] li a`
	wmSelAddToCart  = `[data-testid="add-to-cart-btn"]`
	wmSelSeller     = `[data-testid="sold-shipped-by"] span`
	wmSelTileLinks  = `[data-testid="product-tile"] a`
)

const walmartBase = "https://www.walmart.com"

var walmartIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/ip/[^/]+/(\d+)`),
	regexp.MustCompile(`/ip/(\d+)`),
}

var walmartBrowse = []struct{ Category, Path string }{
	{"Electronics", "/browse/electronics/3944"},
	{"Home", "/browse/home/4044"},
	{"Toys", "/browse/toys/4171"},
	{"Clothing", "/browse/clothing/5438"},
	{"Sports & Outdoors", "/browse/sports-outdoors/4125"},
	{"Beauty", "/browse/beauty/1085666"},
	{"Grocery", "/browse/food/976759"},
	{"Baby", "/browse/baby/5427"},
	{"Pets", "/browse/pets/5440"},
	{"Auto", "/browse/auto-tires/91083"},
}

// Walmart parses walmart.com product and browse pages.
type Walmart struct{}

// NewWalmart returns the walmart.com extractor.
func NewWalmart() *Walmart { return &Walmart{} }

func (w *Walmart) Platform() models.Platform { return models.PlatformWalmartUS }

func (w *Walmart) Detect(rawURL string) bool {
	return strings.Contains(rawURL, "walmart.com")
}

func (w *Walmart) ExtractID(rawURL string) (string, error) {
	for _, re := range walmartIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: no item id in %s", scrape.ErrInvalidURL, rawURL)
}

func (w *Walmart) ProductURL(id string) string {
	return walmartBase + "/ip/" + id
}

func (w *Walmart) DiscoveryURLs(limit int) []string {
	urls := make([]string, 0, len(walmartBrowse))
	for _, c := range walmartBrowse {
		if len(urls) >= limit {
			break
		}
		urls = append(urls, walmartBase+c.Path+"?sort=best_seller")
	}
	return urls
}

func (w *Walmart) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, w.Platform(), w.ProductURL(id), func(res *scrape.RenderResult) error {
		p, err := w.parseProduct(res.HTML, id)
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

func (w *Walmart) parseProduct(html, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, wmSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    w.Platform(),
		ExternalID:  id,
		URL:         w.ProductURL(id),
		Title:       title,
		Category:    defaultStr(walmartCategory(doc), "General"),
		Price:       parsePrice(firstText(doc, wmSelPrice)),
		Rating:      parseRating(firstText(doc, wmSelRating)),
		Reviews:     parseCount(firstText(doc, wmSelReviews)),
		SellerCount: 1,
		InStock:     doc.Find(wmSelAddToCart).Length() > 0,
	}

	if brand := firstText(doc, wmSelBrand); brand != "" {
		p.Brand = &brand
	}
	if img := firstAttr(doc, "src", wmSelImage); img != "" {
		p.ImageURL = &img
	}
	if seller := firstText(doc, wmSelSeller); seller != "" {
		owner := "Marketplace"
		if strings.Contains(seller, "Walmart") {
			owner = "Walmart"
		}
		p.BuyboxOwner = &owner
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (w *Walmart) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, w.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		seen := make(map[string]bool)
		doc.Find(wmSelTileLinks).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if !strings.Contains(href, "/ip/") {
				return true
			}
			if strings.HasPrefix(href, "/") {
				href = walmartBase + href
			}
			id, err := w.ExtractID(href)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        w.ProductURL(id),
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

// walmartCategory takes the second breadcrumb link, skipping "Home".
func walmartCategory(doc *goquery.Document) string {
	crumbs := doc.Find(wmSelBreadcrumb)
	if crumbs.Length() > 1 {
		return strings.TrimSpace(crumbs.Eq(1).Text())
	}
	return strings.TrimSpace(crumbs.First().Text())
}
