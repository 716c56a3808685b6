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

// AliExpress retail and Alibaba B2B templates differ completely, so the
// extractor keeps a selector set per template and picks by URL.
const (
	alxSelTitle   = `h1[data-pl="product-title"], .product-title-text`
	alxSelPrice   = `[data-pl="product-price"], .product-price-value`
	alxSelRating  = ".overview-rating-average"
	alxSelReviews = `[data-pl="review-count"]`
	alxSelOrders  = `[data-pl="sold-count"]`
	alxSelStore   = ".store-name"
	alxSelImage   = ".magnifier-image img"

	albSelTitle    = ".module-pdp-title h1, .ma-title"
	albSelPrice    = ".module-pdp-price"
	albSelSupplier = ".company-name"
	albSelImage    = ".main-image img"
)

const (
	alibabaBase    = "https://www.alibaba.com"
	aliexpressBase = "https://www.aliexpress.com"
)

var alibabaIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/item/(\d+)\.html`),
	regexp.MustCompile(`/product-detail/[^/]+_(\d+)\.html`),
	regexp.MustCompile(`[?&]productId=(\d+)`),
}

var alibabaCategories = []struct{ Category, Path string }{
	{"Consumer Electronics", "/category/100003109"},
	{"Apparel", "/category/100003070"},
	{"Beauty", "/category/100003086"},
	{"Toys", "/category/100003108"},
	{"Sports", "/category/100003098"},
	{"Jewelry", "/category/100003100"},
}

// Alibaba parses alibaba.com and aliexpress.com product pages. On the
// retail side, order counts fold into the review figure as a demand proxy;
// the B2B side has neither ratings nor reviews.
type Alibaba struct{}

// NewAlibaba returns the alibaba.com / aliexpress.com extractor.
func NewAlibaba() *Alibaba { return &Alibaba{} }

func (al *Alibaba) Platform() models.Platform { return models.PlatformAlibabaCN }

func (al *Alibaba) Detect(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "alibaba.com") || strings.Contains(lower, "aliexpress.com")
}

func (al *Alibaba) ExtractID(rawURL string) (string, error) {
	for _, re := range alibabaIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: no product id in %s", scrape.ErrInvalidURL, rawURL)
}

func (al *Alibaba) ProductURL(id string) string {
	return aliexpressBase + "/item/" + id + ".html"
}

func (al *Alibaba) DiscoveryURLs(limit int) []string {
	urls := make([]string, 0, len(alibabaCategories))
	for _, c := range alibabaCategories {
		if len(urls) >= limit {
			break
		}
		urls = append(urls, aliexpressBase+c.Path)
	}
	return urls
}

func (al *Alibaba) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	return al.ScrapeProductURL(ctx, f, al.ProductURL(id), id)
}

// ScrapeProductURL fetches a specific product URL, which decides whether
// the retail or B2B template applies.
func (al *Alibaba) ScrapeProductURL(ctx context.Context, f PageFetcher, rawURL, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, al.Platform(), rawURL, func(res *scrape.RenderResult) error {
		var (
			p   *models.ScrapedProduct
			err error
		)
		if strings.Contains(strings.ToLower(rawURL), "aliexpress") {
			p, err = al.parseAliExpress(res.HTML, rawURL, id)
		} else {
			p, err = al.parseAlibaba(res.HTML, rawURL, id)
		}
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

func (al *Alibaba) parseAliExpress(html, rawURL, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, alxSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    al.Platform(),
		ExternalID:  id,
		URL:         rawURL,
		Title:       title,
		Category:    "General",
		Price:       parsePrice(firstText(doc, alxSelPrice)),
		Rating:      parseRating(firstText(doc, alxSelRating)),
		Reviews:     parseCount(firstText(doc, alxSelReviews)) + parseCount(firstText(doc, alxSelOrders)),
		SellerCount: 1,
		InStock:     true,
	}
	if store := firstText(doc, alxSelStore); store != "" {
		p.BuyboxOwner = &store
	}
	if img := firstAttr(doc, "src", alxSelImage); img != "" {
		p.ImageURL = &img
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (al *Alibaba) parseAlibaba(html, rawURL, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, albSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    al.Platform(),
		ExternalID:  id,
		URL:         rawURL,
		Title:       title,
		Category:    "General",
		Price:       parsePrice(firstText(doc, albSelPrice)),
		SellerCount: 1,
		InStock:     true,
	}
	if supplier := firstText(doc, albSelSupplier); supplier != "" {
		p.BuyboxOwner = &supplier
	}
	if img := firstAttr(doc, "src", albSelImage); img != "" {
		p.ImageURL = &img
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (al *Alibaba) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, al.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		seen := make(map[string]bool)
		doc.Find(`a[href*="/item/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if strings.HasPrefix(href, "//") {
				href = "https:" + href
			}
			id, err := al.ExtractID(href)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        al.ProductURL(id),
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
