package extractors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// eBay product page selectors. Modern "x-" components with legacy id
// fallbacks for listings still on the old template.
const (
	ebSelTitle      = "h1.x-item-title__mainTitle span, #itemTitle"
	ebSelPrice      = ".x-price-primary span, #prcIsum"
	ebSelBids       = ".x-bid-count"
	ebSelBestOffer  = `[data-testid="x-best-offer"]`
	ebSelCondition  = ".x-item-condition-text span"
	ebSelSeller     = ".x-sellercard-atf__info a span"
	ebSelSold       = ".x-quantity__availability span"
	ebSelImage      = ".ux-image-carousel-item img"
	ebSelBreadcrumb = "nav.breadcrumbs li a span"
	ebSelOutOfStock = ".d-quantity__availability--out-of-stock"
	ebSelSearchLink = ".s-item__link"
)

const ebayBase = "https://www.ebay.com"

var ebayIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/itm/(\d+)`),
	regexp.MustCompile(`/itm/[^/]+/(\d+)`),
	regexp.MustCompile(`[?&]item=(\d+)`),
}

// ebaySearches are the trending queries crawled during discovery. The
// _sop=12 sort orders by best match with most sold first.
var ebaySearches = []string{
	"wireless earbuds",
	"smart watch",
	"phone case",
	"laptop stand",
	"led strip lights",
	"kitchen gadgets",
}

// EBay parses ebay.com listing and search pages. Listings have no product
// rating; the sold count stands in for reviews.
type EBay struct{}

// NewEBay returns the ebay.com extractor.
func NewEBay() *EBay { return &EBay{} }

func (e *EBay) Platform() models.Platform { return models.PlatformEBayUS }

func (e *EBay) Detect(rawURL string) bool {
	return strings.Contains(rawURL, "ebay.com")
}

func (e *EBay) ExtractID(rawURL string) (string, error) {
	for _, re := range ebayIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: no item number in %s", scrape.ErrInvalidURL, rawURL)
}

func (e *EBay) ProductURL(id string) string {
	return ebayBase + "/itm/" + id
}

func (e *EBay) DiscoveryURLs(limit int) []string {
	urls := make([]string, 0, len(ebaySearches))
	for _, q := range ebaySearches {
		if len(urls) >= limit {
			break
		}
		urls = append(urls, ebayBase+"/sch/i.html?_nkw="+url.QueryEscape(q)+"&_sop=12")
	}
	return urls
}

func (e *EBay) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, e.Platform(), e.ProductURL(id), func(res *scrape.RenderResult) error {
		p, err := e.parseProduct(res.HTML, id)
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

func (e *EBay) parseProduct(html, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, ebSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    e.Platform(),
		ExternalID:  id,
		URL:         e.ProductURL(id),
		Title:       title,
		Category:    defaultStr(ebayCategory(doc), "General"),
		Price:       parsePrice(firstText(doc, ebSelPrice)),
		Reviews:     parseCount(firstText(doc, ebSelSold)),
		SellerCount: 1,
		InStock:     doc.Find(ebSelOutOfStock).Length() == 0,
	}

	if img := firstAttr(doc, "src", ebSelImage); img != "" {
		p.ImageURL = &img
	}
	if seller := firstText(doc, ebSelSeller); seller != "" {
		p.BuyboxOwner = &seller
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

// ListingType classifies how an eBay item is sold.
func (e *EBay) ListingType(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "fixed_price"
	}
	if doc.Find(ebSelBids).Length() > 0 {
		return "auction"
	}
	if doc.Find(ebSelBestOffer).Length() > 0 {
		return "best_offer"
	}
	return "fixed_price"
}

func (e *EBay) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, e.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		seen := make(map[string]bool)
		doc.Find(ebSelSearchLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if !strings.Contains(href, "/itm/") {
				return true
			}
			id, err := e.ExtractID(href)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        e.ProductURL(id),
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

// ebayCategory takes the second breadcrumb, skipping the site root.
func ebayCategory(doc *goquery.Document) string {
	crumbs := doc.Find(ebSelBreadcrumb)
	if crumbs.Length() > 1 {
		return strings.TrimSpace(crumbs.Eq(1).Text())
	}
	return strings.TrimSpace(crumbs.First().Text())
}
