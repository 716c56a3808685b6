package extractors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// Amazon product page selectors, v2024-01 layout.
const (
	amzSelTitle         = "#productTitle"
	amzSelPrice         = "span.a-price span.a-offscreen"
	amzSelOriginalPrice = "span.a-price.a-text-price span.a-offscreen"
	amzSelRating        = "#acrPopover span.a-size-base"
	amzSelReviews       = "#acrCustomerReviewText"
	amzSelRankTable     = "#productDetails_detailBullets_sections1 tr"
	amzSelRankBullets   = "#detailBullets_feature_div li"
	amzSelCategory      = "#wayfinding-breadcrumbs_feature_div ul li:last-child a"
	amzSelBrand         = "#bylineInfo"
	amzSelImage         = "#landingImage"
	amzSelAvailability  = "#availability span"
	amzSelSellerCount   = "#olp-upd-new a"
	amzSelBuybox        = "#sellerProfileTriggerId"
	amzSelDelivery      = "#delivery-message"
)

const amazonBase = "https://www.amazon.com"

var amazonASINPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)asin=([A-Z0-9]{10})`),
}

// amazonBestsellers maps tracked categories to their bestseller paths.
var amazonBestsellers = []struct{ Category, Path string }{
	{"Electronics", "/gp/bestsellers/electronics"},
	{"Home & Kitchen", "/gp/bestsellers/home-garden"},
	{"Toys & Games", "/gp/bestsellers/toys-and-games"},
	{"Sports & Outdoors", "/gp/bestsellers/sporting-goods"},
	{"Beauty & Personal Care", "/gp/bestsellers/beauty"},
	{"Health & Household", "/gp/bestsellers/hpc"},
	{"Clothing", "/gp/bestsellers/fashion"},
	{"Books", "/gp/bestsellers/books"},
}

// Amazon parses amazon.com product and bestseller pages.
type Amazon struct{}

// NewAmazon returns the amazon.com extractor.
func NewAmazon() *Amazon { return &Amazon{} }

func (a *Amazon) Platform() models.Platform { return models.PlatformAmazonUS }

func (a *Amazon) Detect(rawURL string) bool {
	return strings.Contains(rawURL, "amazon.com") || strings.Contains(rawURL, "amzn.")
}

func (a *Amazon) ExtractID(rawURL string) (string, error) {
	for _, re := range amazonASINPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return strings.ToUpper(m[1]), nil
		}
	}
	return "", fmt.Errorf("%w: no ASIN in %s", scrape.ErrInvalidURL, rawURL)
}

func (a *Amazon) ProductURL(id string) string {
	return amazonBase + "/dp/" + id
}

func (a *Amazon) DiscoveryURLs(limit int) []string {
	urls := make([]string, 0, len(amazonBestsellers))
	for _, c := range amazonBestsellers {
		if len(urls) >= limit {
			break
		}
		urls = append(urls, amazonBase+c.Path)
	}
	return urls
}

func (a *Amazon) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, a.Platform(), a.ProductURL(id), func(res *scrape.RenderResult) error {
		p, err := a.parseProduct(res.HTML, id)
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

func (a *Amazon) parseProduct(html, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, amzSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    a.Platform(),
		ExternalID:  id,
		URL:         a.ProductURL(id),
		Title:       title,
		Category:    defaultStr(firstText(doc, amzSelCategory), "Unknown"),
		Price:       parsePrice(firstText(doc, amzSelPrice)),
		Rating:      parseRating(firstText(doc, amzSelRating)),
		Reviews:     parseCount(firstText(doc, amzSelReviews)),
		SellerCount: 1,
		InStock:     amazonInStock(firstText(doc, amzSelAvailability)),
	}

	if orig := parsePrice(firstText(doc, amzSelOriginalPrice)); orig > 0 {
		p.SetDiscount(orig)
	}
	if brand := amazonBrand(firstText(doc, amzSelBrand)); brand != "" {
		p.Brand = &brand
	}
	if img := firstAttr(doc, "src", amzSelImage); img != "" {
		p.ImageURL = &img
	}
	if rank := amazonRank(doc); rank > 0 {
		p.Rank = &rank
	}
	if n := amazonSellerCount(firstText(doc, amzSelSellerCount)); n > 1 {
		p.SellerCount = n
	}
	if seller := firstText(doc, amzSelBuybox); seller != "" {
		p.BuyboxOwner = &seller
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (a *Amazon) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, a.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		seen := make(map[string]bool)
		doc.Find(`a[href*="/dp/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			id, err := a.ExtractID(href)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        a.ProductURL(id),
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
	log.Debug().Int("count", len(hits)).Str("url", listURL).Msg("amazon listing parsed")
	return hits, nil
}

// amazonBrand cleans byline text like "Visit the Sony Store" or "Brand: Sony".
func amazonBrand(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Visit the ")
	text = strings.TrimSuffix(text, " Store")
	text = strings.TrimPrefix(text, "Brand: ")
	return strings.TrimSpace(text)
}

// amazonRank scans the detail table and bullet variants for the sales rank.
func amazonRank(doc *goquery.Document) int {
	rank := 0
	doc.Find(amzSelRankTable).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Best Sellers Rank") {
			rank = parseRank(s.Text())
			return false
		}
		return true
	})
	if rank > 0 {
		return rank
	}
	doc.Find(amzSelRankBullets).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Best Sellers Rank") {
			rank = parseRank(s.Text())
			return false
		}
		return true
	})
	return rank
}

func amazonInStock(availability string) bool {
	lower := strings.ToLower(availability)
	if strings.Contains(lower, "unavailable") || strings.Contains(lower, "out of stock") {
		return false
	}
	return true
}

func amazonSellerCount(text string) int {
	// "See All Buying Options" link text carries "(12 new offers)".
	if n := parseCount(text); n > 0 {
		return n
	}
	return 1
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
