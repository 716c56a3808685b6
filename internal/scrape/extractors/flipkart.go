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

// Flipkart product page selectors. Flipkart rotates hashed class names on
// redesigns, so each entry carries the current and previous generation.
const (
	fkSelTitle         = "span.VU-ZEz, h1._6EBuvT, span.B_NuCI"
	fkSelPrice         = "div.Nx9bqj.CxhGGd, div._30jeq3._16Jk6d"
	fkSelOriginalPrice = "div.yRaY8j, div._3I9_wc._2p6lqe"
	fkSelRating        = "div.XQDdHH, div._3LWZlK"
	fkSelReviews       = "span.Wphh3N span:last-child, span._2_R_DZ span"
	fkSelCategory      = "div._1MR4o5 a, div._3GIHBu a"
	fkSelBrand         = "span.mEh187, div._2WkVRV"
	fkSelImage         = "img._396cs4, img._2r_T1I"
	fkSelAvailability  = "div._16FRp0, div.Z8JjpR"
	fkSelSeller        = "div._1RLviB span, #sellerName span"
	fkSelListingLinks  = "a._1fQZEK, a.CGtC98, a.IRpwTa, a._2UzuFa"
)

const flipkartBase = "https://www.flipkart.com"

var flipkartFSNPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pid=([A-Z0-9]+)`),
	regexp.MustCompile(`(?i)itm([A-Za-z0-9]+)`),
}

// flipkartCategories maps tracked categories to their browse paths. The
// popularity sort stands in for a bestseller list, which Flipkart lacks.
var flipkartCategories = []struct{ Category, Path string }{
	{"Electronics", "/electronics/pr"},
	{"Mobiles", "/mobiles/pr"},
	{"Fashion", "/fashion/pr"},
	{"Home & Furniture", "/home-furniture/pr"},
	{"Appliances", "/appliances/pr"},
	{"Beauty", "/beauty-and-personal-care/pr"},
	{"Toys & Baby", "/toys-and-baby-products/pr"},
	{"Sports", "/sports-and-fitness/pr"},
	{"Books", "/books/pr"},
	{"Grocery", "/grocery/pr"},
}

// Flipkart parses flipkart.com product and category pages. Product IDs are
// FSNs (Flipkart Serial Numbers).
type Flipkart struct{}

// NewFlipkart returns the flipkart.com extractor.
func NewFlipkart() *Flipkart { return &Flipkart{} }

func (fk *Flipkart) Platform() models.Platform { return models.PlatformFlipkartIN }

func (fk *Flipkart) Detect(rawURL string) bool {
	return strings.Contains(rawURL, "flipkart.com")
}

func (fk *Flipkart) ExtractID(rawURL string) (string, error) {
	for _, re := range flipkartFSNPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) == 2 {
			return strings.ToUpper(m[1]), nil
		}
	}
	if i := strings.Index(rawURL, "/p/"); i != -1 {
		rest := rawURL[i+len("/p/"):]
		if j := strings.IndexAny(rest, "?/#"); j != -1 {
			rest = rest[:j]
		}
		if rest != "" {
			return strings.ToUpper(rest), nil
		}
	}
	return "", fmt.Errorf("%w: no FSN in %s", scrape.ErrInvalidURL, rawURL)
}

func (fk *Flipkart) ProductURL(id string) string {
	return flipkartBase + "/product/p/" + strings.ToLower(id) + "?pid=" + id
}

func (fk *Flipkart) DiscoveryURLs(limit int) []string {
	urls := make([]string, 0, len(flipkartCategories))
	for _, c := range flipkartCategories {
		if len(urls) >= limit {
			break
		}
		urls = append(urls, flipkartBase+c.Path+"?sort=popularity")
	}
	return urls
}

func (fk *Flipkart) ScrapeProduct(ctx context.Context, f PageFetcher, id string) (*models.ScrapedProduct, error) {
	var product *models.ScrapedProduct
	_, err := f.Fetch(ctx, fk.Platform(), fk.ProductURL(id), func(res *scrape.RenderResult) error {
		p, err := fk.parseProduct(res.HTML, id)
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

func (fk *Flipkart) parseProduct(html, id string) (*models.ScrapedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}

	title := firstText(doc, fkSelTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title for %s", scrape.ErrExtraction, id)
	}

	p := &models.ScrapedProduct{
		Platform:    fk.Platform(),
		ExternalID:  id,
		URL:         fk.ProductURL(id),
		Title:       title,
		Category:    defaultStr(flipkartCategory(doc), "Unknown"),
		Price:       parsePrice(firstText(doc, fkSelPrice)),
		Rating:      parseRating(firstText(doc, fkSelRating)),
		Reviews:     flipkartReviews(firstText(doc, fkSelReviews)),
		SellerCount: 1,
		InStock:     flipkartInStock(doc),
	}

	if orig := parsePrice(firstText(doc, fkSelOriginalPrice)); orig > 0 {
		p.SetDiscount(orig)
	}
	if brand := firstText(doc, fkSelBrand); brand != "" {
		p.Brand = &brand
	}
	if img := firstAttr(doc, "src", fkSelImage); img != "" {
		p.ImageURL = &img
	}
	if seller := firstText(doc, fkSelSeller); seller != "" {
		p.BuyboxOwner = &seller
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
	}
	return p, nil
}

func (fk *Flipkart) ScrapeList(ctx context.Context, f PageFetcher, listURL string, limit int) ([]ListingHit, error) {
	var hits []ListingHit
	_, err := f.Fetch(ctx, fk.Platform(), listURL, func(res *scrape.RenderResult) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			return fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
		}
		seen := make(map[string]bool)
		doc.Find(fkSelListingLinks).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if !strings.HasPrefix(href, "http") {
				href = flipkartBase + href
			}
			if !strings.Contains(href, "/p/") && !strings.Contains(href, "pid=") {
				return true
			}
			id, err := fk.ExtractID(href)
			if err != nil || seen[id] {
				return true
			}
			seen[id] = true
			hits = append(hits, ListingHit{
				ExternalID: id,
				URL:        href,
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

// flipkartCategory takes the second breadcrumb; the first is always "Home".
func flipkartCategory(doc *goquery.Document) string {
	crumbs := doc.Find(fkSelCategory)
	if crumbs.Length() > 1 {
		return strings.TrimSpace(crumbs.Eq(1).Text())
	}
	return strings.TrimSpace(crumbs.First().Text())
}

// flipkartReviews reads "1,234 Ratings & 567 Reviews" and keeps the ratings
// figure, which is the count the velocity model keys on.
func flipkartReviews(text string) int {
	return parseCount(text)
}

func flipkartInStock(doc *goquery.Document) bool {
	msg := strings.ToLower(firstText(doc, fkSelAvailability))
	if strings.Contains(msg, "sold out") || strings.Contains(msg, "currently unavailable") {
		return false
	}
	return true
}
