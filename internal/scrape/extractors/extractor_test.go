package extractors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape"
)

// stubFetcher serves canned HTML keyed by URL and runs validators the way
// the real fetcher does.
type stubFetcher struct {
	pages map[string]string
}

func (s *stubFetcher) Fetch(_ context.Context, _ models.Platform, url string, validate ...scrape.ValidateFunc) (*scrape.RenderResult, error) {
	html, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no canned page for %s", url)
	}
	res := &scrape.RenderResult{HTML: html, EffectiveURL: url}
	for _, v := range validate {
		if err := v(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func TestDispatchRoutesByDomain(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		url      string
		platform models.Platform
		id       string
	}{
		{"https://www.amazon.com/dp/B08N5WRWNW", models.PlatformAmazonUS, "B08N5WRWNW"},
		{"https://www.amazon.com/gp/product/b07xyz1234?th=1", models.PlatformAmazonUS, "B07XYZ1234"},
		{"https://www.flipkart.com/phone/p/itmabc?pid=MOBF9GAZWHZ4FHRY", models.PlatformFlipkartIN, "MOBF9GAZWHZ4FHRY"},
		{"https://www.walmart.com/ip/Desk-Lamp/573825409", models.PlatformWalmartUS, "573825409"},
		{"https://www.ebay.com/itm/234567890123", models.PlatformEBayUS, "234567890123"},
		{"https://www.aliexpress.com/item/1005006789.html", models.PlatformAlibabaCN, "1005006789"},
		{"https://www.alibaba.com/product-detail/Wireless-Earbuds_1600345.html", models.PlatformAlibabaCN, "1600345"},
		{"https://gymshark.com/products/vital-seamless-leggings", models.PlatformShopify, "gymshark.com/vital-seamless-leggings"},
	}
	for _, tc := range cases {
		e, id, err := r.Dispatch(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.platform, e.Platform(), tc.url)
		assert.Equal(t, tc.id, id, tc.url)
	}
}

func TestDispatchRejectsUnknownURL(t *testing.T) {
	r := NewRegistry()

	_, _, err := r.Dispatch("https://example.org/some/page")
	assert.ErrorIs(t, err, scrape.ErrUnknownPlatform)

	_, _, err = r.Dispatch("")
	assert.ErrorIs(t, err, scrape.ErrInvalidURL)
}

func TestDispatchMarketplaceBeatsShopifyShape(t *testing.T) {
	// Amazon also serves /products/-shaped vanity URLs; domain match must win.
	r := NewRegistry()
	e, _, err := r.Dispatch("https://www.amazon.com/dp/B000000000?ref=/products/x")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformAmazonUS, e.Platform())
}

func TestAmazonParseProduct(t *testing.T) {
	html := `<html><body>
		<span id="productTitle"> Sony WH-1000XM5 Wireless Headphones </span>
		<span class="a-price"><span class="a-offscreen">$348.00</span></span>
		<span class="a-price a-text-price"><span class="a-offscreen">$399.99</span></span>
		<div id="acrPopover"><span class="a-size-base">4.7</span></div>
		<span id="acrCustomerReviewText">12,345 ratings</span>
		<div id="wayfinding-breadcrumbs_feature_div"><ul><li><a>Electronics</a></li></ul></div>
		<a id="bylineInfo">Visit the Sony Store</a>
		<div id="availability"><span>In Stock</span></div>
		<div id="detailBullets_feature_div"><ul><li>Best Sellers Rank: #1,234 in Electronics</li></ul></div>
		<span id="sellerProfileTriggerId">Sony Official</span>
	</body></html>`

	a := NewAmazon()
	f := &stubFetcher{pages: map[string]string{a.ProductURL("B0ABCDEF12"): html}}

	p, err := a.ScrapeProduct(context.Background(), f, "B0ABCDEF12")
	require.NoError(t, err)

	assert.Equal(t, "Sony WH-1000XM5 Wireless Headphones", p.Title)
	assert.Equal(t, 348.00, p.Price)
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 399.99, *p.OriginalPrice)
	require.NotNil(t, p.DiscountPercent)
	assert.InDelta(t, 13.0, *p.DiscountPercent, 0.1)
	assert.Equal(t, 4.7, p.Rating)
	assert.Equal(t, 12345, p.Reviews)
	require.NotNil(t, p.Rank)
	assert.Equal(t, 1234, *p.Rank)
	require.NotNil(t, p.Brand)
	assert.Equal(t, "Sony", *p.Brand)
	assert.True(t, p.InStock)
	assert.Equal(t, "Electronics", p.Category)
}

func TestAmazonParseMissingTitleFails(t *testing.T) {
	a := NewAmazon()
	f := &stubFetcher{pages: map[string]string{a.ProductURL("B0ABCDEF12"): "<html><body></body></html>"}}

	_, err := a.ScrapeProduct(context.Background(), f, "B0ABCDEF12")
	assert.ErrorIs(t, err, scrape.ErrExtraction)
}

func TestAmazonParseMissingPriceFails(t *testing.T) {
	// A title with no price element must reject the whole record rather
	// than emit a zero-price snapshot.
	html := `<html><body>
		<span id="productTitle">Sony WH-1000XM5 Wireless Headphones</span>
		<div id="availability"><span>In Stock</span></div>
	</body></html>`

	a := NewAmazon()
	f := &stubFetcher{pages: map[string]string{a.ProductURL("B0ABCDEF12"): html}}

	_, err := a.ScrapeProduct(context.Background(), f, "B0ABCDEF12")
	assert.ErrorIs(t, err, scrape.ErrExtraction)
}

func TestFlipkartParseMissingPriceFails(t *testing.T) {
	fk := NewFlipkart()
	html := `<html><body><span class="VU-ZEz">Noise Buds VS104</span></body></html>`
	f := &stubFetcher{pages: map[string]string{fk.ProductURL("MOBF9GAZWHZ4FHRY"): html}}

	_, err := fk.ScrapeProduct(context.Background(), f, "MOBF9GAZWHZ4FHRY")
	assert.ErrorIs(t, err, scrape.ErrExtraction)
}

func TestFlipkartParseProduct(t *testing.T) {
	html := `<html><body>
		<span class="VU-ZEz">boAt Airdopes 141 TWS Earbuds</span>
		<div class="Nx9bqj CxhGGd">₹1,299</div>
		<div class="yRaY8j">₹4,490</div>
		<div class="XQDdHH">4.1</div>
		<span class="Wphh3N"><span></span><span>2,17,315 Ratings</span></span>
		<div class="_1MR4o5"><a>Home</a><a>Electronics</a></div>
		<span class="mEh187">boAt</span>
		<div class="_1RLviB"><span>RetailNet</span></div>
	</body></html>`

	fk := NewFlipkart()
	f := &stubFetcher{pages: map[string]string{fk.ProductURL("ACCF9GAZ"): html}}

	p, err := fk.ScrapeProduct(context.Background(), f, "ACCF9GAZ")
	require.NoError(t, err)

	assert.Equal(t, "boAt Airdopes 141 TWS Earbuds", p.Title)
	assert.Equal(t, 1299.0, p.Price, "lakh-grouped rupee amounts must parse")
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 4490.0, *p.OriginalPrice)
	assert.Equal(t, 217315, p.Reviews)
	assert.Equal(t, 4.1, p.Rating)
	assert.Equal(t, "Electronics", p.Category)
	assert.True(t, p.InStock)
}

func TestWalmartParseProduct(t *testing.T) {
	html := `<html><body>
		<h1 itemprop="name">Mainstays Desk Lamp</h1>
		<span itemprop="price">$12.97</span>
		<span itemprop="ratingValue">4.3</span>
		<span itemprop="reviewCount">856</span>
		<span itemprop="brand">Mainstays</span>
		<div data-testid="breadcrumb"><ul><li><a>Home</a></li><li><a>Lighting</a></li></ul></div>
		<button data-testid="add-to-cart-btn">Add to cart</button>
		<div data-testid="sold-shipped-by"><span>Sold and shipped by Walmart</span></div>
	</body></html>`

	w := NewWalmart()
	f := &stubFetcher{pages: map[string]string{w.ProductURL("573825409"): html}}

	p, err := w.ScrapeProduct(context.Background(), f, "573825409")
	require.NoError(t, err)

	assert.Equal(t, "Mainstays Desk Lamp", p.Title)
	assert.Equal(t, 12.97, p.Price)
	assert.Equal(t, 4.3, p.Rating)
	assert.Equal(t, 856, p.Reviews)
	assert.True(t, p.InStock)
	require.NotNil(t, p.BuyboxOwner)
	assert.Equal(t, "Walmart", *p.BuyboxOwner)
	assert.Equal(t, "Lighting", p.Category)
}

func TestEBayParseProduct(t *testing.T) {
	html := `<html><body>
		<h1 class="x-item-title__mainTitle"><span>Vintage Camera Lens 50mm</span></h1>
		<div class="x-price-primary"><span>US $89.99</span></div>
		<div class="x-quantity__availability"><span>23 sold</span></div>
		<div class="x-sellercard-atf__info"><a><span>photo_gear_shop</span></a></div>
		<nav class="breadcrumbs"><ul><li><a><span>eBay</span></a></li><li><a><span>Cameras</span></a></li></ul></nav>
	</body></html>`

	e := NewEBay()
	f := &stubFetcher{pages: map[string]string{e.ProductURL("234567890123"): html}}

	p, err := e.ScrapeProduct(context.Background(), f, "234567890123")
	require.NoError(t, err)

	assert.Equal(t, "Vintage Camera Lens 50mm", p.Title)
	assert.Equal(t, 89.99, p.Price)
	assert.Equal(t, 23, p.Reviews, "sold count stands in for reviews")
	assert.Equal(t, 0.0, p.Rating)
	assert.Equal(t, "Cameras", p.Category)
	assert.True(t, p.InStock)
}

func TestShopifyParseJSONEndpoint(t *testing.T) {
	payload := `{"product":{"id":7654321,"title":"Vital Seamless Leggings","vendor":"Gymshark",` +
		`"product_type":"Leggings","variants":[{"price":"50.00","compare_at_price":"64.00","available":true}],` +
		`"images":[{"src":"https://cdn.shopify.com/x.jpg"}]}}`
	sh := NewShopify()
	id := "gymshark.com/vital-seamless-leggings"
	f := &stubFetcher{pages: map[string]string{
		sh.ProductURL(id) + ".json": "<html><body>" + payload + "</body></html>",
	}}

	p, err := sh.ScrapeProduct(context.Background(), f, id)
	require.NoError(t, err)

	assert.Equal(t, "Vital Seamless Leggings", p.Title)
	assert.Equal(t, 50.0, p.Price)
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 64.0, *p.OriginalPrice)
	require.NotNil(t, p.Brand)
	assert.Equal(t, "Gymshark", *p.Brand)
	assert.Equal(t, "Leggings", p.Category)
	assert.True(t, p.InStock)
}

func TestShopifyFallsBackToHTML(t *testing.T) {
	sh := NewShopify()
	id := "store.example.com/ceramic-mug"
	f := &stubFetcher{pages: map[string]string{
		sh.ProductURL(id) + ".json": "<html><body>Not Found</body></html>",
		sh.ProductURL(id): `<html><body>
			<h1 class="product__title">Ceramic Mug</h1>
			<div class="price__regular"><span class="price-item">$18.00</span></div>
			<div class="product-vendor">Example Pottery</div>
		</body></html>`,
	}}

	p, err := sh.ScrapeProduct(context.Background(), f, id)
	require.NoError(t, err)
	assert.Equal(t, "Ceramic Mug", p.Title)
	assert.Equal(t, 18.0, p.Price)
}

func TestAmazonScrapeListDeduplicates(t *testing.T) {
	html := `<html><body>
		<a href="/dp/B000000001">First Product</a>
		<a href="/dp/B000000001?ref=dup">First Product again</a>
		<a href="/dp/B000000002">Second Product</a>
		<a href="/dp/B000000003">Third Product</a>
	</body></html>`

	a := NewAmazon()
	listURL := amazonBase + "/gp/bestsellers/electronics"
	f := &stubFetcher{pages: map[string]string{listURL: html}}

	hits, err := a.ScrapeList(context.Background(), f, listURL, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "B000000001", hits[0].ExternalID)
	assert.Equal(t, "B000000002", hits[1].ExternalID)
	assert.Equal(t, 1, hits[0].Position)
	assert.Equal(t, amazonBase+"/dp/B000000001", hits[0].URL)
}

func TestDiscoveryURLsHonorLimit(t *testing.T) {
	r := NewRegistry()
	for _, p := range models.AllPlatforms() {
		e, err := r.ForPlatform(p)
		require.NoError(t, err)
		urls := e.DiscoveryURLs(3)
		assert.LessOrEqual(t, len(urls), 3, string(p))
	}
}
