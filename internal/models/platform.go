package models

// Platform identifies a supported e-commerce marketplace.
type Platform string

const (
	PlatformAmazonUS   Platform = "amazon_us"
	PlatformFlipkartIN Platform = "flipkart_in"
	PlatformWalmartUS  Platform = "walmart_us"
	PlatformAlibabaCN  Platform = "alibaba_cn"
	PlatformEBayUS     Platform = "ebay_us"
	PlatformShopify    Platform = "shopify"
)

// AllPlatforms lists every supported platform in a stable order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformAmazonUS,
		PlatformFlipkartIN,
		PlatformWalmartUS,
		PlatformAlibabaCN,
		PlatformEBayUS,
		PlatformShopify,
	}
}

// Valid reports whether p names a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformAmazonUS, PlatformFlipkartIN, PlatformWalmartUS,
		PlatformAlibabaCN, PlatformEBayUS, PlatformShopify:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

// Currency returns the native pricing currency for the platform.
// Conversion to USD happens only in the arbitrage analyzer.
func (p Platform) Currency() string {
	switch p {
	case PlatformFlipkartIN:
		return "INR"
	case PlatformAlibabaCN:
		return "USD" // Alibaba/AliExpress list export prices in USD
	default:
		return "USD"
	}
}

// Country returns the platform's home market country code.
func (p Platform) Country() string {
	switch p {
	case PlatformFlipkartIN:
		return "IN"
	case PlatformAlibabaCN:
		return "CN"
	default:
		return "US"
	}
}
