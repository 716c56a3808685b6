package intelligence

import (
	"context"
	"fmt"
	"sort"

	"github.com/commercesignal/commercesignal/internal/models"
)

// minMarginPercent is the floor below which a pair is not worth acting on.
const minMarginPercent = 15.0

// maxOpportunities bounds the report to the strongest pairs.
const maxOpportunities = 5

// importDutyRates estimates duty by product category; keys match scraped
// category roots.
var importDutyRates = map[string]float64{
	"Electronics": 0.05,
	"Clothing":    0.12,
	"Toys":        0.03,
	"Beauty":      0.08,
	"Books":       0.00,
}

const defaultDutyRate = 0.05

// DutyRate returns the import duty estimate for a category.
func DutyRate(category string) float64 {
	if rate, ok := importDutyRates[category]; ok {
		return rate
	}
	return defaultDutyRate
}

// RegionalPrice is one platform's price for the same product in one region.
// PriceUSD and PriceWithTaxUSD are filled by the analyzer.
type RegionalPrice struct {
	Platform        models.Platform `json:"platform"`
	Country         string          `json:"country"`
	Currency        Currency        `json:"currency"`
	PriceNative     float64         `json:"price_native"`
	PriceUSD        float64         `json:"price_usd"`
	PriceWithTaxUSD float64         `json:"price_with_tax_usd"`
	InStock         bool            `json:"in_stock"`
	URL             string          `json:"url,omitempty"`
}

// ArbitrageOpportunity is one (buy, sell) pair with its cost breakdown.
type ArbitrageOpportunity struct {
	BuyFrom            RegionalPrice `json:"buy_from"`
	SellTo             RegionalPrice `json:"sell_to"`
	PriceDifferenceUSD float64       `json:"price_difference_usd"`
	ShippingCostUSD    float64       `json:"shipping_cost_usd"`
	ImportTaxUSD       float64       `json:"import_tax_estimate_usd"`
	NetMarginUSD       float64       `json:"net_margin_usd"`
	MarginPercent      float64       `json:"margin_percent"`
	Profitable         bool          `json:"is_profitable"`
	Notes              string        `json:"notes"`
}

// PriceComparison is the full cross-region report for one product.
type PriceComparison struct {
	ProductTitle       string                 `json:"product_title"`
	RegionalPrices     []RegionalPrice        `json:"regional_prices"`
	LowestPrice        *RegionalPrice         `json:"lowest_price"`
	HighestPrice       *RegionalPrice         `json:"highest_price"`
	PriceSpreadPercent float64                `json:"price_spread_percent"`
	Opportunities      []ArbitrageOpportunity `json:"arbitrage_opportunities"`
	Recommendation     string                 `json:"recommendation"`
}

// ArbitrageAnalyzer finds profitable cross-border (buy, sell) pairs after
// FX, tax, shipping and duty.
type ArbitrageAnalyzer struct {
	converter *Converter
}

// NewArbitrageAnalyzer builds an analyzer on top of an FX converter.
func NewArbitrageAnalyzer(converter *Converter) *ArbitrageAnalyzer {
	return &ArbitrageAnalyzer{converter: converter}
}

// AnalyzePrices normalizes every regional price to USD, applies the
// destination tax table and returns the ranked opportunity report. Fewer
// than two regions yields an empty comparison, not an error.
func (a *ArbitrageAnalyzer) AnalyzePrices(ctx context.Context, title, category string, prices []RegionalPrice) PriceComparison {
	cmp := PriceComparison{ProductTitle: title, RegionalPrices: prices}

	if len(prices) < 2 {
		if len(prices) == 1 {
			a.normalize(ctx, &prices[0])
			cmp.LowestPrice = &prices[0]
			cmp.HighestPrice = &prices[0]
		}
		cmp.Recommendation = "Need prices from at least 2 regions for comparison"
		return cmp
	}

	for i := range prices {
		a.normalize(ctx, &prices[i])
	}

	sorted := make([]RegionalPrice, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PriceUSD < sorted[j].PriceUSD })

	lowest, highest := sorted[0], sorted[len(sorted)-1]
	cmp.LowestPrice = &lowest
	cmp.HighestPrice = &highest

	if lowest.PriceUSD > 0 {
		cmp.PriceSpreadPercent = round1((highest.PriceUSD - lowest.PriceUSD) / lowest.PriceUSD * 100)
	}

	cmp.Opportunities = a.findOpportunities(sorted, category)
	cmp.Recommendation = recommendation(cmp.Opportunities, cmp.PriceSpreadPercent)
	return cmp
}

func (a *ArbitrageAnalyzer) normalize(ctx context.Context, p *RegionalPrice) {
	p.PriceUSD = a.converter.Convert(ctx, p.PriceNative, p.Currency, CurrencyUSD)
	p.PriceWithTaxUSD = round2(p.PriceUSD * (1 + TaxRate(p.Country)))
}

func (a *ArbitrageAnalyzer) findOpportunities(sorted []RegionalPrice, category string) []ArbitrageOpportunity {
	var opportunities []ArbitrageOpportunity

	for _, buy := range sorted {
		if !buy.InStock {
			continue
		}
		for _, sell := range sorted {
			if buy.Country == sell.Country {
				continue
			}
			op := calculateOpportunity(buy, sell, category)
			if op.Profitable {
				opportunities = append(opportunities, op)
			}
		}
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].MarginPercent > opportunities[j].MarginPercent
	})
	if len(opportunities) > maxOpportunities {
		opportunities = opportunities[:maxOpportunities]
	}
	return opportunities
}

func calculateOpportunity(buy, sell RegionalPrice, category string) ArbitrageOpportunity {
	priceDiff := sell.PriceWithTaxUSD - buy.PriceUSD
	shipping := EstimateShipping(buy.Country, sell.Country)
	importTax := buy.PriceUSD * DutyRate(category)
	netMargin := priceDiff - shipping - importTax

	marginPercent := 0.0
	if buy.PriceUSD > 0 {
		marginPercent = netMargin / buy.PriceUSD * 100
	}

	return ArbitrageOpportunity{
		BuyFrom:            buy,
		SellTo:             sell,
		PriceDifferenceUSD: round2(priceDiff),
		ShippingCostUSD:    shipping,
		ImportTaxUSD:       round2(importTax),
		NetMarginUSD:       round2(netMargin),
		MarginPercent:      round1(marginPercent),
		Profitable:         marginPercent >= minMarginPercent,
		Notes:              opportunityNotes(buy, sell, marginPercent),
	}
}

func opportunityNotes(buy, sell RegionalPrice, marginPercent float64) string {
	var note string
	switch {
	case marginPercent >= 30:
		note = "High margin opportunity"
	case marginPercent >= 20:
		note = "Good margin"
	case marginPercent >= minMarginPercent:
		note = "Viable margin"
	default:
		note = "Low margin"
	}
	if buy.Platform != sell.Platform {
		note += fmt.Sprintf(" | Cross-platform: %s -> %s", buy.Platform, sell.Platform)
	}
	return note
}

func recommendation(opportunities []ArbitrageOpportunity, spreadPercent float64) string {
	if len(opportunities) == 0 {
		if spreadPercent < 10 {
			return "No significant price differences detected. Prices are well-aligned globally."
		}
		return "Price differences exist but shipping/import costs eliminate margins."
	}

	best := opportunities[0]
	return fmt.Sprintf(
		"Best opportunity: Buy from %s (%s) at $%.2f, sell in %s for %.1f%% margin ($%.2f net profit per unit)",
		best.BuyFrom.Country, best.BuyFrom.Platform, best.BuyFrom.PriceUSD,
		best.SellTo.Country, best.MarginPercent, best.NetMarginUSD)
}
