package signals

import (
	"fmt"
	"math"

	"github.com/commercesignal/commercesignal/internal/models"
)

// rankCalibration holds the power-law constants for rank-based estimation:
// daily sales = A * rank^-B.
type rankCalibration struct {
	A float64
	B float64
}

// velocityCalibration holds the review-velocity constants for marketplaces
// without a sales rank: daily sales = Base + velocity*Multiplier.
type velocityCalibration struct {
	Multiplier float64
	Base       float64
}

// Amazon BSR calibration per category. Approximate values, to be refit as
// observed sales data accumulates.
var amazonCalibration = map[string]rankCalibration{
	"Electronics":            {50000, 0.8},
	"Home & Kitchen":         {30000, 0.75},
	"Toys & Games":           {25000, 0.7},
	"Sports & Outdoors":      {20000, 0.7},
	"Beauty & Personal Care": {35000, 0.75},
	"Health & Household":     {30000, 0.72},
	"Clothing":               {40000, 0.78},
	"Books":                  {60000, 0.85},
}

var amazonDefaultCalibration = rankCalibration{25000, 0.72}

// Marketplaces without a sales rank (Flipkart, Walmart, eBay, Shopify) use
// review accumulation as a stand-in for sales volume, on the assumption
// that a few percent of buyers leave reviews.
var velocityCategoryCalibration = map[string]velocityCalibration{
	"Electronics":      {15.0, 5.0},
	"Mobiles":          {12.0, 8.0},
	"Fashion":          {20.0, 10.0},
	"Home & Furniture": {10.0, 3.0},
	"Appliances":       {8.0, 2.0},
	"Beauty":           {18.0, 6.0},
	"Toys & Baby":      {12.0, 4.0},
	"Sports":           {10.0, 3.0},
	"Books":            {25.0, 2.0},
	"Grocery":          {30.0, 15.0},
}

var velocityDefaultCalibration = velocityCalibration{15.0, 5.0}

// Daily sales clamps per methodology.
const (
	rankSalesFloor     = 0.1
	rankSalesCeil      = 10000.0
	velocitySalesFloor = 0.5
	velocitySalesCeil  = 5000.0
)

// RevenueEstimate is a monthly revenue projection with a confidence grade.
type RevenueEstimate struct {
	DailySales     float64 `json:"estimated_daily_sales"`
	MonthlyRevenue float64 `json:"estimated_monthly_revenue"`
	MonthlyUnits   int     `json:"estimated_monthly_units"`
	Confidence     float64 `json:"confidence"`
	Methodology    string  `json:"methodology"`
}

// RevenueFromRank estimates sales from the latest sales rank via a
// category-calibrated power law.
func RevenueFromRank(metrics []models.DailyMetric, category string) RevenueEstimate {
	if len(metrics) == 0 {
		return RevenueEstimate{Methodology: "No data available"}
	}

	m := sortByDate(metrics)
	latest := m[len(m)-1]
	if latest.Rank == nil || *latest.Rank == 0 {
		return RevenueEstimate{Methodology: "No rank data available"}
	}

	cal, ok := amazonCalibration[category]
	if !ok {
		cal = amazonDefaultCalibration
	}
	daily := rankDailySales(*latest.Rank, cal)

	return RevenueEstimate{
		DailySales:     round2(daily),
		MonthlyRevenue: round2(daily * 30 * latest.Price),
		MonthlyUnits:   int(daily * 30),
		Confidence:     rankConfidence(m, latest),
		Methodology: fmt.Sprintf("Power law model (a=%.0f, b=%.2f) for %s category. Based on BSR #%d.",
			cal.A, cal.B, category, *latest.Rank),
	}
}

// RevenueFromReviews estimates sales from review velocity for rankless
// marketplaces. Needs at least seven days of history.
func RevenueFromReviews(metrics []models.DailyMetric, category string) RevenueEstimate {
	if len(metrics) < 7 {
		return RevenueEstimate{
			Confidence:  0.2,
			Methodology: "Insufficient data (need 7+ days for velocity estimation)",
		}
	}

	m := sortByDate(metrics)
	first, last := m[0], m[len(m)-1]
	days := daysBetween(first.Date, last.Date)
	if days <= 0 {
		days = 1
	}
	velocity := float64(last.Reviews-first.Reviews) / float64(days)

	cal, ok := velocityCategoryCalibration[category]
	if !ok {
		cal = velocityDefaultCalibration
	}
	daily := cal.Base + velocity*cal.Multiplier
	daily = math.Max(velocitySalesFloor, math.Min(daily, velocitySalesCeil))

	confidence := 0.4
	switch {
	case len(m) >= 30:
		confidence += 0.15
	case len(m) >= 14:
		confidence += 0.1
	}
	switch {
	case last.Reviews > 1000:
		confidence += 0.1
	case last.Reviews > 100:
		confidence += 0.05
	}
	confidence = math.Min(confidence, 0.75)

	return RevenueEstimate{
		DailySales:     round2(daily),
		MonthlyRevenue: round2(daily * 30 * last.Price),
		MonthlyUnits:   int(daily * 30),
		Confidence:     confidence,
		Methodology: fmt.Sprintf("Review velocity estimate for %s: %.2f reviews/day -> %.1f sales/day",
			category, velocity, daily),
	}
}

// Revenue picks the methodology for the platform: rank power law where a
// sales rank exists, review velocity otherwise. Flipkart, Walmart, eBay
// and Shopify listings never carry a rank, so they all take the review
// velocity path.
func Revenue(metrics []models.DailyMetric, platform models.Platform, category string) RevenueEstimate {
	switch platform {
	case models.PlatformFlipkartIN, models.PlatformWalmartUS, models.PlatformEBayUS, models.PlatformShopify:
		return RevenueFromReviews(metrics, category)
	}
	return RevenueFromRank(metrics, category)
}

func rankDailySales(rank int, cal rankCalibration) float64 {
	if rank <= 0 {
		return 0
	}
	daily := cal.A * math.Pow(float64(rank), -cal.B)
	return math.Max(rankSalesFloor, math.Min(daily, rankSalesCeil))
}

func rankConfidence(m []models.DailyMetric, latest models.DailyMetric) float64 {
	confidence := 0.5

	switch {
	case len(m) >= 30:
		confidence += 0.2
	case len(m) >= 14:
		confidence += 0.1
	}

	if len(m) >= 7 && latest.Rank != nil {
		sum, n := 0.0, 0
		for _, d := range m {
			if d.Rank != nil {
				sum += float64(*d.Rank)
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			if avg > 0 {
				deviation := math.Abs(float64(*latest.Rank)-avg) / avg
				switch {
				case deviation < 0.1:
					confidence += 0.1
				case deviation < 0.25:
					confidence += 0.05
				}
			}
		}
	}

	switch {
	case latest.Reviews > 1000:
		confidence += 0.1
	case latest.Reviews > 100:
		confidence += 0.05
	}

	return math.Min(confidence, 0.95)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
