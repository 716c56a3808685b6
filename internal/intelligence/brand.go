package intelligence

import (
	"fmt"
	"time"

	"github.com/commercesignal/commercesignal/internal/models"
)

// BrandHealth grades a brand's fundamentals on a 0-100 scale.
type BrandHealth struct {
	Score          float64  `json:"score"`
	Trend          string   `json:"trend"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	Interpretation string   `json:"interpretation"`
}

// BrandPosition describes where a brand sits in its category.
type BrandPosition struct {
	MarketSharePercent float64 `json:"market_share_percent"`
	PricePositioning   string  `json:"price_positioning"`
}

// BrandIntelligence is the complete report for one brand.
type BrandIntelligence struct {
	BrandID      string          `json:"brand_id"`
	Name         string          `json:"name"`
	Platform     models.Platform `json:"platform"`
	Category     string          `json:"category"`
	AnalysisDate time.Time       `json:"analysis_date"`

	ProductCount    int     `json:"product_count"`
	RevenueEstimate float64 `json:"total_revenue_estimate"`
	AvgPrice        float64 `json:"avg_product_price"`
	AvgRating       float64 `json:"avg_product_rating"`
	TotalReviews    int     `json:"total_reviews"`

	Health   BrandHealth   `json:"health"`
	Position BrandPosition `json:"competitive_position"`

	RevenueTrend30d float64 `json:"revenue_trend_30d"`
	ReviewVelocity  float64 `json:"review_velocity"`
	ProductGrowth   int     `json:"product_growth"`

	Verdict  string   `json:"verdict"`
	Insights []string `json:"insights"`
}

// BrandComparison ranks several brands in the same category.
type BrandComparison struct {
	Brands         []string  `json:"brands"`
	Category       string    `json:"category"`
	ComparisonDate time.Time `json:"comparison_date"`

	Revenues      []float64 `json:"revenues"`
	MarketShares  []float64 `json:"market_shares"`
	AvgRatings    []float64 `json:"avg_ratings"`
	ProductCounts []int     `json:"product_counts"`

	Leader         string   `json:"leader"`
	FastestGrowing string   `json:"fastest_growing"`
	BestRated      string   `json:"best_rated"`
	Insights       []string `json:"insights"`
}

// BrandAnalyzer scores brand portfolios. Metric slices are expected latest
// first, as the repository returns them.
type BrandAnalyzer struct {
	now func() time.Time
}

// NewBrandAnalyzer builds an analyzer using wall-clock time.
func NewBrandAnalyzer() *BrandAnalyzer {
	return &BrandAnalyzer{now: time.Now}
}

// NewBrandAnalyzerAt builds an analyzer with an injected clock.
func NewBrandAnalyzerAt(now func() time.Time) *BrandAnalyzer {
	return &BrandAnalyzer{now: now}
}

// AnalyzeBrand produces the full intelligence report for one brand.
func (a *BrandAnalyzer) AnalyzeBrand(brand models.Brand, metrics []models.BrandMetric, products []models.Product) BrandIntelligence {
	now := a.now().UTC()

	health := a.health(metrics)
	position := a.position(metrics)
	revenueTrend := revenueTrend(metrics)
	productGrowth := a.productGrowth(products, now)

	report := BrandIntelligence{
		BrandID:         brand.ID.String(),
		Name:            brand.Name,
		Platform:        brand.Platform,
		Category:        category(brand),
		AnalysisDate:    now,
		ProductCount:    len(products),
		Health:          health,
		Position:        position,
		RevenueTrend30d: revenueTrend,
		ReviewVelocity:  reviewVelocity(metrics),
		ProductGrowth:   productGrowth,
		Verdict:         brandVerdict(health, revenueTrend),
		Insights:        brandInsights(brand, health, position, revenueTrend, len(products)),
	}

	if len(metrics) > 0 {
		latest := metrics[0]
		report.RevenueEstimate = latest.RevenueEstimate
		report.AvgPrice = latest.AvgPrice
		report.AvgRating = latest.AvgRating
		report.TotalReviews = latest.TotalReviews
	}
	return report
}

// CompareBrands ranks brands by revenue, growth and rating. brandMetrics is
// parallel to brands, each latest first.
func (a *BrandAnalyzer) CompareBrands(brands []models.Brand, brandMetrics [][]models.BrandMetric) BrandComparison {
	cmp := BrandComparison{
		ComparisonDate: a.now().UTC(),
		Revenues:       make([]float64, len(brands)),
		MarketShares:   make([]float64, len(brands)),
		AvgRatings:     make([]float64, len(brands)),
		ProductCounts:  make([]int, len(brands)),
	}
	for _, b := range brands {
		cmp.Brands = append(cmp.Brands, b.Name)
	}
	if len(brands) > 0 {
		cmp.Category = category(brands[0])
	}

	growthRates := make([]float64, len(brands))
	for i, metrics := range brandMetrics {
		if i >= len(brands) {
			break
		}
		if len(metrics) > 0 {
			latest := metrics[0]
			cmp.Revenues[i] = latest.RevenueEstimate
			cmp.MarketShares[i] = latest.MarketSharePercent
			cmp.AvgRatings[i] = latest.AvgRating
			cmp.ProductCounts[i] = latest.ProductCount
		}
		growthRates[i] = revenueTrend(metrics)
	}

	if len(brands) > 0 {
		cmp.Leader = cmp.Brands[maxIndex(cmp.Revenues)]
		cmp.FastestGrowing = cmp.Brands[maxIndex(growthRates)]
		cmp.BestRated = cmp.Brands[maxIndex(cmp.AvgRatings)]
		cmp.Insights = comparisonInsights(cmp.Brands, cmp.Revenues, cmp.AvgRatings, growthRates)
	}
	return cmp
}

func (a *BrandAnalyzer) health(metrics []models.BrandMetric) BrandHealth {
	if len(metrics) == 0 {
		return BrandHealth{
			Score:          50,
			Trend:          "stable",
			Weaknesses:     []string{"Insufficient data"},
			Interpretation: "Not enough data for health analysis",
		}
	}

	latest := metrics[0]
	score := 50.0
	var strengths, weaknesses []string

	switch {
	case latest.AvgRating >= 4.5:
		score += 15
		strengths = append(strengths, "Excellent customer satisfaction")
	case latest.AvgRating >= 4.0:
		score += 8
	case latest.AvgRating < 3.5:
		score -= 10
		weaknesses = append(weaknesses, "Below average ratings")
	}

	if latest.TotalReviews > 10000 {
		score += 10
		strengths = append(strengths, "Strong review base")
	} else if latest.TotalReviews > 1000 {
		score += 5
	}

	if latest.ProductCount >= 50 {
		score += 10
		strengths = append(strengths, "Diverse product portfolio")
	} else if latest.ProductCount <= 5 {
		score -= 5
		weaknesses = append(weaknesses, "Limited product range")
	}

	trend := "stable"
	if len(metrics) >= 7 {
		oldRev := metrics[len(metrics)-1].RevenueEstimate
		newRev := latest.RevenueEstimate
		if oldRev > 0 {
			growth := (newRev - oldRev) / oldRev * 100
			switch {
			case growth > 20:
				score += 15
				strengths = append(strengths, "Strong revenue growth")
				trend = "improving"
			case growth > 0:
				score += 5
			default:
				score -= 10
				weaknesses = append(weaknesses, "Declining revenue")
				trend = "declining"
			}
		}
	}

	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	return BrandHealth{
		Score:          score,
		Trend:          trend,
		Strengths:      strengths,
		Weaknesses:     weaknesses,
		Interpretation: interpretHealth(score, trend),
	}
}

func interpretHealth(score float64, trend string) string {
	var base string
	switch {
	case score >= 80:
		base = "Excellent brand health with strong fundamentals"
	case score >= 60:
		base = "Good brand health with room for improvement"
	case score >= 40:
		base = "Moderate brand health requiring attention"
	default:
		base = "Concerning brand health requiring immediate action"
	}

	switch trend {
	case "improving":
		return base + ". Positive momentum suggests continued growth."
	case "declining":
		return base + ". Declining trend warrants investigation."
	}
	return base
}

func (a *BrandAnalyzer) position(metrics []models.BrandMetric) BrandPosition {
	if len(metrics) == 0 {
		return BrandPosition{PricePositioning: "mid-range"}
	}

	latest := metrics[0]
	positioning := "value"
	if latest.AvgPrice > 100 {
		positioning = "premium"
	} else if latest.AvgPrice > 30 {
		positioning = "mid-range"
	}

	return BrandPosition{
		MarketSharePercent: latest.MarketSharePercent,
		PricePositioning:   positioning,
	}
}

// revenueTrend is the percent change from the oldest to the newest metric.
func revenueTrend(metrics []models.BrandMetric) float64 {
	if len(metrics) < 2 {
		return 0
	}
	oldRev := metrics[len(metrics)-1].RevenueEstimate
	newRev := metrics[0].RevenueEstimate
	if oldRev <= 0 {
		return 0
	}
	return (newRev - oldRev) / oldRev * 100
}

func reviewVelocity(metrics []models.BrandMetric) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range metrics {
		sum += m.ReviewVelocity
	}
	return sum / float64(len(metrics))
}

func (a *BrandAnalyzer) productGrowth(products []models.Product, now time.Time) int {
	cutoff := now.AddDate(0, 0, -30)
	count := 0
	for _, p := range products {
		if !p.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

func brandVerdict(health BrandHealth, revenueTrend float64) string {
	switch {
	case health.Score >= 80 && revenueTrend > 10:
		return "High-performing brand with strong growth trajectory"
	case health.Score >= 60:
		return "Solid brand with stable performance"
	case health.Score >= 40:
		return "Brand showing mixed signals, monitor closely"
	default:
		return "Underperforming brand requiring strategic review"
	}
}

func brandInsights(brand models.Brand, health BrandHealth, position BrandPosition, revenueTrend float64, productCount int) []string {
	var out []string

	if health.Score >= 70 {
		out = append(out, fmt.Sprintf("%s maintains strong brand equity with consistent customer satisfaction", brand.Name))
	}

	if revenueTrend > 20 {
		out = append(out, fmt.Sprintf("Revenue growth of %.1f%% suggests successful product strategy", revenueTrend))
	} else if revenueTrend < -10 {
		out = append(out, fmt.Sprintf("Revenue decline of %.1f%% warrants competitive analysis", -revenueTrend))
	}

	if position.PricePositioning == "premium" {
		out = append(out, "Premium pricing strategy indicates strong brand differentiation")
	}

	if productCount > 20 {
		out = append(out, fmt.Sprintf("Portfolio of %d products provides good category coverage", productCount))
	}

	if len(health.Strengths) > 0 {
		out = append(out, "Key strength: "+health.Strengths[0])
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func comparisonInsights(names []string, revenues, ratings, growthRates []float64) []string {
	if len(names) < 2 {
		return nil
	}
	var out []string

	leader := maxIndex(revenues)
	out = append(out, fmt.Sprintf("%s leads with $%.0f estimated monthly revenue", names[leader], revenues[leader]))

	fastest := maxIndex(growthRates)
	if growthRates[fastest] > 30 {
		out = append(out, fmt.Sprintf("%s growing fastest at %.1f%%", names[fastest], growthRates[fastest]))
	}

	best := maxIndex(ratings)
	if ratings[best] > 4.5 {
		out = append(out, fmt.Sprintf("%s excels in customer satisfaction (%.1f stars)", names[best], ratings[best]))
	}
	return out
}

func maxIndex(values []float64) int {
	idx := 0
	for i, v := range values {
		if v > values[idx] {
			idx = i
		}
	}
	return idx
}

func category(b models.Brand) string {
	if b.Category != nil && *b.Category != "" {
		return *b.Category
	}
	return "Unknown"
}
