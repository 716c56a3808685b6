package intelligence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/signals"
)

// Overall score weights. Trend is normalized into [0,100]; competition and
// risk are inverted so lower is better.
const (
	overallWeightDemand      = 0.35
	overallWeightTrend       = 0.25
	overallWeightCompetition = 0.20
	overallWeightRisk        = 0.20
)

// ProductIntelligence is the complete report for one product.
type ProductIntelligence struct {
	ProductID    uuid.UUID       `json:"product_id"`
	ExternalID   string          `json:"external_id"`
	Title        string          `json:"title"`
	Category     string          `json:"category"`
	Platform     models.Platform `json:"platform"`
	AnalysisDate time.Time       `json:"analysis_date"`

	CurrentPrice   float64 `json:"current_price"`
	CurrentRank    *int    `json:"current_rank,omitempty"`
	CurrentReviews int     `json:"current_reviews"`
	CurrentRating  float64 `json:"current_rating"`

	Demand             signals.DemandResult            `json:"demand"`
	Competition        signals.CompetitionResult       `json:"competition"`
	Revenue            signals.RevenueEstimate         `json:"revenue"`
	Trend              signals.TrendResult             `json:"trend"`
	Risk               signals.RiskResult              `json:"risk"`
	DiscountPrediction signals.DiscountCyclePrediction `json:"discount_prediction"`

	OverallScore float64  `json:"overall_score"`
	Verdict      string   `json:"verdict"`
	Confidence   float64  `json:"confidence"`
	Insights     []string `json:"insights"`
}

// TrendingProduct is one ranked entry from a trending scan.
type TrendingProduct struct {
	ExternalID      string  `json:"external_id"`
	Title           string  `json:"title"`
	Rank            *int    `json:"rank,omitempty"`
	TrendScore      float64 `json:"trend_score"`
	ReviewVelocity  float64 `json:"review_velocity"`
	RankImprovement float64 `json:"rank_improvement"`
}

// ProductWithMetrics pairs a product with its metric history for batch
// operations.
type ProductWithMetrics struct {
	Product models.Product
	Metrics []models.DailyMetric
}

// Engine composes the signal calculators into product-level reports. It is
// stateless; the same inputs always produce the same report for a fixed
// analysis time.
type Engine struct {
	now func() time.Time
}

// NewEngine builds an Engine using wall-clock time.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt builds an Engine with an injected clock, for deterministic
// analysis dates.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// AnalyzeProduct runs all six calculators over the metric history and
// assembles the verdict, confidence and insights.
func (e *Engine) AnalyzeProduct(product models.Product, metrics []models.DailyMetric) ProductIntelligence {
	now := e.now().UTC()

	demand := signals.Demand(metrics)
	competition := signals.Competition(metrics)
	revenue := signals.Revenue(metrics, product.Platform, product.Category)
	trend := signals.Trend(metrics)
	risk := signals.Risk(metrics)
	discount := signals.DiscountCycle(metrics, now)

	report := ProductIntelligence{
		ProductID:          product.ID,
		ExternalID:         product.ExternalID,
		Title:              product.Title,
		Category:           product.Category,
		Platform:           product.Platform,
		AnalysisDate:       now,
		Demand:             demand,
		Competition:        competition,
		Revenue:            revenue,
		Trend:              trend,
		Risk:               risk,
		DiscountPrediction: discount,
		OverallScore:       overallScore(demand, competition, trend, risk),
		Verdict:            verdict(demand, competition, trend, risk, revenue),
		Confidence:         confidence(len(metrics), revenue),
		Insights:           insights(demand, competition, trend, risk, discount, now),
	}

	if latest := latestMetric(metrics); latest != nil {
		report.CurrentPrice = latest.Price
		report.CurrentRank = latest.Rank
		report.CurrentReviews = latest.Reviews
		report.CurrentRating = latest.Rating
	}
	return report
}

// TrendingProducts scores a batch by trend and returns the top entries.
func (e *Engine) TrendingProducts(batch []ProductWithMetrics, limit int) []TrendingProduct {
	scored := make([]TrendingProduct, 0, len(batch))

	for _, pm := range batch {
		trend := signals.Trend(pm.Metrics)
		demand := signals.Demand(pm.Metrics)

		entry := TrendingProduct{
			ExternalID:      pm.Product.ExternalID,
			Title:           pm.Product.Title,
			TrendScore:      trend.Score,
			ReviewVelocity:  demand.Signals.ReviewVelocity,
			RankImprovement: demand.Signals.RankImprovement,
		}
		if latest := latestMetric(pm.Metrics); latest != nil {
			entry.Rank = latest.Rank
		}
		scored = append(scored, entry)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].TrendScore > scored[j].TrendScore })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func latestMetric(metrics []models.DailyMetric) *models.DailyMetric {
	var latest *models.DailyMetric
	for i := range metrics {
		if latest == nil || metrics[i].Date.After(latest.Date) {
			latest = &metrics[i]
		}
	}
	return latest
}

func overallScore(demand signals.DemandResult, competition signals.CompetitionResult, trend signals.TrendResult, risk signals.RiskResult) float64 {
	normalizedTrend := (trend.Score + 100) / 2

	score := demand.Score*overallWeightDemand +
		normalizedTrend*overallWeightTrend +
		(100-competition.Score)*overallWeightCompetition +
		(100-risk.Score)*overallWeightRisk

	return round1(score)
}

func verdict(demand signals.DemandResult, competition signals.CompetitionResult, trend signals.TrendResult, risk signals.RiskResult, revenue signals.RevenueEstimate) string {
	var parts []string

	switch {
	case demand.Score >= 70:
		parts = append(parts, "High-demand product")
	case demand.Score >= 40:
		parts = append(parts, "Moderate demand")
	default:
		parts = append(parts, "Low demand")
	}

	switch {
	case competition.Score >= 70:
		parts = append(parts, "with intense competition")
	case competition.Score >= 40:
		parts = append(parts, "with moderate competition")
	default:
		parts = append(parts, "with low competition")
	}

	if trend.Score > 30 {
		parts = append(parts, "showing accelerating growth")
	} else if trend.Score < -30 {
		parts = append(parts, "showing declining trend")
	}

	if risk.Score >= 50 {
		parts = append(parts, "Elevated risk detected")
	}

	parts = append(parts, fmt.Sprintf("Est. $%.0f/mo revenue", revenue.MonthlyRevenue))

	if demand.Score >= 60 && competition.Score <= 50 && risk.Score <= 40 {
		parts = append(parts, "Good private label opportunity")
	} else if demand.Score >= 70 && competition.Score >= 70 {
		parts = append(parts, "Consider differentiation strategy")
	}

	return strings.Join(parts, ". ") + "."
}

func insights(demand signals.DemandResult, competition signals.CompetitionResult, trend signals.TrendResult, risk signals.RiskResult, discount signals.DiscountCyclePrediction, now time.Time) []string {
	var out []string

	if demand.Score >= 60 {
		out = append(out, "Strong demand signal: "+demand.Interpretation)
	} else if demand.Score <= 30 {
		out = append(out, "Low demand indicators - consider alternative products")
	}

	out = append(out, fmt.Sprintf("Competition level: %s barrier to entry", competition.BarrierToEntry))

	if trend.Direction == "Accelerating" {
		out = append(out, "Positive momentum: "+trend.Interpretation)
	} else if trend.Direction == "Declining" {
		out = append(out, "Market declining: "+trend.Interpretation)
	}

	for i, flag := range risk.Flags {
		if i == 2 {
			break
		}
		out = append(out, "Risk: "+flag.Description)
	}

	if discount.NextDiscount != nil {
		daysUntil := int(discount.NextDiscount.Sub(now).Hours() / 24)
		if daysUntil > 0 && daysUntil <= 14 {
			out = append(out, fmt.Sprintf("Discount expected in ~%d days", daysUntil))
		}
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func confidence(dataPoints int, revenue signals.RevenueEstimate) float64 {
	var dataConfidence float64
	switch {
	case dataPoints >= 60:
		dataConfidence = 0.9
	case dataPoints >= 30:
		dataConfidence = 0.7
	case dataPoints >= 14:
		dataConfidence = 0.5
	default:
		dataConfidence = 0.3
	}
	return round2((dataConfidence + revenue.Confidence) / 2)
}
