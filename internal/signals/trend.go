package signals

import (
	"fmt"
	"math"
	"strings"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Trend component weights and normalization caps. The score lives on a
// -100..+100 scale; the sign carries the direction.
const (
	trendWeightReviews = 0.5
	trendWeightRank    = 0.3
	trendWeightPrice   = 0.2

	trendCapReviews = 2.0
	trendCapRank    = 1.0
	trendCapPrice   = 0.5

	trendDirectionBand = 20.0
)

// TrendSignals are the raw inputs behind a trend score.
type TrendSignals struct {
	ReviewVelocityGrowth float64 `json:"review_velocity_growth"`
	RankAcceleration     float64 `json:"rank_acceleration"`
	PriceGrowth          float64 `json:"price_growth"`
}

// TrendResult scores momentum between the older and newer half of the
// history window.
type TrendResult struct {
	Score          float64      `json:"score"`
	Direction      string       `json:"trend_direction"`
	Signals        TrendSignals `json:"signals"`
	Interpretation string       `json:"interpretation"`
	DataSufficient bool         `json:"data_sufficient"`
}

// Trend compares first-half and second-half velocity to detect momentum.
// Needs at least 14 days of history.
func Trend(metrics []models.DailyMetric) TrendResult {
	if len(metrics) < 14 {
		return TrendResult{
			Direction:      "Unknown",
			Interpretation: "Insufficient data (need 14+ days)",
		}
	}

	m := sortByDate(metrics)
	mid := len(m) / 2
	firstHalf, secondHalf := m[:mid], m[mid:]

	sig := TrendSignals{
		ReviewVelocityGrowth: velocityGrowth(firstHalf, secondHalf),
		RankAcceleration:     rankAcceleration(firstHalf, secondHalf),
		PriceGrowth:          priceChange(m[0], m[len(m)-1]),
	}

	score := (normalizeGrowth(sig.ReviewVelocityGrowth, trendCapReviews)*trendWeightReviews +
		normalizeGrowth(sig.RankAcceleration, trendCapRank)*trendWeightRank +
		normalizeGrowth(sig.PriceGrowth, trendCapPrice)*trendWeightPrice) * 100

	return TrendResult{
		Score:          round1(score),
		Direction:      trendDirection(score),
		Signals:        sig,
		Interpretation: interpretTrend(score, sig),
		DataSufficient: true,
	}
}

func velocityGrowth(firstHalf, secondHalf []models.DailyMetric) float64 {
	v1 := periodVelocity(firstHalf)
	v2 := periodVelocity(secondHalf)
	if v1 == 0 {
		if v2 > 0 {
			return 1.0
		}
		return 0
	}
	return (v2 - v1) / math.Abs(v1)
}

func periodVelocity(m []models.DailyMetric) float64 {
	if len(m) < 2 {
		return 0
	}
	days := daysBetween(m[0].Date, m[len(m)-1].Date)
	if days == 0 {
		return 0
	}
	return float64(m[len(m)-1].Reviews-m[0].Reviews) / float64(days)
}

func rankAcceleration(firstHalf, secondHalf []models.DailyMetric) float64 {
	r1 := rankImprovementRate(firstHalf)
	r2 := rankImprovementRate(secondHalf)
	if r1 == 0 {
		return r2
	}
	return (r2 - r1) / math.Abs(r1)
}

// rankImprovementRate is the daily fractional rank gain over a period,
// positive when rank is falling.
func rankImprovementRate(m []models.DailyMetric) float64 {
	if len(m) < 2 {
		return 0
	}
	var ranks []int
	for _, d := range m {
		if d.Rank != nil {
			ranks = append(ranks, *d.Rank)
		}
	}
	if len(ranks) < 2 || ranks[0] == 0 {
		return 0
	}
	days := daysBetween(m[0].Date, m[len(m)-1].Date)
	if days == 0 {
		return 0
	}
	return float64(ranks[0]-ranks[len(ranks)-1]) / (float64(ranks[0]) * float64(days))
}

func normalizeGrowth(value, limit float64) float64 {
	return math.Max(-1.0, math.Min(1.0, value/limit))
}

func trendDirection(score float64) string {
	switch {
	case score > trendDirectionBand:
		return "Accelerating"
	case score < -trendDirectionBand:
		return "Declining"
	default:
		return "Stable"
	}
}

func interpretTrend(score float64, sig TrendSignals) string {
	var desc string
	switch {
	case score > 50:
		desc = "Strong upward momentum"
	case score > 20:
		desc = "Positive trend detected"
	case score > -20:
		desc = "Relatively stable performance"
	case score > -50:
		desc = "Showing signs of decline"
	default:
		desc = "Significant downward trend"
	}

	var details []string
	if sig.ReviewVelocityGrowth > 0.2 {
		details = append(details, fmt.Sprintf("+%.0f%% review velocity", sig.ReviewVelocityGrowth*100))
	} else if sig.ReviewVelocityGrowth < -0.2 {
		details = append(details, fmt.Sprintf("%.0f%% review velocity", sig.ReviewVelocityGrowth*100))
	}
	if sig.PriceGrowth > 0.05 {
		details = append(details, fmt.Sprintf("+%.1f%% price", sig.PriceGrowth*100))
	} else if sig.PriceGrowth < -0.05 {
		details = append(details, fmt.Sprintf("%.1f%% price", sig.PriceGrowth*100))
	}

	if len(details) > 0 {
		return fmt.Sprintf("%s (%s).", desc, strings.Join(details, ", "))
	}
	return desc + "."
}
