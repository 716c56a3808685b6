// Package signals holds the pure per-product calculators. Every calculator
// takes a date-ordered slice of daily metrics and returns a result struct;
// thin history yields a neutral result with DataSufficient=false, never an
// error. Nothing in this package touches the network or the database.
package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Demand normalization caps, tuned to what exceptional products show.
const (
	maxReviewVelocity = 50.0 // reviews per day
	maxRankGain       = 0.5  // fractional rank improvement
	maxStockoutFreq   = 0.3  // fraction of days out of stock
	maxPriceIncrease  = 0.2  // fractional price increase
)

// Demand component weights.
const (
	demandWeightReviews  = 0.4
	demandWeightRank     = 0.3
	demandWeightStockout = 0.2
	demandWeightPrice    = 0.1
)

// DemandSignals are the raw inputs behind a demand score.
type DemandSignals struct {
	ReviewVelocity  float64 `json:"review_velocity"`
	RankImprovement float64 `json:"rank_improvement"`
	StockoutFreq    float64 `json:"stockout_frequency"`
	PriceIncrease   float64 `json:"price_increase"`
}

// DemandResult scores buyer demand on a 0-100 scale.
type DemandResult struct {
	Score          float64       `json:"score"`
	Signals        DemandSignals `json:"signals"`
	Interpretation string        `json:"interpretation"`
	DataSufficient bool          `json:"data_sufficient"`
}

// Demand scores demand from review velocity, rank movement, stockouts and
// price pressure. Needs at least two data points.
func Demand(metrics []models.DailyMetric) DemandResult {
	if len(metrics) < 2 {
		return DemandResult{Interpretation: "Insufficient data for demand calculation"}
	}

	m := sortByDate(metrics)
	oldest, newest := m[0], m[len(m)-1]

	sig := DemandSignals{
		ReviewVelocity:  reviewVelocity(oldest, newest),
		RankImprovement: rankImprovement(oldest, newest),
		StockoutFreq:    stockoutFrequency(m),
		PriceIncrease:   priceChange(oldest, newest),
	}

	score := (clamp01(sig.ReviewVelocity/maxReviewVelocity)*demandWeightReviews +
		clamp01(math.Max(sig.RankImprovement, 0)/maxRankGain)*demandWeightRank +
		clamp01(sig.StockoutFreq/maxStockoutFreq)*demandWeightStockout +
		clamp01(math.Max(sig.PriceIncrease, 0)/maxPriceIncrease)*demandWeightPrice) * 100

	return DemandResult{
		Score:          round1(score),
		Signals:        sig,
		Interpretation: interpretDemand(score, sig),
		DataSufficient: true,
	}
}

func reviewVelocity(oldest, newest models.DailyMetric) float64 {
	days := daysBetween(oldest.Date, newest.Date)
	if days == 0 {
		return 0
	}
	return float64(newest.Reviews-oldest.Reviews) / float64(days)
}

// rankImprovement is positive when rank falls, since lower rank is better.
func rankImprovement(oldest, newest models.DailyMetric) float64 {
	if oldest.Rank == nil || newest.Rank == nil || *oldest.Rank == 0 {
		return 0
	}
	return float64(*oldest.Rank-*newest.Rank) / float64(*oldest.Rank)
}

func stockoutFrequency(m []models.DailyMetric) float64 {
	if len(m) == 0 {
		return 0
	}
	out := 0
	for _, d := range m {
		if !d.InStock {
			out++
		}
	}
	return float64(out) / float64(len(m))
}

func priceChange(oldest, newest models.DailyMetric) float64 {
	if oldest.Price == 0 {
		return 0
	}
	return (newest.Price - oldest.Price) / oldest.Price
}

func interpretDemand(score float64, sig DemandSignals) string {
	var level string
	switch {
	case score >= 80:
		level = "Very High Demand"
	case score >= 60:
		level = "High Demand"
	case score >= 40:
		level = "Moderate Demand"
	case score >= 20:
		level = "Low Demand"
	default:
		level = "Very Low Demand"
	}

	var insights []string
	if sig.ReviewVelocity > 10 {
		insights = append(insights, fmt.Sprintf("Strong review velocity (%.1f/day)", sig.ReviewVelocity))
	}
	if sig.RankImprovement > 0.1 {
		insights = append(insights, fmt.Sprintf("Rank improving (%.1f%%)", sig.RankImprovement*100))
	}
	if sig.StockoutFreq > 0.1 {
		insights = append(insights, "Frequent stockouts indicate demand")
	}
	if sig.PriceIncrease > 0.05 {
		insights = append(insights, "Price trending up")
	}
	if len(insights) == 0 {
		insights = append(insights, "Normal demand indicators")
	}
	return level + ". " + strings.Join(insights, ". ") + "."
}

// sortByDate returns a date-ascending copy, leaving the caller's slice alone.
func sortByDate(metrics []models.DailyMetric) []models.DailyMetric {
	m := make([]models.DailyMetric, len(metrics))
	copy(m, metrics)
	sort.Slice(m, func(i, j int) bool { return m[i].Date.Before(m[j].Date) })
	return m
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
