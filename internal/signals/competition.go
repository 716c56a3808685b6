package signals

import (
	"fmt"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Competition constants. Higher score means more competition.
const (
	maxSellerCount = 50.0

	compWeightSellers       = 0.4
	compWeightConcentration = 0.3
	compWeightVolatility    = 0.3
)

// CompetitionSignals are the raw inputs behind a competition score.
type CompetitionSignals struct {
	AvgSellerCount      float64 `json:"avg_seller_count"`
	ReviewConcentration float64 `json:"review_concentration"`
	BuyboxVolatility    float64 `json:"buybox_volatility"`
}

// CompetitionResult scores seller competition on a 0-100 scale, higher
// meaning harder to compete.
type CompetitionResult struct {
	Score          float64            `json:"score"`
	Signals        CompetitionSignals `json:"signals"`
	Interpretation string             `json:"interpretation"`
	BarrierToEntry string             `json:"barrier_to_entry"`
	DataSufficient bool               `json:"data_sufficient"`
}

// Competition scores the selling environment from seller counts, buybox
// ownership concentration and buybox churn. With no history it returns the
// moderate midpoint rather than an error.
func Competition(metrics []models.DailyMetric) CompetitionResult {
	if len(metrics) == 0 {
		return CompetitionResult{
			Score:          50.0,
			Signals:        CompetitionSignals{AvgSellerCount: 1.0, ReviewConcentration: 0.5, BuyboxVolatility: 0.5},
			Interpretation: "Insufficient data for competition analysis",
			BarrierToEntry: "Unknown",
		}
	}

	m := sortByDate(metrics)
	sig := CompetitionSignals{
		AvgSellerCount:      avgSellers(m),
		ReviewConcentration: buyboxConcentration(m),
		BuyboxVolatility:    buyboxVolatility(m),
	}

	// Low concentration means many sellers sharing the buybox, which is
	// more competition, so it enters inverted.
	score := (clamp01(sig.AvgSellerCount/maxSellerCount)*compWeightSellers +
		(1.0-sig.ReviewConcentration)*compWeightConcentration +
		sig.BuyboxVolatility*compWeightVolatility) * 100

	return CompetitionResult{
		Score:          round1(score),
		Signals:        sig,
		Interpretation: interpretCompetition(score, sig),
		BarrierToEntry: assessBarrier(score, sig),
		DataSufficient: true,
	}
}

func avgSellers(m []models.DailyMetric) float64 {
	total := 0
	for _, d := range m {
		total += d.SellerCount
	}
	return float64(total) / float64(len(m))
}

// buyboxConcentration is a Herfindahl index over buybox ownership, a proxy
// for per-seller review share which marketplaces do not expose.
func buyboxConcentration(m []models.DailyMetric) float64 {
	counts := make(map[string]int)
	total := 0
	for _, d := range m {
		if d.BuyboxOwner != nil && *d.BuyboxOwner != "" {
			counts[*d.BuyboxOwner]++
			total++
		}
	}
	if total == 0 {
		return 0.5
	}
	concentration := 0.0
	for _, c := range counts {
		share := float64(c) / float64(total)
		concentration += share * share
	}
	return concentration
}

// buyboxVolatility is the fraction of day-to-day transitions where the
// buybox changed hands.
func buyboxVolatility(m []models.DailyMetric) float64 {
	if len(m) < 2 {
		return 0.5
	}
	changes := 0
	for i := 1; i < len(m); i++ {
		if !sameOwner(m[i-1].BuyboxOwner, m[i].BuyboxOwner) {
			changes++
		}
	}
	return float64(changes) / float64(len(m)-1)
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func interpretCompetition(score float64, sig CompetitionSignals) string {
	var level, desc string
	switch {
	case score >= 80:
		level, desc = "Extremely Competitive", "Many sellers actively competing for this product"
	case score >= 60:
		level, desc = "Highly Competitive", "Significant seller competition present"
	case score >= 40:
		level, desc = "Moderately Competitive", "Normal competitive environment"
	case score >= 20:
		level, desc = "Low Competition", "Limited seller competition"
	default:
		level, desc = "Very Low Competition", "Dominated by few sellers"
	}
	return fmt.Sprintf("%s. %s. Average of %.1f sellers.", level, desc, sig.AvgSellerCount)
}

// assessBarrier reads the market shape: a dominant incumbent is a high
// barrier regardless of score, while a crowded open field is a low one.
func assessBarrier(score float64, sig CompetitionSignals) string {
	switch {
	case sig.ReviewConcentration > 0.7:
		return "High"
	case score > 70:
		return "Low"
	case score > 40:
		return "Medium"
	default:
		return "High"
	}
}
