package signals

import (
	"fmt"
	"math"
	"strings"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Risk thresholds and weights. Higher score means more risk.
const (
	reviewSpikeThreshold    = 3.0 // daily spike vs average velocity
	highChurnThreshold      = 0.3
	highVolatilityThreshold = 0.5

	riskWeightSpike      = 0.4
	riskWeightChurn      = 0.3
	riskWeightVolatility = 0.3

	// Normalization caps: a 5x spike, 50% churn or a full rating point of
	// standard deviation each saturate their component.
	riskCapSpike      = 5.0
	riskCapChurn      = 0.5
	riskCapVolatility = 1.0
)

// RiskSignals are the raw inputs behind a risk score.
type RiskSignals struct {
	ReviewSpikeDetected  bool    `json:"review_spike_detected"`
	ReviewSpikeMagnitude float64 `json:"review_spike_magnitude"`
	SellerChurnRate      float64 `json:"seller_churn_rate"`
	RatingVolatility     float64 `json:"rating_volatility"`
}

// RiskFlag is one specific concern raised by the calculator.
type RiskFlag struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// RiskResult scores manipulation and instability risk on a 0-100 scale.
type RiskResult struct {
	Score          float64     `json:"score"`
	Level          string      `json:"risk_level"`
	Signals        RiskSignals `json:"signals"`
	Flags          []RiskFlag  `json:"flags"`
	Interpretation string      `json:"interpretation"`
	DataSufficient bool        `json:"data_sufficient"`
}

// Risk scores review-spike anomalies, seller churn and rating volatility.
// Needs at least seven days of history.
func Risk(metrics []models.DailyMetric) RiskResult {
	if len(metrics) < 7 {
		return RiskResult{
			Level:          "Unknown",
			Interpretation: "Insufficient data for risk analysis",
		}
	}

	m := sortByDate(metrics)
	spikeDetected, spikeMagnitude := detectReviewSpike(m)
	sig := RiskSignals{
		ReviewSpikeDetected:  spikeDetected,
		ReviewSpikeMagnitude: spikeMagnitude,
		SellerChurnRate:      sellerChurn(m),
		RatingVolatility:     ratingVolatility(m),
	}

	score := (clamp01(sig.ReviewSpikeMagnitude/riskCapSpike)*riskWeightSpike +
		clamp01(sig.SellerChurnRate/riskCapChurn)*riskWeightChurn +
		clamp01(sig.RatingVolatility/riskCapVolatility)*riskWeightVolatility) * 100

	flags := riskFlags(sig)

	return RiskResult{
		Score:          round1(score),
		Level:          riskLevel(score),
		Signals:        sig,
		Flags:          flags,
		Interpretation: interpretRisk(flags),
		DataSufficient: true,
	}
}

// detectReviewSpike compares the largest single-day review gain against the
// window's average daily gain.
func detectReviewSpike(m []models.DailyMetric) (bool, float64) {
	var gains []float64
	for i := 1; i < len(m); i++ {
		gain := float64(m[i].Reviews - m[i-1].Reviews)
		gains = append(gains, math.Max(0, gain))
	}
	if len(gains) == 0 {
		return false, 0
	}

	sum, maxGain := 0.0, 0.0
	for _, g := range gains {
		sum += g
		if g > maxGain {
			maxGain = g
		}
	}
	if maxGain == 0 {
		return false, 0
	}
	avg := sum / float64(len(gains))
	if avg == 0 {
		return false, 0
	}
	magnitude := maxGain / avg
	return magnitude > reviewSpikeThreshold, magnitude
}

// sellerChurn is the fraction of day-to-day transitions where the seller
// count moved.
func sellerChurn(m []models.DailyMetric) float64 {
	if len(m) < 2 {
		return 0
	}
	changes := 0
	for i := 1; i < len(m); i++ {
		if m[i].SellerCount != m[i-1].SellerCount {
			changes++
		}
	}
	return float64(changes) / float64(len(m)-1)
}

// ratingVolatility is the sample standard deviation of non-zero ratings.
func ratingVolatility(m []models.DailyMetric) float64 {
	var ratings []float64
	for _, d := range m {
		if d.Rating > 0 {
			ratings = append(ratings, d.Rating)
		}
	}
	if len(ratings) < 2 {
		return 0
	}

	sum := 0.0
	for _, r := range ratings {
		sum += r
	}
	avg := sum / float64(len(ratings))

	variance := 0.0
	for _, r := range ratings {
		variance += (r - avg) * (r - avg)
	}
	return math.Sqrt(variance / float64(len(ratings)-1))
}

func riskFlags(sig RiskSignals) []RiskFlag {
	var flags []RiskFlag

	if sig.ReviewSpikeDetected {
		severity := "low"
		switch {
		case sig.ReviewSpikeMagnitude > 5:
			severity = "high"
		case sig.ReviewSpikeMagnitude > 3:
			severity = "medium"
		}
		flags = append(flags, RiskFlag{
			Category:    "review_manipulation",
			Severity:    severity,
			Description: fmt.Sprintf("Unusual review spike detected (%.1fx normal rate)", sig.ReviewSpikeMagnitude),
		})
	}

	if sig.SellerChurnRate > highChurnThreshold {
		flags = append(flags, RiskFlag{
			Category:    "seller_instability",
			Severity:    "medium",
			Description: fmt.Sprintf("High seller turnover (%.0f%% churn rate)", sig.SellerChurnRate*100),
		})
	}

	if sig.RatingVolatility > highVolatilityThreshold {
		flags = append(flags, RiskFlag{
			Category:    "quality_issues",
			Severity:    "medium",
			Description: fmt.Sprintf("Rating volatility detected (stddev %.2f)", sig.RatingVolatility),
		})
	}

	return flags
}

func riskLevel(score float64) string {
	switch {
	case score >= 70:
		return "Critical"
	case score >= 50:
		return "High"
	case score >= 25:
		return "Medium"
	default:
		return "Low"
	}
}

func interpretRisk(flags []RiskFlag) string {
	if len(flags) == 0 {
		return "No significant risk factors detected."
	}
	for _, f := range flags {
		if f.Severity == "high" {
			return "Critical risk: " + f.Description
		}
	}
	summaries := make([]string, 0, 2)
	for _, f := range flags {
		summaries = append(summaries, f.Description)
		if len(summaries) == 2 {
			break
		}
	}
	return "Risk factors: " + strings.Join(summaries, "; ")
}
