package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercesignal/commercesignal/internal/models"
)

var day0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// series builds n days of metrics shaped by fn, starting at day0.
func series(n int, fn func(i int, m *models.DailyMetric)) []models.DailyMetric {
	metrics := make([]models.DailyMetric, n)
	for i := range metrics {
		metrics[i] = models.DailyMetric{
			Date:        day0.AddDate(0, 0, i),
			Price:       100,
			Reviews:     1000,
			Rating:      4.5,
			SellerCount: 5,
			InStock:     true,
		}
		if fn != nil {
			fn(i, &metrics[i])
		}
	}
	return metrics
}

func intp(v int) *int       { return &v }
func strp(s string) *string { return &s }

func TestDemandInsufficientData(t *testing.T) {
	res := Demand(series(1, nil))
	assert.False(t, res.DataSufficient)
	assert.Equal(t, 0.0, res.Score)
	assert.Contains(t, res.Interpretation, "Insufficient data")
}

func TestDemandGrowingProductOutscoresFlatOne(t *testing.T) {
	growing := series(30, func(i int, m *models.DailyMetric) {
		m.Reviews = 1000 + i*20
		m.Rank = intp(5000 - i*100)
		if i%5 == 0 {
			m.InStock = false
		}
	})
	flat := series(30, func(i int, m *models.DailyMetric) {
		m.Rank = intp(5000)
	})

	g := Demand(growing)
	f := Demand(flat)
	require.True(t, g.DataSufficient)
	assert.Greater(t, g.Score, f.Score)
	assert.GreaterOrEqual(t, g.Score, 0.0)
	assert.LessOrEqual(t, g.Score, 100.0)
}

func TestDemandComponentsSaturate(t *testing.T) {
	extreme := series(10, func(i int, m *models.DailyMetric) {
		m.Reviews = 1000 + i*1000 // far past the velocity cap
		m.Rank = intp(10000 - i*1000)
		m.InStock = false
		m.Price = 100 + float64(i)*20
	})
	res := Demand(extreme)
	assert.LessOrEqual(t, res.Score, 100.0)
}

func TestCompetitionEmptyHistoryIsModerate(t *testing.T) {
	res := Competition(nil)
	assert.Equal(t, 50.0, res.Score)
	assert.Equal(t, "Unknown", res.BarrierToEntry)
	assert.False(t, res.DataSufficient)
}

func TestCompetitionDominantSellerRaisesBarrier(t *testing.T) {
	dominated := series(20, func(i int, m *models.DailyMetric) {
		m.SellerCount = 3
		m.BuyboxOwner = strp("BigBrand")
	})
	res := Competition(dominated)
	require.True(t, res.DataSufficient)
	assert.Equal(t, "High", res.BarrierToEntry)
	assert.InDelta(t, 1.0, res.Signals.ReviewConcentration, 0.001)
	assert.Equal(t, 0.0, res.Signals.BuyboxVolatility)
}

func TestCompetitionChurningBuyboxScoresHigher(t *testing.T) {
	owners := []string{"A", "B", "C", "D"}
	churning := series(20, func(i int, m *models.DailyMetric) {
		m.SellerCount = 40
		m.BuyboxOwner = strp(owners[i%len(owners)])
	})
	stable := series(20, func(i int, m *models.DailyMetric) {
		m.SellerCount = 2
		m.BuyboxOwner = strp("A")
	})

	c := Competition(churning)
	s := Competition(stable)
	assert.Greater(t, c.Score, s.Score)
}

func TestRevenueFromRankMonotonicInRank(t *testing.T) {
	at := func(rank int) float64 {
		m := series(30, func(i int, d *models.DailyMetric) { d.Rank = intp(rank) })
		return RevenueFromRank(m, "Electronics").MonthlyRevenue
	}
	r100 := at(100)
	r1000 := at(1000)
	r10000 := at(10000)
	assert.Greater(t, r100, r1000, "better rank must never estimate less revenue")
	assert.Greater(t, r1000, r10000)
}

func TestRevenueFromRankNoRank(t *testing.T) {
	res := RevenueFromRank(series(10, nil), "Electronics")
	assert.Equal(t, 0.0, res.MonthlyRevenue)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Contains(t, res.Methodology, "No rank data")
}

func TestRevenueConfidenceGrowsWithHistory(t *testing.T) {
	mk := func(n int) float64 {
		m := series(n, func(i int, d *models.DailyMetric) { d.Rank = intp(500) })
		return RevenueFromRank(m, "Books").Confidence
	}
	assert.Greater(t, mk(30), mk(10))
	assert.LessOrEqual(t, mk(60), 0.95)
}

func TestRevenueFromReviewsNeedsSevenDays(t *testing.T) {
	res := RevenueFromReviews(series(5, nil), "Mobiles")
	assert.Equal(t, 0.2, res.Confidence)
	assert.Contains(t, res.Methodology, "Insufficient data")
}

func TestRevenueFromReviewsUsesVelocity(t *testing.T) {
	fast := series(30, func(i int, m *models.DailyMetric) { m.Reviews = 1000 + i*50 })
	slow := series(30, func(i int, m *models.DailyMetric) { m.Reviews = 1000 + i })

	f := RevenueFromReviews(fast, "Mobiles")
	s := RevenueFromReviews(slow, "Mobiles")
	assert.Greater(t, f.MonthlyRevenue, s.MonthlyRevenue)
	assert.LessOrEqual(t, f.Confidence, 0.75, "velocity estimates cap at 0.75 confidence")
}

func TestRevenuePlatformSwitch(t *testing.T) {
	m := series(30, func(i int, d *models.DailyMetric) {
		d.Rank = intp(500)
		d.Reviews = 1000 + i*10
	})
	amazon := Revenue(m, models.PlatformAmazonUS, "Electronics")
	assert.Contains(t, amazon.Methodology, "Power law")

	// Every rankless marketplace takes the velocity path; a rank-based
	// estimate for them would always come back zero-confidence.
	rankless := []models.Platform{
		models.PlatformFlipkartIN,
		models.PlatformWalmartUS,
		models.PlatformEBayUS,
		models.PlatformShopify,
	}
	for _, p := range rankless {
		res := Revenue(m, p, "Electronics")
		assert.Contains(t, res.Methodology, "Review velocity", string(p))
		assert.Greater(t, res.Confidence, 0.0, string(p))
	}
}

func TestTrendNeedsFourteenDays(t *testing.T) {
	res := Trend(series(10, nil))
	assert.Equal(t, "Unknown", res.Direction)
	assert.False(t, res.DataSufficient)
}

func TestTrendAcceleratingProduct(t *testing.T) {
	// Second half accumulates reviews much faster and rank falls harder.
	accel := series(28, func(i int, m *models.DailyMetric) {
		if i < 14 {
			m.Reviews = 1000 + i*5
			m.Rank = intp(5000 - i*10)
		} else {
			m.Reviews = 1070 + (i-14)*50
			m.Rank = intp(4860 - (i-14)*200)
		}
	})
	res := Trend(accel)
	require.True(t, res.DataSufficient)
	assert.Equal(t, "Accelerating", res.Direction)
	assert.Greater(t, res.Score, 20.0)
	assert.LessOrEqual(t, res.Score, 100.0)
}

func TestTrendDecliningProduct(t *testing.T) {
	decl := series(28, func(i int, m *models.DailyMetric) {
		if i < 14 {
			m.Reviews = 1000 + i*50
			m.Price = 100
			m.Rank = intp(5000 - i*100) // improving
		} else {
			m.Reviews = 1700 + (i - 14) // velocity collapses
			m.Price = 80
			m.Rank = intp(3600 + (i-14)*100) // reversing
		}
	})
	res := Trend(decl)
	assert.Equal(t, "Declining", res.Direction)
	assert.Less(t, res.Score, -20.0)
	assert.GreaterOrEqual(t, res.Score, -100.0)
}

func TestRiskNeedsSevenDays(t *testing.T) {
	res := Risk(series(5, nil))
	assert.Equal(t, "Unknown", res.Level)
	assert.False(t, res.DataSufficient)
}

func TestRiskFlagsReviewSpike(t *testing.T) {
	spiky := series(14, func(i int, m *models.DailyMetric) {
		m.Reviews = 1000 + i*2
		if i == 10 {
			m.Reviews = 1000 + 9*2 + 500 // one-day burst
		} else if i > 10 {
			m.Reviews = 1520 + i*2
		}
	})
	res := Risk(spiky)
	require.True(t, res.DataSufficient)
	assert.True(t, res.Signals.ReviewSpikeDetected)

	found := false
	for _, f := range res.Flags {
		if f.Category == "review_manipulation" {
			found = true
		}
	}
	assert.True(t, found, "spike must raise a review_manipulation flag")
}

func TestRiskQuietHistoryIsLow(t *testing.T) {
	quiet := series(30, func(i int, m *models.DailyMetric) {
		m.Reviews = 1000 + i*3
	})
	res := Risk(quiet)
	assert.Equal(t, "Low", res.Level)
	assert.Empty(t, res.Flags)
	assert.Equal(t, "No significant risk factors detected.", res.Interpretation)
}

func TestDiscountCycleNeedsFourteenDays(t *testing.T) {
	res := DiscountCycle(series(10, nil), day0)
	assert.Nil(t, res.AvgCycleDays)
	assert.Contains(t, res.Interpretation, "Insufficient price history")
}

func TestDiscountCycleDetectsSixDayCycle(t *testing.T) {
	// Promotions on days 10, 16 and 22: ~35% off for a single day each.
	promo := map[int]bool{10: true, 16: true, 22: true}
	m := series(28, func(i int, d *models.DailyMetric) {
		if promo[i] {
			d.Price = 65
		}
	})

	res := DiscountCycle(m, day0.AddDate(0, 0, 28))
	require.Len(t, res.HistoricalDiscounts, 3)
	require.NotNil(t, res.AvgCycleDays)
	assert.InDelta(t, 6.0, *res.AvgCycleDays, 0.5)
	require.NotNil(t, res.NextDiscount)
	assert.Equal(t, day0.AddDate(0, 0, 28), *res.NextDiscount)
	assert.Greater(t, res.Confidence, 0.4)
	assert.Greater(t, res.TypicalDiscountPct, 20.0)
}

func TestDiscountCycleStablePricesNoEvents(t *testing.T) {
	res := DiscountCycle(series(30, nil), day0)
	assert.Empty(t, res.HistoricalDiscounts)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Nil(t, res.NextDiscount)
}
