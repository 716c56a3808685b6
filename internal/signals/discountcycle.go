package signals

import (
	"fmt"
	"math"
	"time"

	"github.com/commercesignal/commercesignal/internal/models"
)

// minDiscountDrop is the fractional drop below the trailing baseline that
// counts as a discount event.
const minDiscountDrop = 0.05

// discountEventGapDays separates distinct events; closer drops are the same
// promotion continuing.
const discountEventGapDays = 3

// DiscountEvent is one detected price promotion.
type DiscountEvent struct {
	Date            time.Time `json:"date"`
	OriginalPrice   float64   `json:"original_price"`
	DiscountedPrice float64   `json:"discounted_price"`
	DiscountPercent float64   `json:"discount_percent"`
}

// DiscountCyclePrediction projects when the next promotion should land.
type DiscountCyclePrediction struct {
	AvgCycleDays        *float64        `json:"avg_cycle_days,omitempty"`
	NextDiscount        *time.Time      `json:"next_predicted_discount,omitempty"`
	Confidence          float64         `json:"confidence"`
	HistoricalDiscounts []DiscountEvent `json:"historical_discounts"`
	TypicalDiscountPct  float64         `json:"typical_discount_percent"`
	Interpretation      string          `json:"interpretation"`
}

// DiscountCycle detects promotion events against a 7-day trailing price
// baseline and, given at least two events, projects the next one. now
// anchors the human-readable timing text.
func DiscountCycle(metrics []models.DailyMetric, now time.Time) DiscountCyclePrediction {
	if len(metrics) < 14 {
		return DiscountCyclePrediction{
			Interpretation: "Insufficient price history (need 14+ days)",
		}
	}

	m := sortByDate(metrics)
	events := detectDiscounts(m)

	if len(events) < 2 {
		return DiscountCyclePrediction{
			Confidence:          0.1,
			HistoricalDiscounts: events,
			TypicalDiscountPct:  avgDiscount(events),
			Interpretation:      "Not enough discount events to detect a cycle",
		}
	}

	cycleDays, cycleStd := discountCycleLength(events)
	next := events[len(events)-1].Date.AddDate(0, 0, int(cycleDays))
	confidence := cycleConfidence(len(events), cycleStd, cycleDays)
	typical := avgDiscount(events)
	rounded := round1(cycleDays)

	return DiscountCyclePrediction{
		AvgCycleDays:        &rounded,
		NextDiscount:        &next,
		Confidence:          confidence,
		HistoricalDiscounts: events,
		TypicalDiscountPct:  typical,
		Interpretation:      interpretCycle(cycleDays, next, typical, confidence, now),
	}
}

func detectDiscounts(m []models.DailyMetric) []DiscountEvent {
	var events []DiscountEvent
	if len(m) < 8 {
		return events
	}

	for i := 7; i < len(m); i++ {
		baseline := 0.0
		for _, d := range m[i-7 : i] {
			baseline += d.Price
		}
		baseline /= 7

		if baseline <= 0 {
			continue
		}
		drop := (baseline - m[i].Price) / baseline
		if drop < minDiscountDrop {
			continue
		}
		if len(events) > 0 && daysBetween(events[len(events)-1].Date, m[i].Date) <= discountEventGapDays {
			continue
		}
		events = append(events, DiscountEvent{
			Date:            m[i].Date,
			OriginalPrice:   baseline,
			DiscountedPrice: m[i].Price,
			DiscountPercent: round1(drop * 100),
		})
	}
	return events
}

func discountCycleLength(events []DiscountEvent) (avg, std float64) {
	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, float64(daysBetween(events[i-1].Date, events[i].Date)))
	}

	sum := 0.0
	for _, g := range gaps {
		sum += g
	}
	avg = sum / float64(len(gaps))

	if len(gaps) > 1 {
		variance := 0.0
		for _, g := range gaps {
			variance += (g - avg) * (g - avg)
		}
		std = math.Sqrt(variance / float64(len(gaps)-1))
	}
	return avg, std
}

// cycleConfidence grows with event count and shrinks with irregular gaps.
func cycleConfidence(numEvents int, cycleStd, cycleAvg float64) float64 {
	base := 0.3
	switch {
	case numEvents >= 5:
		base = 0.7
	case numEvents >= 3:
		base = 0.5
	}

	consistency := 0.5
	if cycleAvg > 0 {
		consistency = 1.0 - math.Min(cycleStd/cycleAvg, 0.5)
	}

	return math.Min(base*consistency+0.2, 0.95)
}

func avgDiscount(events []DiscountEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range events {
		sum += e.DiscountPercent
	}
	return sum / float64(len(events))
}

func interpretCycle(cycleDays float64, next time.Time, typical, confidence float64, now time.Time) string {
	daysUntil := daysBetween(now, next)

	var timing string
	switch {
	case daysUntil < 0:
		timing = "may have already started or is imminent"
	case daysUntil <= 7:
		timing = fmt.Sprintf("expected within %d days", daysUntil)
	case daysUntil <= 30:
		timing = fmt.Sprintf("expected in ~%d weeks", daysUntil/7)
	default:
		timing = "expected around " + next.Format("Jan 02")
	}

	conf := "Low confidence"
	switch {
	case confidence > 0.7:
		conf = "High confidence"
	case confidence > 0.4:
		conf = "Moderate confidence"
	}

	return fmt.Sprintf("%s: ~%.0f-day discount cycle detected. Next discount (%.0f%% typical) %s.",
		conf, cycleDays, typical, timing)
}
