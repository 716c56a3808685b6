package alerts

import (
	"fmt"

	"github.com/commercesignal/commercesignal/internal/models"
)

// rankThresholds are the fixed bands the rank_change trigger watches.
var rankThresholds = []int{100, 500, 1000, 5000, 10000, 50000, 100000}

// Default percent thresholds when the subscription leaves them unset.
const (
	defaultTrendChangePercent = 20.0
	defaultArbitragePercent   = 15.0
)

// TriggerResult describes one fired alert. EventData is the structured
// payload persisted with the event; Previous/CurrentValue are display
// strings.
type TriggerResult struct {
	EventType     string
	EventData     map[string]any
	PreviousValue *string
	CurrentValue  *string
	Message       string
}

// Evaluate dispatches on the subscription's alert type and returns a result
// when the trigger fires, nil otherwise. Evaluation is stateless: the same
// (subscription, current, previous) triple always yields the same result.
func Evaluate(sub models.AlertSubscription, current models.DailyMetric, previous *models.DailyMetric) *TriggerResult {
	switch sub.AlertType {
	case models.AlertPriceDrop:
		return evaluatePriceDrop(sub, current, previous)
	case models.AlertStockout:
		return evaluateStockout(current, previous)
	case models.AlertTrendChange:
		return evaluateTrendChange(sub, current, previous)
	case models.AlertRankChange:
		return evaluateRankChange(current, previous)
	case models.AlertArbitrage:
		// Needs cross-platform context; see EvaluateArbitrage.
		return nil
	}
	return nil
}

func evaluatePriceDrop(sub models.AlertSubscription, current models.DailyMetric, previous *models.DailyMetric) *TriggerResult {
	if sub.ThresholdValue != nil {
		threshold := *sub.ThresholdValue
		if current.Price <= threshold {
			return &TriggerResult{
				EventType: "price_below_threshold",
				EventData: map[string]any{
					"current_price": current.Price,
					"threshold":     threshold,
					"product_id":    current.ProductID.String(),
				},
				CurrentValue: strptr(fmt.Sprintf("$%.2f", current.Price)),
				Message:      fmt.Sprintf("Price dropped to $%.2f (below $%.2f threshold)", current.Price, threshold),
			}
		}
	}

	if previous != nil && sub.ThresholdPercent != nil && previous.Price > 0 {
		dropPercent := (previous.Price - current.Price) / previous.Price * 100
		if dropPercent >= *sub.ThresholdPercent {
			return &TriggerResult{
				EventType: "price_drop_percent",
				EventData: map[string]any{
					"current_price":  current.Price,
					"previous_price": previous.Price,
					"drop_percent":   dropPercent,
					"product_id":     current.ProductID.String(),
				},
				PreviousValue: strptr(fmt.Sprintf("$%.2f", previous.Price)),
				CurrentValue:  strptr(fmt.Sprintf("$%.2f", current.Price)),
				Message:       fmt.Sprintf("Price dropped %.1f%% from $%.2f to $%.2f", dropPercent, previous.Price, current.Price),
			}
		}
	}

	return nil
}

func evaluateStockout(current models.DailyMetric, previous *models.DailyMetric) *TriggerResult {
	if !current.InStock {
		// Fire only on the transition, not for every out-of-stock day.
		if previous == nil || previous.InStock {
			return &TriggerResult{
				EventType: "stockout",
				EventData: map[string]any{
					"product_id": current.ProductID.String(),
					"last_price": current.Price,
				},
				PreviousValue: strptr("In Stock"),
				CurrentValue:  strptr("Out of Stock"),
				Message:       "Product is now OUT OF STOCK",
			}
		}
		return nil
	}

	if previous != nil && !previous.InStock {
		return &TriggerResult{
			EventType: "back_in_stock",
			EventData: map[string]any{
				"product_id":    current.ProductID.String(),
				"current_price": current.Price,
			},
			PreviousValue: strptr("Out of Stock"),
			CurrentValue:  strptr("In Stock"),
			Message:       fmt.Sprintf("Product is BACK IN STOCK at $%.2f", current.Price),
		}
	}

	return nil
}

func evaluateTrendChange(sub models.AlertSubscription, current models.DailyMetric, previous *models.DailyMetric) *TriggerResult {
	if previous == nil || current.Rank == nil || previous.Rank == nil {
		return nil
	}

	curRank, prevRank := *current.Rank, *previous.Rank
	if prevRank == 0 {
		return nil
	}

	rankChange := prevRank - curRank // positive means improvement
	changePercent := float64(rankChange) / float64(prevRank) * 100

	threshold := defaultTrendChangePercent
	if sub.ThresholdPercent != nil {
		threshold = *sub.ThresholdPercent
	}

	if abs(changePercent) < threshold {
		return nil
	}

	eventType, direction := "rank_declining", "declined"
	if rankChange > 0 {
		eventType, direction = "rank_improving", "improved"
	}

	return &TriggerResult{
		EventType: eventType,
		EventData: map[string]any{
			"current_rank":   curRank,
			"previous_rank":  prevRank,
			"change_percent": changePercent,
			"product_id":     current.ProductID.String(),
		},
		PreviousValue: strptr(fmt.Sprintf("#%d", prevRank)),
		CurrentValue:  strptr(fmt.Sprintf("#%d", curRank)),
		Message:       fmt.Sprintf("Rank %s by %.1f%% (#%d -> #%d)", direction, abs(changePercent), prevRank, curRank),
	}
}

func evaluateRankChange(current models.DailyMetric, previous *models.DailyMetric) *TriggerResult {
	if previous == nil || current.Rank == nil || previous.Rank == nil {
		return nil
	}

	curRank, prevRank := *current.Rank, *previous.Rank

	for _, threshold := range rankThresholds {
		switch {
		case prevRank > threshold && threshold >= curRank:
			return &TriggerResult{
				EventType: "entered_top_rank",
				EventData: map[string]any{
					"current_rank": curRank,
					"threshold":    threshold,
					"product_id":   current.ProductID.String(),
				},
				PreviousValue: strptr(fmt.Sprintf("#%d", prevRank)),
				CurrentValue:  strptr(fmt.Sprintf("#%d", curRank)),
				Message:       fmt.Sprintf("Entered Top %d! (Rank #%d)", threshold, curRank),
			}
		case prevRank < threshold && threshold <= curRank:
			return &TriggerResult{
				EventType: "exited_top_rank",
				EventData: map[string]any{
					"current_rank": curRank,
					"threshold":    threshold,
					"product_id":   current.ProductID.String(),
				},
				PreviousValue: strptr(fmt.Sprintf("#%d", prevRank)),
				CurrentValue:  strptr(fmt.Sprintf("#%d", curRank)),
				Message:       fmt.Sprintf("Dropped out of Top %d (Rank #%d)", threshold, curRank),
			}
		}
	}

	return nil
}

// EvaluateArbitrage fires when a cross-platform margin clears the
// subscription's percent threshold. Prices arrive already USD-normalized.
func EvaluateArbitrage(sub models.AlertSubscription, sourcePriceUSD, targetPriceUSD, estimatedFeesUSD float64) *TriggerResult {
	margin := targetPriceUSD - sourcePriceUSD - estimatedFeesUSD

	marginPercent := 0.0
	if sourcePriceUSD > 0 {
		marginPercent = margin / sourcePriceUSD * 100
	}

	threshold := defaultArbitragePercent
	if sub.ThresholdPercent != nil {
		threshold = *sub.ThresholdPercent
	}

	if marginPercent < threshold {
		return nil
	}

	return &TriggerResult{
		EventType: "arbitrage_opportunity",
		EventData: map[string]any{
			"source_price":   sourcePriceUSD,
			"target_price":   targetPriceUSD,
			"fees":           estimatedFeesUSD,
			"margin":         margin,
			"margin_percent": marginPercent,
		},
		CurrentValue: strptr(fmt.Sprintf("%.1f%% margin", marginPercent)),
		Message:      fmt.Sprintf("Arbitrage opportunity: %.1f%% margin ($%.2f profit)", marginPercent, margin),
	}
}

func strptr(s string) *string { return &s }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
