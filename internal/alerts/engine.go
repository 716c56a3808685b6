package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
)

// Engine evaluates subscriptions against metric pairs and dispatches
// notifications. The caller supplies (current, previous) for the same
// product; the engine never looks metrics up itself.
type Engine struct {
	repo     persistence.AlertsRepo
	channels *Channels
	now      func() time.Time
}

// NewEngine wires the alert engine. All shared state arrives through the
// constructor.
func NewEngine(repo persistence.AlertsRepo, channels *Channels) *Engine {
	return &Engine{repo: repo, channels: channels, now: time.Now}
}

// ProcessProductMetrics evaluates every active subscription on the product
// against the metric pair. One subscription failing does not stop the rest.
func (e *Engine) ProcessProductMetrics(ctx context.Context, productID uuid.UUID, current models.DailyMetric, previous *models.DailyMetric) ([]models.AlertEvent, error) {
	subs, err := e.repo.ActiveSubscriptions(ctx, &productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for %s: %w", productID, err)
	}

	var events []models.AlertEvent
	for _, sub := range subs {
		event, err := e.evaluateSubscription(ctx, sub, current, previous)
		if err != nil {
			log.Error().Err(err).Str("subscription", sub.ID.String()).Msg("subscription evaluation failed")
			continue
		}
		if event != nil {
			events = append(events, *event)
		}
	}
	return events, nil
}

// evaluateSubscription runs the trigger, persists the event, then sends the
// notification. The event row exists even when the send fails.
func (e *Engine) evaluateSubscription(ctx context.Context, sub models.AlertSubscription, current models.DailyMetric, previous *models.DailyMetric) (*models.AlertEvent, error) {
	result := Evaluate(sub, current, previous)
	if result == nil {
		return nil, nil
	}

	data, err := json.Marshal(result.EventData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}

	event, err := e.repo.InsertEvent(ctx, models.AlertEvent{
		SubscriptionID: sub.ID,
		EventType:      result.EventType,
		EventData:      data,
		PreviousValue:  result.PreviousValue,
		CurrentValue:   result.CurrentValue,
		TriggeredAt:    e.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist alert event: %w", err)
	}

	if err := e.send(ctx, sub, event, result.Message); err != nil {
		log.Error().Err(err).
			Str("subscription", sub.ID.String()).
			Str("channel", string(sub.Channel)).
			Msg("notification send failed")
	}
	return &event, nil
}

func (e *Engine) send(ctx context.Context, sub models.AlertSubscription, event models.AlertEvent, message string) error {
	channel, err := e.channels.Resolve(sub.Channel)
	if err != nil {
		return err
	}
	if err := channel.Send(ctx, sub, event, message); err != nil {
		return err
	}
	log.Info().
		Str("channel", string(sub.Channel)).
		Str("event_type", event.EventType).
		Msg("alert sent")
	return nil
}

// RecentCount reports how many events a subscription fired inside the
// window, for caller-side throttling.
func (e *Engine) RecentCount(ctx context.Context, subscriptionID uuid.UUID, hours int) (int, error) {
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour)
	return e.repo.RecentEventCount(ctx, subscriptionID, since)
}

// UserAlerts returns recent events for a user, newest first.
func (e *Engine) UserAlerts(ctx context.Context, userID string, unackedOnly bool, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.repo.EventsForUser(ctx, userID, unackedOnly, limit)
}

// Acknowledge marks an event as seen, verifying ownership.
func (e *Engine) Acknowledge(ctx context.Context, eventID uuid.UUID, userID string) error {
	return e.repo.Acknowledge(ctx, eventID, userID)
}
