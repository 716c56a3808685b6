package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
)

// alertsRepo implements AlertsRepo for PostgreSQL.
type alertsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertsRepo creates a PostgreSQL alerts repository.
func NewAlertsRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertsRepo {
	return &alertsRepo{db: db, timeout: timeout}
}

func (r *alertsRepo) CreateSubscription(ctx context.Context, s models.AlertSubscription) (models.AlertSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !s.AlertType.Valid() {
		return models.AlertSubscription{}, fmt.Errorf("invalid alert type %q", s.AlertType)
	}
	if !s.Channel.Valid() {
		return models.AlertSubscription{}, fmt.Errorf("invalid notification channel %q", s.Channel)
	}

	query := `
		INSERT INTO alert_subscriptions (user_id, alert_type, product_id, brand_id, category,
			platform, threshold_value, threshold_percent, notification_channel, webhook_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		RETURNING id, is_active, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		s.UserID, s.AlertType, s.ProductID, s.BrandID, s.Category,
		s.Platform, s.ThresholdValue, s.ThresholdPercent, s.Channel, s.WebhookURL).
		Scan(&s.ID, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return models.AlertSubscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}
	return s, nil
}

func (r *alertsRepo) GetSubscription(ctx context.Context, id uuid.UUID) (models.AlertSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s models.AlertSubscription
	err := r.db.GetContext(ctx, &s, `SELECT * FROM alert_subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AlertSubscription{}, fmt.Errorf("subscription %s: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return models.AlertSubscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

func (r *alertsRepo) ActiveSubscriptions(ctx context.Context, productID *uuid.UUID) ([]models.AlertSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var subs []models.AlertSubscription
	var err error
	if productID != nil {
		err = r.db.SelectContext(ctx, &subs, `
			SELECT * FROM alert_subscriptions
			WHERE is_active AND product_id = $1
			ORDER BY created_at`, *productID)
	} else {
		err = r.db.SelectContext(ctx, &subs, `
			SELECT * FROM alert_subscriptions
			WHERE is_active
			ORDER BY created_at`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

func (r *alertsRepo) DeactivateSubscription(ctx context.Context, id uuid.UUID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_subscriptions SET is_active = FALSE
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s for user %s: %w", id, userID, persistence.ErrNotFound)
	}
	return nil
}

func (r *alertsRepo) InsertEvent(ctx context.Context, e models.AlertEvent) (models.AlertEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if len(e.EventData) == 0 {
		e.EventData = []byte("{}")
	}

	query := `
		INSERT INTO alert_events (subscription_id, event_type, event_data, previous_value, current_value, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowxContext(ctx, query,
		e.SubscriptionID, e.EventType, e.EventData, e.PreviousValue, e.CurrentValue, e.TriggeredAt).
		Scan(&e.ID)
	if err != nil {
		return models.AlertEvent{}, fmt.Errorf("failed to insert alert event: %w", err)
	}
	return e, nil
}

func (r *alertsRepo) EventsForUser(ctx context.Context, userID string, unackedOnly bool, limit int) ([]models.AlertEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT e.* FROM alert_events e
		JOIN alert_subscriptions s ON s.id = e.subscription_id
		WHERE s.user_id = $1`
	if unackedOnly {
		query += ` AND NOT e.acknowledged`
	}
	query += ` ORDER BY e.triggered_at DESC LIMIT $2`

	var events []models.AlertEvent
	if err := r.db.SelectContext(ctx, &events, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", userID, err)
	}
	return events, nil
}

func (r *alertsRepo) Acknowledge(ctx context.Context, eventID uuid.UUID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_events SET acknowledged = TRUE
		WHERE id = $1 AND subscription_id IN (
			SELECT id FROM alert_subscriptions WHERE user_id = $2
		)`, eventID, userID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acknowledge event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s for user %s: %w", eventID, userID, persistence.ErrNotFound)
	}
	return nil
}

func (r *alertsRepo) RecentEventCount(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM alert_events
		WHERE subscription_id = $1 AND triggered_at >= $2`, subscriptionID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent events: %w", err)
	}
	return count, nil
}
