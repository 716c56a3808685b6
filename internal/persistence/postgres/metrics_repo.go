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

// metricsRepo implements MetricsRepo for PostgreSQL.
type metricsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMetricsRepo creates a PostgreSQL metrics repository.
func NewMetricsRepo(db *sqlx.DB, timeout time.Duration) persistence.MetricsRepo {
	return &metricsRepo{db: db, timeout: timeout}
}

func (r *metricsRepo) Insert(ctx context.Context, m models.DailyMetric) (models.DailyMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO daily_metrics (product_id, date, price, original_price, discount_percent,
			rank, reviews, rating, seller_count, in_stock, delivery_days, buybox_owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		m.ProductID, m.Date, m.Price, m.OriginalPrice, m.DiscountPercent,
		m.Rank, m.Reviews, m.Rating, m.SellerCount, m.InStock, m.DeliveryDays, m.BuyboxOwner).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return models.DailyMetric{}, mapUnique(err, "daily metric")
	}
	return m, nil
}

func (r *metricsRepo) History(ctx context.Context, productID uuid.UUID, days int) ([]models.DailyMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var metrics []models.DailyMetric
	err := r.db.SelectContext(ctx, &metrics, `
		SELECT * FROM daily_metrics
		WHERE product_id = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date ASC`, productID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric history: %w", err)
	}
	return metrics, nil
}

func (r *metricsRepo) Latest(ctx context.Context, productID uuid.UUID) (models.DailyMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var m models.DailyMetric
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM daily_metrics
		WHERE product_id = $1
		ORDER BY date DESC
		LIMIT 1`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DailyMetric{}, fmt.Errorf("metrics for %s: %w", productID, persistence.ErrNotFound)
	}
	if err != nil {
		return models.DailyMetric{}, fmt.Errorf("failed to load latest metric: %w", err)
	}
	return m, nil
}

func (r *metricsRepo) LatestTwo(ctx context.Context, productID uuid.UUID) ([]models.DailyMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var metrics []models.DailyMetric
	err := r.db.SelectContext(ctx, &metrics, `
		SELECT * FROM daily_metrics
		WHERE product_id = $1
		ORDER BY date DESC
		LIMIT 2`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest metrics: %w", err)
	}
	return metrics, nil
}
