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

// brandsRepo implements BrandsRepo for PostgreSQL.
type brandsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBrandsRepo creates a PostgreSQL brands repository.
func NewBrandsRepo(db *sqlx.DB, timeout time.Duration) persistence.BrandsRepo {
	return &brandsRepo{db: db, timeout: timeout}
}

func (r *brandsRepo) Upsert(ctx context.Context, b models.Brand) (models.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO brands (platform, name, slug, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, slug) DO UPDATE SET
			name = EXCLUDED.name,
			category = COALESCE(EXCLUDED.category, brands.category),
			updated_at = now()
		RETURNING id, platform, name, slug, category, created_at, updated_at`

	var stored models.Brand
	err := r.db.GetContext(ctx, &stored, query, b.Platform, b.Name, b.Slug, b.Category)
	if err != nil {
		return models.Brand{}, fmt.Errorf("failed to upsert brand: %w", err)
	}
	return stored, nil
}

func (r *brandsRepo) GetBySlug(ctx context.Context, platform models.Platform, slug string) (models.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var b models.Brand
	err := r.db.GetContext(ctx, &b,
		`SELECT * FROM brands WHERE platform = $1 AND slug = $2`, platform, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Brand{}, fmt.Errorf("brand %s/%s: %w", platform, slug, persistence.ErrNotFound)
	}
	if err != nil {
		return models.Brand{}, fmt.Errorf("failed to get brand: %w", err)
	}
	return b, nil
}

func (r *brandsRepo) Products(ctx context.Context, brandID uuid.UUID, limit int) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var products []models.Product
	err := r.db.SelectContext(ctx, &products, `
		SELECT p.* FROM products p
		JOIN brands b ON b.id = $1
		WHERE p.platform = b.platform AND p.brand = b.name
		ORDER BY p.updated_at DESC
		LIMIT $2`, brandID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list brand products: %w", err)
	}
	return products, nil
}

func (r *brandsRepo) InsertMetric(ctx context.Context, m models.BrandMetric) (models.BrandMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO brand_metrics (brand_id, date, product_count, avg_price, avg_rating,
			total_reviews, review_velocity, avg_rank, revenue_estimate, market_share_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		m.BrandID, m.Date, m.ProductCount, m.AvgPrice, m.AvgRating,
		m.TotalReviews, m.ReviewVelocity, m.AvgRank, m.RevenueEstimate, m.MarketSharePercent).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return models.BrandMetric{}, mapUnique(err, "brand metric")
	}
	return m, nil
}

func (r *brandsRepo) MetricHistory(ctx context.Context, brandID uuid.UUID, days int) ([]models.BrandMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var metrics []models.BrandMetric
	err := r.db.SelectContext(ctx, &metrics, `
		SELECT * FROM brand_metrics
		WHERE brand_id = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date ASC`, brandID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load brand metric history: %w", err)
	}
	return metrics, nil
}
