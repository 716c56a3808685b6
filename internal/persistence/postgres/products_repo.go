package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/persistence"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// productsRepo implements ProductsRepo for PostgreSQL.
type productsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProductsRepo creates a PostgreSQL products repository.
func NewProductsRepo(db *sqlx.DB, timeout time.Duration) persistence.ProductsRepo {
	return &productsRepo{db: db, timeout: timeout}
}

func (r *productsRepo) Upsert(ctx context.Context, p models.Product) (models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO products (platform, external_id, url, title, category, brand, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			brand = COALESCE(EXCLUDED.brand, products.brand),
			image_url = COALESCE(EXCLUDED.image_url, products.image_url),
			updated_at = now()
		RETURNING id, platform, external_id, url, title, category, brand, image_url, created_at, updated_at`

	var stored models.Product
	err := r.db.GetContext(ctx, &stored, query,
		p.Platform, p.ExternalID, p.URL, p.Title, p.Category, p.Brand, p.ImageURL)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to upsert product: %w", err)
	}
	return stored, nil
}

func (r *productsRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p models.Product
	err := r.db.GetContext(ctx, &p, `SELECT * FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, fmt.Errorf("product %s: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (r *productsRepo) GetByExternalID(ctx context.Context, platform models.Platform, externalID string) (models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p models.Product
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM products WHERE platform = $1 AND external_id = $2`, platform, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, fmt.Errorf("product %s/%s: %w", platform, externalID, persistence.ErrNotFound)
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to get product by external id: %w", err)
	}
	return p, nil
}

func (r *productsRepo) ListByPlatform(ctx context.Context, platform models.Platform, limit int) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var products []models.Product
	err := r.db.SelectContext(ctx, &products,
		`SELECT * FROM products WHERE platform = $1 ORDER BY updated_at DESC LIMIT $2`, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products for %s: %w", platform, err)
	}
	return products, nil
}

func (r *productsRepo) ListByCategory(ctx context.Context, platform models.Platform, category string, limit int) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var products []models.Product
	err := r.db.SelectContext(ctx, &products,
		`SELECT * FROM products WHERE platform = $1 AND category = $2 ORDER BY updated_at DESC LIMIT $3`,
		platform, category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products in %s: %w", category, err)
	}
	return products, nil
}

// mapUnique converts a unique-violation pq error to ErrDuplicate.
func mapUnique(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, persistence.ErrDuplicate)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}
