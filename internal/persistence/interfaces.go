// Package persistence defines the storage contracts the rest of the system
// depends on. The postgres subpackage is the production implementation;
// tests substitute sqlmock or in-memory fakes.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/commercesignal/commercesignal/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// ProductsRepo stores tracked product listings.
type ProductsRepo interface {
	// Upsert inserts the product or refreshes its mutable metadata when
	// the (platform, external_id) pair already exists. The stored row,
	// with its canonical ID, is returned either way.
	Upsert(ctx context.Context, p models.Product) (models.Product, error)

	// GetByID fetches one product.
	GetByID(ctx context.Context, id uuid.UUID) (models.Product, error)

	// GetByExternalID fetches a product by its platform identity.
	GetByExternalID(ctx context.Context, platform models.Platform, externalID string) (models.Product, error)

	// ListByPlatform lists tracked products for a platform, most recently
	// updated first.
	ListByPlatform(ctx context.Context, platform models.Platform, limit int) ([]models.Product, error)

	// ListByCategory lists tracked products for a platform and category.
	ListByCategory(ctx context.Context, platform models.Platform, category string, limit int) ([]models.Product, error)
}

// MetricsRepo stores the append-only daily metric history.
type MetricsRepo interface {
	// Insert appends one daily snapshot. A second snapshot for the same
	// product and day returns ErrDuplicate.
	Insert(ctx context.Context, m models.DailyMetric) (models.DailyMetric, error)

	// History returns a product's metrics for the trailing window,
	// date-ascending.
	History(ctx context.Context, productID uuid.UUID, days int) ([]models.DailyMetric, error)

	// Latest returns the most recent metric for a product.
	Latest(ctx context.Context, productID uuid.UUID) (models.DailyMetric, error)

	// LatestTwo returns the newest and second-newest metrics, newest
	// first, for change detection.
	LatestTwo(ctx context.Context, productID uuid.UUID) ([]models.DailyMetric, error)
}

// BrandsRepo stores brands and their daily aggregates.
type BrandsRepo interface {
	// Upsert inserts the brand or returns the existing row for its
	// (platform, slug) pair.
	Upsert(ctx context.Context, b models.Brand) (models.Brand, error)

	// GetBySlug fetches a brand by platform and slug.
	GetBySlug(ctx context.Context, platform models.Platform, slug string) (models.Brand, error)

	// Products lists the tracked products carrying the brand's name.
	Products(ctx context.Context, brandID uuid.UUID, limit int) ([]models.Product, error)

	// InsertMetric appends one daily brand aggregate.
	InsertMetric(ctx context.Context, m models.BrandMetric) (models.BrandMetric, error)

	// MetricHistory returns a brand's aggregates for the trailing window,
	// date-ascending.
	MetricHistory(ctx context.Context, brandID uuid.UUID, days int) ([]models.BrandMetric, error)
}

// AlertsRepo stores subscriptions and fired events.
type AlertsRepo interface {
	// CreateSubscription stores a new subscription and returns it with
	// its assigned ID.
	CreateSubscription(ctx context.Context, s models.AlertSubscription) (models.AlertSubscription, error)

	// GetSubscription fetches one subscription.
	GetSubscription(ctx context.Context, id uuid.UUID) (models.AlertSubscription, error)

	// ActiveSubscriptions lists active subscriptions, optionally filtered
	// to one product's scope (direct, brand or category match is the
	// caller's concern; this filters on product_id only).
	ActiveSubscriptions(ctx context.Context, productID *uuid.UUID) ([]models.AlertSubscription, error)

	// DeactivateSubscription soft-deletes a subscription.
	DeactivateSubscription(ctx context.Context, id uuid.UUID, userID string) error

	// InsertEvent appends a fired alert event.
	InsertEvent(ctx context.Context, e models.AlertEvent) (models.AlertEvent, error)

	// EventsForUser lists a user's events, newest first, optionally only
	// unacknowledged ones.
	EventsForUser(ctx context.Context, userID string, unackedOnly bool, limit int) ([]models.AlertEvent, error)

	// Acknowledge marks an event as seen by its subscription's owner.
	Acknowledge(ctx context.Context, eventID uuid.UUID, userID string) error

	// RecentEventCount counts events fired for a subscription since the
	// cutoff, for noise throttling.
	RecentEventCount(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (int, error)
}
