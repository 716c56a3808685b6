package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a tracked listing, unique per (platform, external_id).
// Created on first successful scrape; metadata refreshes mutate it, the
// pipeline never deletes it.
type Product struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Platform   Platform  `db:"platform" json:"platform"`
	ExternalID string    `db:"external_id" json:"external_id"`
	URL        string    `db:"url" json:"url"`
	Title      string    `db:"title" json:"title"`
	Category   string    `db:"category" json:"category"`
	Brand      *string   `db:"brand" json:"brand,omitempty"`
	ImageURL   *string   `db:"image_url" json:"image_url,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// DailyMetric is an append-only daily snapshot, one row per product per
// calendar day.
type DailyMetric struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ProductID       uuid.UUID `db:"product_id" json:"product_id"`
	Date            time.Time `db:"date" json:"date"`
	Price           float64   `db:"price" json:"price"`
	OriginalPrice   *float64  `db:"original_price" json:"original_price,omitempty"`
	DiscountPercent *float64  `db:"discount_percent" json:"discount_percent,omitempty"`
	Rank            *int      `db:"rank" json:"rank,omitempty"`
	Reviews         int       `db:"reviews" json:"reviews"`
	Rating          float64   `db:"rating" json:"rating"`
	SellerCount     int       `db:"seller_count" json:"seller_count"`
	InStock         bool      `db:"in_stock" json:"in_stock"`
	DeliveryDays    *int      `db:"delivery_days" json:"delivery_days,omitempty"`
	BuyboxOwner     *string   `db:"buybox_owner" json:"buybox_owner,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Brand is unique per (platform, slug).
type Brand struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Platform  Platform  `db:"platform" json:"platform"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	Category  *string   `db:"category" json:"category,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BrandMetric is an append-only daily aggregate over a brand's products.
type BrandMetric struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	BrandID            uuid.UUID `db:"brand_id" json:"brand_id"`
	Date               time.Time `db:"date" json:"date"`
	ProductCount       int       `db:"product_count" json:"product_count"`
	AvgPrice           float64   `db:"avg_price" json:"avg_price"`
	AvgRating          float64   `db:"avg_rating" json:"avg_rating"`
	TotalReviews       int       `db:"total_reviews" json:"total_reviews"`
	ReviewVelocity     float64   `db:"review_velocity" json:"review_velocity"`
	AvgRank            *int      `db:"avg_rank" json:"avg_rank,omitempty"`
	RevenueEstimate    float64   `db:"revenue_estimate" json:"revenue_estimate"`
	MarketSharePercent float64   `db:"market_share_percent" json:"market_share_percent"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// AlertType is the closed set of subscription trigger kinds.
type AlertType string

const (
	AlertPriceDrop   AlertType = "price_drop"
	AlertStockout    AlertType = "stockout"
	AlertTrendChange AlertType = "trend_change"
	AlertArbitrage   AlertType = "arbitrage"
	AlertRankChange  AlertType = "rank_change"
)

// Valid reports whether t names a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertPriceDrop, AlertStockout, AlertTrendChange, AlertArbitrage, AlertRankChange:
		return true
	}
	return false
}

// ChannelKind is the closed set of notification channels.
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelQueue   ChannelKind = "queue"
	ChannelEmail   ChannelKind = "email"
)

// Valid reports whether k names a known channel.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelWebhook, ChannelQueue, ChannelEmail:
		return true
	}
	return false
}

// AlertSubscription describes what a user wants to be told about.
// Exactly one of ProductID / BrandID / Category scopes the subscription.
type AlertSubscription struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	UserID           string      `db:"user_id" json:"user_id"`
	AlertType        AlertType   `db:"alert_type" json:"alert_type"`
	ProductID        *uuid.UUID  `db:"product_id" json:"product_id,omitempty"`
	BrandID          *uuid.UUID  `db:"brand_id" json:"brand_id,omitempty"`
	Category         *string     `db:"category" json:"category,omitempty"`
	Platform         Platform    `db:"platform" json:"platform"`
	ThresholdValue   *float64    `db:"threshold_value" json:"threshold_value,omitempty"`
	ThresholdPercent *float64    `db:"threshold_percent" json:"threshold_percent,omitempty"`
	Channel          ChannelKind `db:"notification_channel" json:"notification_channel"`
	WebhookURL       *string     `db:"webhook_url" json:"webhook_url,omitempty"`
	IsActive         bool        `db:"is_active" json:"is_active"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// AlertEvent is an append-only record of a fired trigger. EventData is an
// opaque JSON payload; Previous/CurrentValue are display strings.
type AlertEvent struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SubscriptionID uuid.UUID `db:"subscription_id" json:"subscription_id"`
	EventType      string    `db:"event_type" json:"event_type"`
	EventData      []byte    `db:"event_data" json:"event_data"`
	PreviousValue  *string   `db:"previous_value" json:"previous_value,omitempty"`
	CurrentValue   *string   `db:"current_value" json:"current_value,omitempty"`
	TriggeredAt    time.Time `db:"triggered_at" json:"triggered_at"`
	Acknowledged   bool      `db:"acknowledged" json:"acknowledged"`
}
