package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ScrapedProduct is the normalized record an extractor emits for one page:
// the union of Product identity fields and the latest daily metric.
type ScrapedProduct struct {
	Platform   Platform `json:"platform"`
	ExternalID string   `json:"external_id"`
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	Brand      *string  `json:"brand,omitempty"`
	ImageURL   *string  `json:"image_url,omitempty"`

	Price           float64  `json:"price"`
	OriginalPrice   *float64 `json:"original_price,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
	Rank            *int     `json:"rank,omitempty"`
	Reviews         int      `json:"reviews"`
	Rating          float64  `json:"rating"`
	SellerCount     int      `json:"seller_count"`
	InStock         bool     `json:"in_stock"`
	DeliveryDays    *int     `json:"delivery_days,omitempty"`
	BuyboxOwner     *string  `json:"buybox_owner,omitempty"`
}

// Validate enforces the record invariants. Extractors call it before
// returning a record; a failure means the parse went wrong, not the page.
func (s *ScrapedProduct) Validate() error {
	if !s.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", s.Platform)
	}
	if s.ExternalID == "" {
		return fmt.Errorf("empty external id")
	}
	if s.Title == "" {
		return fmt.Errorf("empty title")
	}
	if s.Price <= 0 {
		return fmt.Errorf("missing or non-positive price %.2f", s.Price)
	}
	if s.OriginalPrice != nil && *s.OriginalPrice < s.Price {
		return fmt.Errorf("original price %.2f below price %.2f", *s.OriginalPrice, s.Price)
	}
	if s.OriginalPrice != nil && s.DiscountPercent != nil {
		want := (*s.OriginalPrice - s.Price) / *s.OriginalPrice * 100
		if math.Abs(want-*s.DiscountPercent) > 0.01 {
			return fmt.Errorf("discount %.2f%% inconsistent with prices", *s.DiscountPercent)
		}
	}
	if s.Rank != nil && *s.Rank <= 0 {
		return fmt.Errorf("non-positive rank %d", *s.Rank)
	}
	if s.Rating < 0 || s.Rating > 5 {
		return fmt.Errorf("rating %.2f out of range", s.Rating)
	}
	if s.Reviews < 0 {
		return fmt.Errorf("negative review count %d", s.Reviews)
	}
	if s.SellerCount < 1 {
		return fmt.Errorf("seller count %d below 1", s.SellerCount)
	}
	return nil
}

// Product converts the scraped identity fields into a Product row for
// upsert.
func (s *ScrapedProduct) Product() Product {
	return Product{
		Platform:   s.Platform,
		ExternalID: s.ExternalID,
		URL:        s.URL,
		Title:      s.Title,
		Category:   s.Category,
		Brand:      s.Brand,
		ImageURL:   s.ImageURL,
	}
}

// Metric converts the scraped snapshot into a DailyMetric for the given
// product on the given date.
func (s *ScrapedProduct) Metric(productID uuid.UUID, date time.Time) DailyMetric {
	return DailyMetric{
		ProductID:       productID,
		Date:            date,
		Price:           s.Price,
		OriginalPrice:   s.OriginalPrice,
		DiscountPercent: s.DiscountPercent,
		Rank:            s.Rank,
		Reviews:         s.Reviews,
		Rating:          s.Rating,
		SellerCount:     s.SellerCount,
		InStock:         s.InStock,
		DeliveryDays:    s.DeliveryDays,
		BuyboxOwner:     s.BuyboxOwner,
	}
}

// SetDiscount fills OriginalPrice and the derived DiscountPercent when the
// page shows a strike-through price above the selling price.
func (s *ScrapedProduct) SetDiscount(original float64) {
	if original <= s.Price || s.Price < 0 {
		return
	}
	pct := (original - s.Price) / original * 100
	s.OriginalPrice = &original
	s.DiscountPercent = &pct
}
