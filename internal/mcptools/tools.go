// Package mcptools exposes the tool-shaped operations an MCP adaptor
// calls: URL resolution against the extractor registry and access to the
// in-process pending-alert queue. Transport and protocol framing live in
// the adaptor, not here.
package mcptools

import (
	"fmt"

	"github.com/commercesignal/commercesignal/internal/alerts"
	"github.com/commercesignal/commercesignal/internal/models"
	"github.com/commercesignal/commercesignal/internal/scrape/extractors"
)

// ProductRef is a resolved product URL.
type ProductRef struct {
	Platform     models.Platform `json:"platform"`
	ExternalID   string          `json:"external_id"`
	CanonicalURL string          `json:"canonical_url"`
}

// Tools bundles the dependencies tool calls need.
type Tools struct {
	registry *extractors.Registry
	queue    *alerts.Queue
}

// New wires the tool set.
func New(registry *extractors.Registry, queue *alerts.Queue) *Tools {
	return &Tools{registry: registry, queue: queue}
}

// ResolveProduct maps a raw product URL to its platform, canonical ID and
// canonical product page URL.
func (t *Tools) ResolveProduct(rawURL string) (ProductRef, error) {
	ex, id, err := t.registry.Dispatch(rawURL)
	if err != nil {
		return ProductRef{}, fmt.Errorf("cannot resolve %s: %w", rawURL, err)
	}
	return ProductRef{
		Platform:     ex.Platform(),
		ExternalID:   id,
		CanonicalURL: ex.ProductURL(id),
	}, nil
}

// SupportedPlatforms lists every platform with an extractor.
func (t *Tools) SupportedPlatforms() []models.Platform {
	return models.AllPlatforms()
}

// PendingAlerts returns a user's queued notifications without consuming
// them.
func (t *Tools) PendingAlerts(userID string) []alerts.Payload {
	return t.queue.Pending(userID)
}

// ClearAlerts drains a user's queue and reports how many were dropped.
func (t *Tools) ClearAlerts(userID string) int {
	return t.queue.Clear(userID)
}

// AlertCount reports how many notifications are waiting for a user.
func (t *Tools) AlertCount(userID string) int {
	return t.queue.Count(userID)
}
