package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
)

const (
	webhookTimeout  = 10 * time.Second
	webhookAttempts = 3
)

// Payload is the fixed envelope every channel delivers.
type Payload struct {
	SubscriptionID string         `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data"`
	Timestamp      string         `json:"timestamp"`
}

// Channel delivers one alert event to a subscriber.
type Channel interface {
	Send(ctx context.Context, sub models.AlertSubscription, event models.AlertEvent, message string) error
}

// Channels resolves a ChannelKind to its delivery implementation. All
// shared state lives in the channel values; there are no package singletons.
type Channels struct {
	webhook Channel
	queue   *Queue
	email   Channel
}

// NewChannels wires the three delivery channels around a shared queue.
func NewChannels(queue *Queue) *Channels {
	return &Channels{
		webhook: &webhookChannel{client: &http.Client{Timeout: webhookTimeout}},
		queue:   queue,
		email:   emailChannel{},
	}
}

// Resolve returns the channel for a kind, or an error for unknown kinds.
func (c *Channels) Resolve(kind models.ChannelKind) (Channel, error) {
	switch kind {
	case models.ChannelWebhook:
		return c.webhook, nil
	case models.ChannelQueue:
		return c.queue, nil
	case models.ChannelEmail:
		return c.email, nil
	}
	return nil, fmt.Errorf("unknown notification channel %q", kind)
}

// Queue exposes the in-memory queue for the tool layer.
func (c *Channels) Queue() *Queue {
	return c.queue
}

func buildPayload(sub models.AlertSubscription, event models.AlertEvent, message string) Payload {
	data := map[string]any{}
	if len(event.EventData) > 0 {
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("event data is not valid json")
		}
	}
	return Payload{
		SubscriptionID: sub.ID.String(),
		EventID:        event.ID.String(),
		EventType:      event.EventType,
		Message:        message,
		Data:           data,
		Timestamp:      event.TriggeredAt.UTC().Format(time.RFC3339),
	}
}

// webhookChannel POSTs the envelope to the subscription's URL. Network
// errors are retried; a non-2xx response is not.
type webhookChannel struct {
	client *http.Client
}

func (w *webhookChannel) Send(ctx context.Context, sub models.AlertSubscription, event models.AlertEvent, message string) error {
	if sub.WebhookURL == nil || *sub.WebhookURL == "" {
		return fmt.Errorf("subscription %s has no webhook url", sub.ID)
	}

	body, err := json.Marshal(buildPayload(sub, event, message))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, *sub.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Str("url", *sub.WebhookURL).Msg("webhook request failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", webhookAttempts, lastErr)
}

// emailChannel is a placeholder for a future provider integration.
type emailChannel struct{}

func (emailChannel) Send(_ context.Context, _ models.AlertSubscription, _ models.AlertEvent, message string) error {
	log.Info().Str("message", message).Msg("email notification (placeholder)")
	return nil
}
