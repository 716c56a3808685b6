package scrape

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/models"
)

// blockSentinels are page fragments that only appear on bot-challenge
// interstitials. Their presence means the fetch failed even though the
// HTTP exchange succeeded.
var blockSentinels = []string{
	"Enter the characters you see below",
	"Sorry, we just need to make sure you're not a robot",
	"Type the characters you see in this image",
}

// Blocked reports whether html is a challenge page rather than content.
func Blocked(html string) bool {
	for _, s := range blockSentinels {
		if strings.Contains(html, s) {
			return true
		}
	}
	return false
}

// PageRenderer is what Fetcher needs from the browser layer.
type PageRenderer interface {
	Render(ctx context.Context, url string) (*RenderResult, error)
}

// Fetcher ties the gate and renderer together into a single retrying
// fetch operation. Every attempt charges the platform's circuit breaker
// with its outcome; block pages and empty bodies count as failures.
type Fetcher struct {
	gate       *Gate
	renderer   PageRenderer
	maxRetries int
}

// NewFetcher wires a gate and renderer into a Fetcher. maxRetries is the
// number of attempts beyond the first.
func NewFetcher(gate *Gate, renderer PageRenderer, maxRetries int) *Fetcher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Fetcher{gate: gate, renderer: renderer, maxRetries: maxRetries}
}

// ValidateFunc inspects a rendered document before the attempt is declared
// successful. Returning an error marks the attempt failed and retries;
// extractors use this to run their parse inside the retry loop so that a
// selector drift or stripped page charges the breaker like any other miss.
type ValidateFunc func(res *RenderResult) error

// Fetch renders url with retries and exponential backoff. Backoff before
// attempt n sleeps 2^n seconds plus up to one second of jitter. An open
// circuit aborts immediately without consuming an attempt.
func (f *Fetcher) Fetch(ctx context.Context, platform models.Platform, url string, validate ...ValidateFunc) (*RenderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt)))*time.Second +
				time.Duration(rand.Float64()*float64(time.Second))
			log.Debug().
				Str("platform", string(platform)).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying fetch")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ticket, err := f.gate.Acquire(ctx, platform)
		if err != nil {
			// Open breaker is terminal for this cycle; waiting out the
			// reset window inside a retry loop would stall the caller.
			return nil, err
		}

		res, err := f.renderer.Render(ctx, url)
		if err != nil {
			ticket.Failure()
			lastErr = err
			continue
		}
		if Blocked(res.HTML) {
			ticket.Failure()
			lastErr = fmt.Errorf("%w: %s", ErrBlockDetected, url)
			continue
		}
		if strings.TrimSpace(res.HTML) == "" {
			ticket.Failure()
			lastErr = fmt.Errorf("%w: empty document from %s", ErrExtraction, url)
			continue
		}

		if err := runValidators(res, validate); err != nil {
			ticket.Failure()
			lastErr = err
			continue
		}

		ticket.Success()
		return res, nil
	}
	if lastErr == nil {
		lastErr = errors.New("fetch failed")
	}
	return nil, lastErr
}

func runValidators(res *RenderResult, validate []ValidateFunc) error {
	for _, v := range validate {
		if err := v(res); err != nil {
			return err
		}
	}
	return nil
}
