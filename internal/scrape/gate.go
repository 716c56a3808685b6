package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Gate couples the process-wide rate limiter with per-platform circuit
// breakers. Every fetch acquires a ticket first and reports the outcome
// through it, which keeps breaker accounting honest even for callers that
// bypass the retry helper.
type Gate struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[models.Platform]*gobreaker.TwoStepCircuitBreaker

	failureThreshold uint32
	resetTimeout     time.Duration
}

// Ticket is a granted fetch slot. Exactly one of Success/Failure must be
// called when the fetch completes.
type Ticket struct {
	Platform models.Platform
	done     func(success bool)
}

// Success reports a successful fetch to the breaker.
func (t *Ticket) Success() { t.done(true) }

// Failure reports a failed fetch (including empty extraction) to the breaker.
func (t *Ticket) Failure() { t.done(false) }

// GateParams are the mode-gated substrate parameters.
type GateParams struct {
	RequestsPerMinute int
	FailureThreshold  int
	ResetTimeout      time.Duration
}

// NewGate builds a gate with one breaker per platform, created lazily.
func NewGate(p GateParams) *Gate {
	if p.RequestsPerMinute <= 0 {
		p.RequestsPerMinute = 5
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.ResetTimeout <= 0 {
		p.ResetTimeout = 300 * time.Second
	}
	return &Gate{
		limiter:          rate.NewLimiter(rate.Limit(float64(p.RequestsPerMinute)/60.0), 1),
		breakers:         make(map[models.Platform]*gobreaker.TwoStepCircuitBreaker),
		failureThreshold: uint32(p.FailureThreshold),
		resetTimeout:     p.ResetTimeout,
	}
}

// Acquire waits for a rate-limit slot and checks the platform breaker.
// It fails fast with ErrCircuitOpen while the breaker is open, before
// waiting on the limiter. The breaker slot is only taken once the limiter
// admits the request, so a cancelled wait never touches breaker counts.
func (g *Gate) Acquire(ctx context.Context, platform models.Platform) (*Ticket, error) {
	if g.Open(platform) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, platform)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	done, err := g.breaker(platform).Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, platform)
	}
	return &Ticket{Platform: platform, done: done}, nil
}

// Open reports whether the platform's breaker currently rejects requests.
func (g *Gate) Open(platform models.Platform) bool {
	return g.breaker(platform).State() == gobreaker.StateOpen
}

func (g *Gate) breaker(platform models.Platform) *gobreaker.TwoStepCircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[platform]; ok {
		return cb
	}

	threshold := g.failureThreshold
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        string(platform),
		MaxRequests: 1,
		Timeout:     g.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	g.breakers[platform] = cb
	return cb
}
