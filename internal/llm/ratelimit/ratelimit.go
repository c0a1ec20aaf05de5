// Package ratelimit bounds the calls made to a triage.Provider.
//
// Two limits apply: a token bucket caps the call rate and a weighted
// semaphore caps calls in flight. Both waits honour ctx, so a stage timeout
// covers time spent queued as well as time spent generating.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/traceback/internal/triage"
)

// Provider wraps another triage.Provider with rate and concurrency limits.
type Provider struct {
	next    triage.Provider
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// New wraps next. perSecond <= 0 disables the rate limit, maxInFlight <= 0
// disables the concurrency limit. burst is clamped to at least 1.
func New(next triage.Provider, perSecond float64, burst, maxInFlight int) *Provider {
	p := &Provider{next: next}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxInFlight > 0 {
		p.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return p
}

// Send waits for a rate token and a concurrency slot, then delegates.
func (p *Provider) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("concurrency limit: %w", err)
		}
		defer p.sem.Release(1)
	}
	return p.next.Send(ctx, req)
}
