package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a shared, thread-safe rate limiter.
// Per §5 of the engine design, the model client -- not the engine -- owns
// rate limiting: many concurrent runs share one RateLimitedClient instance.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with a token-bucket limiter allowing
// ratePerSecond requests per second with the given burst.
func NewRateLimitedClient(inner Client, ratePerSecond float64, burst int) *RateLimitedClient {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Complete waits for a rate-limiter token before delegating to the wrapped
// client. Context cancellation while waiting returns immediately.
func (c *RateLimitedClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return c.inner.Complete(ctx, req)
}

// Stream waits for a rate-limiter token before delegating to the wrapped
// client.
func (c *RateLimitedClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Stream(ctx, req)
}
