package history

import (
	"context"
	"encoding/json"
	"time"

	"chatsync/pkg/circuitbreaker"
)

// BreakerClient wraps a Client with a circuit breaker so a flapping
// API stops consuming retry budget. An open breaker fails calls fast;
// callers see the failure through the usual transient-error path and
// the poller simply tries again next tick.
type BreakerClient struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerClient(inner Client, breaker *circuitbreaker.CircuitBreaker) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: breaker}
}

func (c *BreakerClient) PollMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.inner.PollMessages(ctx, conversationID, since, limit)
		return callErr
	})
	return out, err
}

func (c *BreakerClient) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	var out *SendResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.inner.SendMessage(ctx, req)
		return callErr
	})
	return out, err
}

func (c *BreakerClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.DeleteMessage(ctx, conversationID, messageID)
	})
}
