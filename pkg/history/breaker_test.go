package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatsync/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	pollErr error
	sendErr error
	calls   int
}

func (s *stubClient) PollMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]json.RawMessage, error) {
	s.calls++
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	return []json.RawMessage{json.RawMessage(`{"id":"m1"}`)}, nil
}

func (s *stubClient) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	s.calls++
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &SendResponse{Accepted: true, MessageID: "srv-1"}, nil
}

func (s *stubClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.calls++
	return nil
}

func newBreaker(maxFailures uint32) *circuitbreaker.CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return circuitbreaker.New("history-test", maxFailures, time.Minute, logger)
}

func TestBreakerClientPassesThrough(t *testing.T) {
	stub := &stubClient{}
	client := NewBreakerClient(stub, newBreaker(3))
	ctx := context.Background()

	msgs, err := client.PollMessages(ctx, "conv-1", time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	resp, err := client.SendMessage(ctx, &SendRequest{ConversationID: "conv-1", Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", resp.MessageID)

	assert.NoError(t, client.DeleteMessage(ctx, "conv-1", "m1"))
}

func TestBreakerClientFailsFastWhenOpen(t *testing.T) {
	stub := &stubClient{pollErr: errors.New("connection refused")}
	client := NewBreakerClient(stub, newBreaker(2))
	ctx := context.Background()

	_, err := client.PollMessages(ctx, "conv-1", time.Now(), 10)
	require.Error(t, err)
	_, err = client.PollMessages(ctx, "conv-1", time.Now(), 10)
	require.Error(t, err)
	assert.Equal(t, 2, stub.calls)

	// Breaker is open now; the inner client is not reached.
	_, err = client.PollMessages(ctx, "conv-1", time.Now(), 10)
	require.Error(t, err)
	assert.True(t, circuitbreaker.IsOpenError(err))
	assert.Equal(t, 2, stub.calls)
}

func TestBreakerSharedAcrossOperations(t *testing.T) {
	stub := &stubClient{sendErr: errors.New("connection refused")}
	client := NewBreakerClient(stub, newBreaker(2))
	ctx := context.Background()

	_, _ = client.SendMessage(ctx, &SendRequest{ConversationID: "conv-1", Content: "x"})
	_, _ = client.SendMessage(ctx, &SendRequest{ConversationID: "conv-1", Content: "x"})

	// Poll shares the breaker with send.
	_, err := client.PollMessages(ctx, "conv-1", time.Now(), 10)
	assert.True(t, circuitbreaker.IsOpenError(err))
}
