package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rawMsg(id, sender, content string, at time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"senderId":%q,"content":%q,"createdAt":%q}`,
		id, sender, content, at.Format(time.RFC3339Nano)))
}

func TestResyncMergesOnlyUnseenMessages(t *testing.T) {
	conv := newTestConversation("conv1")
	base := time.Now().UTC().Add(-time.Minute)

	// B is already present from a live push.
	require.NoError(t, conv.ApplyInbound(messageCandidate(&models.Message{
		ID: "B", SenderID: "alice", Content: "b", CreatedAt: base.Add(10 * time.Second),
	}, models.SourceLive)))

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return([]json.RawMessage{
			rawMsg("A", "alice", "a", base),
			rawMsg("B", "alice", "b", base.Add(10*time.Second)),
			rawMsg("C", "bob", "c", base.Add(20*time.Second)),
		}, nil)

	coord := NewResyncCoordinator(client, 30*time.Second, 100, testLogger())
	require.NoError(t, coord.Resync(context.Background(), conv))

	rendered := conv.Rendered()
	require.Len(t, rendered, 3)
	assert.Equal(t, "A", rendered[0].ID)
	assert.Equal(t, "B", rendered[1].ID)
	assert.Equal(t, "C", rendered[2].ID)
	assert.False(t, conv.LastSyncAt().IsZero())
	client.AssertExpectations(t)
}

func TestResyncIsIdempotent(t *testing.T) {
	conv := newTestConversation("conv1")
	base := time.Now().UTC().Add(-time.Minute)

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return([]json.RawMessage{rawMsg("A", "alice", "a", base)}, nil)

	coord := NewResyncCoordinator(client, 30*time.Second, 100, testLogger())
	require.NoError(t, coord.Resync(context.Background(), conv))
	require.NoError(t, coord.Resync(context.Background(), conv))

	assert.Len(t, conv.Rendered(), 1)
}

func TestResyncPollWindowOverlapsLastKnown(t *testing.T) {
	conv := newTestConversation("conv1")
	lastAt := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, conv.ApplyInbound(messageCandidate(&models.Message{
		ID: "m1", SenderID: "alice", Content: "hi", CreatedAt: lastAt,
	}, models.SourceLive)))

	overlap := 30 * time.Second
	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1",
		mock.MatchedBy(func(since time.Time) bool {
			return since.Equal(lastAt.Add(-overlap))
		}), 100).
		Return([]json.RawMessage{}, nil)

	coord := NewResyncCoordinator(client, overlap, 100, testLogger())
	require.NoError(t, coord.Resync(context.Background(), conv))
	client.AssertExpectations(t)
}

func TestResyncFailureLeavesCursorUntouched(t *testing.T) {
	conv := newTestConversation("conv1")

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return(nil, errors.New(errors.ErrCodeHistoryAPI, "boom"))

	coord := NewResyncCoordinator(client, 30*time.Second, 100, testLogger())
	err := coord.Resync(context.Background(), conv)
	require.Error(t, err)
	assert.True(t, conv.LastSyncAt().IsZero())
}

func TestResyncRetriesTransientFailures(t *testing.T) {
	conv := newTestConversation("conv1")
	base := time.Now().UTC().Add(-time.Minute)

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return(nil, errors.WrapRetryable(nil, errors.ErrCodeTransientNetwork, "flaky")).Once()
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return([]json.RawMessage{rawMsg("A", "alice", "a", base)}, nil).Once()

	coord := NewResyncCoordinator(client, 30*time.Second, 100, testLogger())
	require.NoError(t, coord.Resync(context.Background(), conv))
	assert.Len(t, conv.Rendered(), 1)
	client.AssertExpectations(t)
}

func TestResyncSkipsMalformedRecords(t *testing.T) {
	conv := newTestConversation("conv1")
	base := time.Now().UTC()

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return([]json.RawMessage{
			json.RawMessage(`not json at all`),
			rawMsg("A", "alice", "a", base),
		}, nil)

	coord := NewResyncCoordinator(client, 30*time.Second, 100, testLogger())
	require.NoError(t, coord.Resync(context.Background(), conv))
	assert.Len(t, conv.Rendered(), 1)
}
