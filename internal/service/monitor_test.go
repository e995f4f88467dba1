package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConfirmationMonitorFailsStalePending(t *testing.T) {
	conv := newTestConversation("conv1")
	_, err := conv.Submit(&models.Draft{Content: "never confirmed"})
	require.NoError(t, err)

	monitor := NewConfirmationMonitor(0, 10*time.Millisecond,
		func() []*Conversation { return []*Conversation{conv} }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()

	assert.Eventually(t, func() bool {
		rendered := conv.Rendered()
		return len(rendered) == 1 && rendered[0].Status == models.StatusFailed
	}, time.Second, 10*time.Millisecond)
}

func TestConfirmationMonitorLeavesFreshPendingAlone(t *testing.T) {
	conv := newTestConversation("conv1")
	_, err := conv.Submit(&models.Draft{Content: "in flight"})
	require.NoError(t, err)

	monitor := NewConfirmationMonitor(time.Hour, 10*time.Millisecond,
		func() []*Conversation { return []*Conversation{conv} }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	monitor.Stop()

	assert.Equal(t, models.StatusPending, conv.Rendered()[0].Status)
}

func TestPollerResyncsWhileLiveDown(t *testing.T) {
	conv := newTestConversation("conv1")

	client := &mockHistoryClient{}
	client.On("PollMessages", mock.Anything, "conv1", mock.Anything, 100).
		Return([]json.RawMessage{
			rawMsg("m1", "alice", "over http", time.Now().UTC()),
		}, nil)

	coord := NewResyncCoordinator(client, time.Second, 100, testLogger())
	poller := NewPoller(coord, 10*time.Millisecond,
		func() []*Conversation { return []*Conversation{conv} },
		func() bool { return false },
		testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assert.Eventually(t, func() bool {
		return len(conv.Rendered()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPollerStandsDownWhileLiveHealthy(t *testing.T) {
	conv := newTestConversation("conv1")

	client := &mockHistoryClient{}
	coord := NewResyncCoordinator(client, time.Second, 100, testLogger())
	poller := NewPoller(coord, 10*time.Millisecond,
		func() []*Conversation { return []*Conversation{conv} },
		func() bool { return true },
		testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	poller.Stop()

	client.AssertNotCalled(t, "PollMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSnapshotSchedulerPersistAll(t *testing.T) {
	conv := newTestConversation("conv1")
	require.NoError(t, conv.ApplyInbound(messageCandidate(&models.Message{
		ID: "m1", SenderID: "alice", Content: "persist me", CreatedAt: time.Now().UTC(),
	}, models.SourceLive)))

	store := newMemStore()
	scheduler := NewSnapshotScheduler(store, "device-user", time.Hour, 0,
		func() []*Conversation { return []*Conversation{conv} }, testLogger())

	scheduler.PersistAll(context.Background())

	snapshot, err := store.GetSnapshot(context.Background(), "device-user", "conv1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "m1", snapshot.LastKnownID)
	assert.Len(t, snapshot.Messages, 1)
}
