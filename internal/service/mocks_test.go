package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatsync/internal/models"

	"chatsync/pkg/history"
	"chatsync/pkg/livechannel"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type mockHistoryClient struct {
	mock.Mock
}

func (m *mockHistoryClient) PollMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]json.RawMessage, error) {
	args := m.Called(ctx, conversationID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *mockHistoryClient) SendMessage(ctx context.Context, req *history.SendRequest) (*history.SendResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*history.SendResponse), args.Error(1)
}

func (m *mockHistoryClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

// fakeLive is a controllable LiveTransport.
type fakeLive struct {
	mu      sync.Mutex
	state   livechannel.ConnectionState
	sendErr error
	sends   []string // event names in order
}

func (f *fakeLive) Send(ctx context.Context, event, convID string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, event)
	return nil
}

func (f *fakeLive) State() livechannel.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.ConversationSnapshot
	hidden    map[string]map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[string]*models.ConversationSnapshot),
		hidden:    make(map[string]map[string]time.Time),
	}
}

func (s *memStore) SaveSnapshot(ctx context.Context, deviceUserID string, snapshot *models.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[deviceUserID+"/"+snapshot.ConversationID] = snapshot
	return nil
}

func (s *memStore) GetSnapshot(ctx context.Context, deviceUserID, conversationID string) (*models.ConversationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[deviceUserID+"/"+conversationID], nil
}

func (s *memStore) DeleteSnapshot(ctx context.Context, deviceUserID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, deviceUserID+"/"+conversationID)
	return nil
}

func (s *memStore) CleanupIdleSnapshots(ctx context.Context, idleMinutes int) error {
	return nil
}

func (s *memStore) HideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := deviceUserID + "/" + conversationID
	if s.hidden[key] == nil {
		s.hidden[key] = make(map[string]time.Time)
	}
	s.hidden[key][messageID] = time.Now()
	return nil
}

func (s *memStore) UnhideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hidden[deviceUserID+"/"+conversationID], messageID)
	return nil
}

func (s *memStore) GetHiddenMessages(ctx context.Context, deviceUserID, conversationID string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time)
	for id, at := range s.hidden[deviceUserID+"/"+conversationID] {
		out[id] = at
	}
	return out, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestConversation(id string) *Conversation {
	resolver := NewResolver(5*time.Second, 200)
	tombstones := NewTombstoneStore("device-user", id, nil, testLogger())
	presence := NewPresenceTracker(3 * time.Second)
	return NewConversation(id, "device-user", resolver, tombstones, presence, testLogger())
}
