package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// TombstoneDB is the persistence surface the store needs. It is
// satisfied by database.Database.
type TombstoneDB interface {
	HideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error
	UnhideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error
	GetHiddenMessages(ctx context.Context, deviceUserID, conversationID string) (map[string]time.Time, error)
}

// TombstoneStore keeps the per-conversation deletion state: the
// device-local hidden set (persisted, survives restarts, never sent to
// the server) and global retractions buffered because their target has
// not arrived yet.
type TombstoneStore struct {
	deviceUserID   string
	conversationID string
	db             TombstoneDB
	logger         *logrus.Logger

	mu       sync.RWMutex
	hidden   map[string]time.Time
	buffered map[string]models.Tombstone
}

func NewTombstoneStore(deviceUserID, conversationID string, db TombstoneDB, logger *logrus.Logger) *TombstoneStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &TombstoneStore{
		deviceUserID:   deviceUserID,
		conversationID: conversationID,
		db:             db,
		logger:         logger,
		hidden:         make(map[string]time.Time),
		buffered:       make(map[string]models.Tombstone),
	}
}

// LoadHidden restores the persisted hidden set, called once when the
// conversation is opened.
func (s *TombstoneStore) LoadHidden(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	hidden, err := s.db.GetHiddenMessages(ctx, s.deviceUserID, s.conversationID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load hidden messages")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range hidden {
		s.hidden[id] = at
	}
	return nil
}

// Hide records a device-local hide. The message stays in the store and
// on the server; only rendering filters it. Idempotent.
func (s *TombstoneStore) Hide(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if _, ok := s.hidden[messageID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.hidden[messageID] = time.Now().UTC()
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.db.HideMessage(ctx, s.deviceUserID, s.conversationID, messageID); err != nil {
		s.logger.WithError(err).WithField("message_id", messageID).
			Error("Failed to persist hidden message")
		return err
	}
	return nil
}

// Unhide removes a device-local hide.
func (s *TombstoneStore) Unhide(ctx context.Context, messageID string) error {
	s.mu.Lock()
	delete(s.hidden, messageID)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.UnhideMessage(ctx, s.deviceUserID, s.conversationID, messageID)
}

// IsHidden reports whether the message is locally hidden.
func (s *TombstoneStore) IsHidden(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hidden[messageID]
	return ok
}

// HiddenCount reports the size of the hidden set.
func (s *TombstoneStore) HiddenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hidden)
}

// BufferRetraction stores a global retraction whose target message has
// not been ingested yet.
func (s *TombstoneStore) BufferRetraction(t models.Tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffered[t.MessageID]; ok {
		return
	}
	s.buffered[t.MessageID] = t
}

// TakeBufferedRetraction removes and returns a buffered retraction for
// the given message id, if one exists.
func (s *TombstoneStore) TakeBufferedRetraction(messageID string) (models.Tombstone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.buffered[messageID]
	if ok {
		delete(s.buffered, messageID)
	}
	return t, ok
}
