package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// SnapshotDB is the persistence surface the scheduler needs. Satisfied
// by database.Database.
type SnapshotDB interface {
	SaveSnapshot(ctx context.Context, deviceUserID string, snapshot *models.ConversationSnapshot) error
	CleanupIdleSnapshots(ctx context.Context, idleMinutes int) error
}

// SnapshotScheduler periodically persists every open conversation so a
// cold start can render instantly from the last snapshot, and prunes
// snapshots for conversations that have gone idle.
type SnapshotScheduler struct {
	db           SnapshotDB
	deviceUserID string
	interval     time.Duration
	idleMinutes  int
	logger       *logrus.Logger

	conversations func() []*Conversation

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSnapshotScheduler(db SnapshotDB, deviceUserID string, interval time.Duration, idleMinutes int, conversations func() []*Conversation, logger *logrus.Logger) *SnapshotScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SnapshotScheduler{
		db:            db,
		deviceUserID:  deviceUserID,
		interval:      interval,
		idleMinutes:   idleMinutes,
		logger:        logger,
		conversations: conversations,
	}
}

func (s *SnapshotScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	s.logger.WithField("interval", s.interval.String()).Info("Snapshot scheduler started")
}

func (s *SnapshotScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

func (s *SnapshotScheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.PersistAll(ctx)
			s.cleanup(ctx)
		}
	}
}

// PersistAll saves a snapshot for every open conversation. Also called
// directly on shutdown so the final state is not lost to the interval.
func (s *SnapshotScheduler) PersistAll(ctx context.Context) {
	for _, conv := range s.conversations() {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.SaveSnapshot(ctx, s.deviceUserID, conv.Snapshot()); err != nil {
			s.logger.WithError(err).WithField("conversation_id", conv.ID()).
				Error("Failed to persist conversation snapshot")
		}
	}
}

func (s *SnapshotScheduler) cleanup(ctx context.Context) {
	if s.idleMinutes <= 0 {
		return
	}
	if err := s.db.CleanupIdleSnapshots(ctx, s.idleMinutes); err != nil {
		s.logger.WithError(err).Error("Failed to clean up idle snapshots")
	}
}
