package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConfirmationMonitor watches optimistic sends that were handed to a
// transport but never confirmed. A send can be accepted by the live
// channel and then lost server-side; without this sweep the entry
// would sit in pending forever.
type ConfirmationMonitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	logger        *logrus.Logger

	conversations func() []*Conversation

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewConfirmationMonitor(timeout, checkInterval time.Duration, conversations func() []*Conversation, logger *logrus.Logger) *ConfirmationMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConfirmationMonitor{
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
		conversations: conversations,
	}
}

func (m *ConfirmationMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx)
}

func (m *ConfirmationMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}

func (m *ConfirmationMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *ConfirmationMonitor) sweep() {
	for _, conv := range m.conversations() {
		for _, correlationID := range conv.PendingOlderThan(m.timeout) {
			m.logger.WithFields(logrus.Fields{
				"conversation_id": conv.ID(),
				"timeout":         m.timeout.String(),
			}).Warn("Send confirmation timed out")
			conv.Fail(correlationID, "confirmation timeout")
		}
	}
}
