package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller is the fallback ingest path: while the live channel is not
// healthy it periodically resyncs every open conversation over HTTP,
// so the conversation keeps moving even with the socket down.
type Poller struct {
	resync   *ResyncCoordinator
	interval time.Duration
	logger   *logrus.Logger

	// conversations returns the currently open conversations.
	conversations func() []*Conversation
	// liveHealthy reports whether the live channel is connected; the
	// poller stands down while it is.
	liveHealthy func() bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(resync *ResyncCoordinator, interval time.Duration, conversations func() []*Conversation, liveHealthy func() bool, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		resync:        resync,
		interval:      interval,
		logger:        logger,
		conversations: conversations,
		liveHealthy:   liveHealthy,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(ctx)
	p.logger.WithField("interval", p.interval.String()).Info("Poll fallback started")
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.logger.Info("Poll fallback stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if p.liveHealthy() {
		return
	}
	for _, conv := range p.conversations() {
		if ctx.Err() != nil {
			return
		}
		if err := p.resync.Resync(ctx, conv); err != nil {
			if IsVerboseLogging(ctx) {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"conversation_id": conv.ID(),
					"interval":        p.interval.String(),
				}).Warn("Fallback poll failed, will retry next tick")
			} else {
				p.logger.WithField("conversation_id", conv.ID()).
					Debug("Fallback poll failed, will retry next tick")
			}
		}
	}
}
