package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/session"

	"chatsync/pkg/history"
	"chatsync/pkg/livechannel"
	"chatsync/pkg/livechannel/types"
	"chatsync/pkg/media"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the engine needs. Satisfied by
// database.Database.
type Store interface {
	SnapshotDB
	TombstoneDB
	GetSnapshot(ctx context.Context, deviceUserID, conversationID string) (*models.ConversationSnapshot, error)
	DeleteSnapshot(ctx context.Context, deviceUserID, conversationID string) error
}

// EngineDeps carries the engine's injected collaborators.
type EngineDeps struct {
	Session  session.Provider
	Store    Store
	History  history.Client
	Uploader media.Uploader
	Logger   *logrus.Logger
}

// Engine is the client-side synchronization core. It owns the open
// conversations, the live channel, the fallback poller, the outbound
// pipeline, and the background maintenance loops.
type Engine struct {
	config  *models.Config
	logger  *logrus.Logger
	session session.Provider
	store   Store
	history history.Client

	router    *IngestRouter
	live      *livechannel.Client
	sender    *Sender
	resync    *ResyncCoordinator
	poller    *Poller
	monitor   *ConfirmationMonitor
	scheduler *SnapshotScheduler

	mu            sync.RWMutex
	conversations map[string]*Conversation
	lastTyping    map[string]time.Time
}

func NewEngine(config *models.Config, deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{
		config:        config,
		logger:        logger,
		session:       deps.Session,
		store:         deps.Store,
		history:       deps.History,
		conversations: make(map[string]*Conversation),
		lastTyping:    make(map[string]time.Time),
	}

	e.router = NewIngestRouter(e, e.resyncAll, logger)
	e.live = livechannel.NewClient(livechannel.Options{
		URL:               config.LiveChannel.URL,
		Session:           deps.Session,
		ReconnectBase:     time.Duration(config.LiveChannel.ReconnectBaseDelayMs) * time.Millisecond,
		ReconnectMax:      time.Duration(config.LiveChannel.ReconnectMaxDelayMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(config.LiveChannel.HeartbeatIntervalSec) * time.Second,
		HeartbeatGrace:    time.Duration(config.LiveChannel.HeartbeatGraceSec) * time.Second,
		Logger:            logger,
		OnEvent:           e.router.HandleEnvelope,
		OnStateChange:     e.router.HandleStateChange,
	})
	e.sender = NewSender(e.live, deps.History, deps.Uploader, config.Send, logger)
	e.resync = NewResyncCoordinator(
		deps.History,
		time.Duration(config.Sync.ResyncOverlapSec)*time.Second,
		config.API.PollWindowSize,
		logger,
	)
	e.poller = NewPoller(
		e.resync,
		time.Duration(config.API.PollIntervalSec)*time.Second,
		e.Conversations,
		func() bool { return e.live.State() == livechannel.StateConnected },
		logger,
	)
	e.monitor = NewConfirmationMonitor(
		time.Duration(config.Send.ConfirmTimeoutSec)*time.Second,
		5*time.Second,
		e.Conversations,
		logger,
	)
	e.scheduler = NewSnapshotScheduler(
		deps.Store,
		deps.Session.CurrentUserID(),
		time.Duration(config.Sync.SnapshotIntervalSec)*time.Second,
		config.Sync.ConversationIdleMin,
		e.Conversations,
		logger,
	)

	return e
}

// Run starts the live channel and the background loops and blocks
// until the context is canceled. Final snapshots are persisted on the
// way out.
func (e *Engine) Run(ctx context.Context) error {
	e.poller.Start(ctx)
	e.monitor.Start(ctx)
	e.scheduler.Start(ctx)
	go e.sweepPresence(ctx)

	e.live.Run(ctx)

	e.poller.Stop()
	e.monitor.Stop()
	e.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	e.scheduler.PersistAll(shutdownCtx)
	return nil
}

// ConnectionState exposes the live channel state; Degraded is the
// client's stale-data indicator.
func (e *Engine) ConnectionState() livechannel.ConnectionState {
	return e.live.State()
}

// Lookup implements ConversationRegistry for the ingest router.
func (e *Engine) Lookup(conversationID string) (*Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conv, ok := e.conversations[conversationID]
	return conv, ok
}

// Conversations returns the currently open conversations.
func (e *Engine) Conversations() []*Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Conversation, 0, len(e.conversations))
	for _, conv := range e.conversations {
		out = append(out, conv)
	}
	return out
}

// OpenConversation brings a conversation online: restore the persisted
// snapshot and hidden set, subscribe on the live channel, then resync
// to close whatever gap accumulated while it was closed. Opening an
// already-open conversation returns the existing state.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, errors.NewValidationError("conversationId", "must not be empty")
	}

	e.mu.Lock()
	if conv, ok := e.conversations[conversationID]; ok {
		e.mu.Unlock()
		return conv, nil
	}

	deviceUserID := e.session.CurrentUserID()
	// Each conversation gets its own resolver; the recency cache is
	// only ever touched under that conversation's apply mutex.
	resolver := NewResolver(
		time.Duration(e.config.Sync.FingerprintWindowSec)*time.Second,
		e.config.Sync.RecencyCacheSize,
	)
	tombstones := NewTombstoneStore(deviceUserID, conversationID, e.store, e.logger)
	presence := NewPresenceTracker(time.Duration(e.config.Sync.TypingTTLSec) * time.Second)
	conv := NewConversation(conversationID, deviceUserID, resolver, tombstones, presence, e.logger)
	e.conversations[conversationID] = conv
	e.mu.Unlock()

	if err := tombstones.LoadHidden(ctx); err != nil {
		e.logger.WithError(err).WithField("conversation_id", conversationID).
			Warn("Continuing without persisted hidden set")
	}
	if snapshot, err := e.store.GetSnapshot(ctx, deviceUserID, conversationID); err != nil {
		e.logger.WithError(err).WithField("conversation_id", conversationID).
			Warn("Continuing without persisted snapshot")
	} else if snapshot != nil {
		conv.Restore(snapshot)
	}

	if err := e.live.Subscribe(ctx, conversationID); err != nil {
		// Subscription intent is recorded; the client replays it on
		// the next connect.
		e.logger.WithError(err).WithField("conversation_id", conversationID).
			Debug("Live subscribe deferred until reconnect")
	}

	if err := e.resync.Resync(ctx, conv); err != nil {
		// The snapshot already renders; the poller or the next
		// reconnect closes the gap.
		e.logger.WithError(err).WithField("conversation_id", conversationID).
			Warn("Initial resync failed")
	}

	return conv, nil
}

// CloseConversation persists the final snapshot and releases the
// conversation.
func (e *Engine) CloseConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	conv, ok := e.conversations[conversationID]
	if ok {
		delete(e.conversations, conversationID)
		delete(e.lastTyping, conversationID)
	}
	e.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("conversation", conversationID)
	}

	e.live.Unsubscribe(conversationID)
	if err := e.store.SaveSnapshot(ctx, e.session.CurrentUserID(), conv.Snapshot()); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to persist final snapshot")
	}
	return nil
}

// Send pushes a text draft through the outbound pipeline.
func (e *Engine) Send(ctx context.Context, conversationID string, draft *models.Draft) (string, error) {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return "", errors.NewNotFoundError("conversation", conversationID)
	}
	draft.ConversationID = conversationID
	return e.sender.Send(ctx, conv, draft)
}

// SendAttachment uploads the payload and sends a message referencing it.
func (e *Engine) SendAttachment(ctx context.Context, conversationID string, draft *models.Draft, data []byte, filename string) (string, error) {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return "", errors.NewNotFoundError("conversation", conversationID)
	}
	draft.ConversationID = conversationID
	return e.sender.SendAttachment(ctx, conv, draft, data, filename)
}

// RetrySend re-attempts a failed optimistic send.
func (e *Engine) RetrySend(ctx context.Context, conversationID, correlationID string) error {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return errors.NewNotFoundError("conversation", conversationID)
	}
	return e.sender.Retry(ctx, conv, correlationID)
}

// HideMessage applies a device-local hide. Nothing leaves the device.
func (e *Engine) HideMessage(ctx context.Context, conversationID, messageID string) error {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return errors.NewNotFoundError("conversation", conversationID)
	}
	return conv.Retract(ctx, messageID, models.ScopeLocalHide, e.session.CurrentUserID())
}

// UnhideMessage reverses a device-local hide.
func (e *Engine) UnhideMessage(ctx context.Context, conversationID, messageID string) error {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return errors.NewNotFoundError("conversation", conversationID)
	}
	return conv.Tombstones().Unhide(ctx, messageID)
}

// RetractMessage performs a global retraction: the message is blanked
// locally right away and the deletion is pushed to the server, which
// rebroadcasts it to every member. The server call is idempotent, so a
// retried retraction of an already-deleted message succeeds.
func (e *Engine) RetractMessage(ctx context.Context, conversationID, messageID string) error {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return errors.NewNotFoundError("conversation", conversationID)
	}

	actorID := e.session.CurrentUserID()
	if err := conv.Retract(ctx, messageID, models.ScopeGlobalRetract, actorID); err != nil {
		return err
	}
	if err := e.history.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return errors.Wrap(err, errors.ErrCodeHistoryAPI, "retraction not delivered to server")
	}
	return nil
}

// TypingStarted emits a typing signal for the local user, throttled so
// continuous keystrokes do not flood the channel.
func (e *Engine) TypingStarted(ctx context.Context, conversationID string) {
	throttle := time.Duration(constants.DefaultTypingThrottleMs) * time.Millisecond

	e.mu.Lock()
	if last, ok := e.lastTyping[conversationID]; ok && time.Since(last) < throttle {
		e.mu.Unlock()
		return
	}
	e.lastTyping[conversationID] = time.Now()
	e.mu.Unlock()

	e.emitTyping(ctx, conversationID, types.EventTypingStart)
}

// TypingStopped emits a stop signal immediately, bypassing the throttle.
func (e *Engine) TypingStopped(ctx context.Context, conversationID string) {
	e.mu.Lock()
	delete(e.lastTyping, conversationID)
	e.mu.Unlock()

	e.emitTyping(ctx, conversationID, types.EventTypingStop)
}

func (e *Engine) emitTyping(ctx context.Context, conversationID, event string) {
	payload := types.TypingPayload{
		ConversationID: conversationID,
		UserID:         e.session.CurrentUserID(),
	}
	if err := e.live.Send(ctx, event, conversationID, payload); err != nil {
		// Presence is best effort; a missed signal just expires.
		e.logger.WithError(err).Debug("Typing signal not sent")
	}
}

// ActiveTypers returns the display names of users currently typing in
// the conversation.
func (e *Engine) ActiveTypers(conversationID string) []string {
	conv, ok := e.Lookup(conversationID)
	if !ok {
		return nil
	}
	return conv.Presence().ActiveTypers()
}

// resyncAll runs after every reconnect; each open conversation gets a
// gap-closing poll.
func (e *Engine) resyncAll() {
	metrics.IncrementCounter(metrics.MetricLiveReconnects, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for _, conv := range e.Conversations() {
			if err := e.resync.Resync(ctx, conv); err != nil {
				e.logger.WithError(err).WithField("conversation_id", conv.ID()).
					Warn("Post-reconnect resync failed")
			}
		}
	}()
}

func (e *Engine) sweepPresence(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(constants.DefaultPresenceSweepSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conv := range e.Conversations() {
				conv.Presence().Sweep()
			}
		}
	}
}
