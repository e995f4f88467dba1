package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// storedMessage pairs a message with its insertion sequence, which
// breaks ordering ties between equal timestamps.
type storedMessage struct {
	msg *models.Message
	seq int64
}

// conversationState is the single mutable resource for a conversation.
// It is owned exclusively by the Conversation's serialized apply step
// and must never be mutated from outside it.
type conversationState struct {
	conversationID       string
	ordered              []*storedMessage
	byID                 map[string]*models.Message
	byCorrelation        map[string]*models.Message
	pendingByCorrelation map[string]*models.Message
	pendingMeta          map[string]*models.PendingSend
	lastKnownID          string
	lastKnownAt          time.Time
	lastSyncAt           time.Time
	nextSeq              int64
}

func newConversationState(conversationID string) *conversationState {
	return &conversationState{
		conversationID:       conversationID,
		byID:                 make(map[string]*models.Message),
		byCorrelation:        make(map[string]*models.Message),
		pendingByCorrelation: make(map[string]*models.Message),
		pendingMeta:          make(map[string]*models.PendingSend),
	}
}

func (s *conversationState) insert(msg *models.Message) {
	s.nextSeq++
	s.ordered = append(s.ordered, &storedMessage{msg: msg, seq: s.nextSeq})
	s.resort()
	if msg.ID != "" {
		s.byID[msg.ID] = msg
	}
	if msg.Status != models.StatusPending && msg.CorrelationID != "" {
		s.byCorrelation[msg.CorrelationID] = msg
	}
	if msg.Status != models.StatusPending && !msg.CreatedAt.Before(s.lastKnownAt) {
		s.lastKnownID = msg.ID
		s.lastKnownAt = msg.CreatedAt
	}
}

func (s *conversationState) resort() {
	sort.SliceStable(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i], s.ordered[j]
		if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.seq < b.seq
		}
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	})
}

// Conversation owns the reconciliation lifecycle for one conversation.
// All three ingest sources funnel into the same serialized apply step;
// the mutex is that serialization point, preventing two near-
// simultaneous candidates from both resolving against a stale snapshot.
type Conversation struct {
	id           string
	deviceUserID string
	logger       *logrus.Logger
	resolver     *Resolver
	tombstones   *TombstoneStore
	presence     *PresenceTracker

	mu    sync.Mutex
	state *conversationState
}

func NewConversation(id, deviceUserID string, resolver *Resolver, tombstones *TombstoneStore, presence *PresenceTracker, logger *logrus.Logger) *Conversation {
	if logger == nil {
		logger = logrus.New()
	}
	return &Conversation{
		id:           id,
		deviceUserID: deviceUserID,
		logger:       logger,
		resolver:     resolver,
		tombstones:   tombstones,
		presence:     presence,
		state:        newConversationState(id),
	}
}

func (c *Conversation) ID() string { return c.id }

// Tombstones exposes the conversation's deletion state.
func (c *Conversation) Tombstones() *TombstoneStore { return c.tombstones }

// Presence exposes the conversation's typing state.
func (c *Conversation) Presence() *PresenceTracker { return c.presence }

// Submit inserts an optimistic pending message at its chronological
// position using the client clock and returns the correlation id the
// transports will carry.
func (c *Conversation) Submit(draft *models.Draft) (string, error) {
	if draft != nil && draft.ConversationID == "" {
		// The conversation owns its id; callers do not repeat it.
		draft.ConversationID = c.id
	}
	if err := validation.ValidateDraft(draft); err != nil {
		return "", err
	}

	correlationID := uuid.NewString()
	now := time.Now().UTC()

	kind := draft.Kind
	if kind == "" {
		kind = models.KindText
	}

	msg := &models.Message{
		CorrelationID:  correlationID,
		ConversationID: c.id,
		SenderID:       c.deviceUserID,
		Content:        draft.Content,
		Kind:           kind,
		Attachment:     draft.Attachment,
		CreatedAt:      now,
		ReplyToID:      draft.ReplyToID,
		Status:         models.StatusPending,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.insert(msg)
	c.state.pendingByCorrelation[correlationID] = msg
	c.state.pendingMeta[correlationID] = &models.PendingSend{
		CorrelationID: correlationID,
		Draft:         *draft,
		Status:        models.StatusPending,
		SubmittedAt:   now,
	}
	c.resolver.Remember(msg)

	return correlationID, nil
}

// Confirm replaces the pending entry for correlationID with the
// canonical message, re-sorting by the authoritative timestamp. When no
// pending entry remains (a timeout already failed it, or it was never
// local) the canonical message degrades to a normal insert.
func (c *Conversation) Confirm(correlationID string, canonical *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmLocked(correlationID, canonical)
}

func (c *Conversation) confirmLocked(correlationID string, canonical *models.Message) {
	pending := c.state.pendingByCorrelation[correlationID]
	if pending == nil && correlationID != "" {
		// A send that timed out into failed can still be confirmed;
		// the entry is out of the pending index but still present.
		for _, stored := range c.state.ordered {
			if stored.msg.CorrelationID == correlationID && stored.msg.Status == models.StatusFailed {
				pending = stored.msg
				break
			}
		}
	}
	if pending == nil {
		c.insertCanonicalLocked(canonical)
		return
	}

	pending.ID = canonical.ID
	if !canonical.CreatedAt.IsZero() {
		pending.CreatedAt = canonical.CreatedAt
	}
	if canonical.Content != "" {
		pending.Content = canonical.Content
	}
	if canonical.Attachment != nil {
		pending.Attachment = canonical.Attachment
	}
	pending.Status = models.StatusSent

	delete(c.state.pendingByCorrelation, correlationID)
	delete(c.state.pendingMeta, correlationID)
	c.state.byCorrelation[correlationID] = pending
	if pending.ID != "" {
		c.state.byID[pending.ID] = pending
	}
	c.state.resort()
	if !pending.CreatedAt.Before(c.state.lastKnownAt) {
		c.state.lastKnownID = pending.ID
		c.state.lastKnownAt = pending.CreatedAt
	}
	c.resolver.Remember(pending)
	metrics.IncrementCounter(metrics.MetricConfirms, 1)

	// A retraction may have arrived before the message it targets.
	if ts, ok := c.tombstones.TakeBufferedRetraction(pending.ID); ok {
		c.retractLocked(ts.MessageID)
	}
}

// Fail marks the pending entry as failed without removing it, so the
// user keeps a retry affordance. A confirmation landing later degrades
// to a fresh insert via Confirm.
func (c *Conversation) Fail(correlationID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.state.pendingByCorrelation[correlationID]
	if pending == nil {
		return
	}
	pending.Status = models.StatusFailed
	delete(c.state.pendingByCorrelation, correlationID)
	if meta := c.state.pendingMeta[correlationID]; meta != nil {
		meta.Status = models.StatusFailed
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": c.id,
		"reason":          reason,
	}).Warn("Optimistic send failed")
	metrics.IncrementCounter(metrics.MetricSendFailures, 1)
}

// ApplyInbound runs a normalized candidate through the resolver and
// applies the verdict. This is the single entry point for every source.
func (c *Conversation) ApplyInbound(cand *models.Candidate) error {
	start := time.Now()
	defer func() { metrics.RecordTimer(metrics.MetricApplyDuration, time.Since(start)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.IncrementCounter(metrics.MetricEventsIngested, 1)

	switch cand.Kind {
	case models.EventMessage:
		c.applyMessageLocked(cand.Message)
	case models.EventRetraction:
		c.applyRetractLocked(cand.TargetID, cand.ActorID)
	case models.EventReaction:
		c.applyReactionLocked(cand.TargetID, cand.ActorID, cand.Reaction)
	case models.EventTyping:
		c.presence.OnTyping(cand.ActorID, cand.DisplayName)
	case models.EventStoppedTyping:
		c.presence.OnStoppedTyping(cand.ActorID)
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown candidate kind")
	}
	return nil
}

func (c *Conversation) applyMessageLocked(msg *models.Message) {
	resolution := c.resolver.Resolve(msg, c.state)
	switch resolution.Kind {
	case ResolutionDuplicate:
		metrics.IncrementCounter(metrics.MetricDuplicates, 1)
	case ResolutionUpdatesPending:
		c.confirmLocked(resolution.CorrelationID, msg)
	case ResolutionNew:
		c.insertCanonicalLocked(msg)
	}
}

func (c *Conversation) insertCanonicalLocked(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = c.resolver.SynthesizeID(msg)
		if existing := c.state.byID[msg.ID]; existing != nil {
			metrics.IncrementCounter(metrics.MetricDuplicates, 1)
			return
		}
	}
	if msg.Status == "" || msg.Status == models.StatusPending {
		msg.Status = models.StatusSent
	}
	msg.ConversationID = c.id

	c.state.insert(msg)
	c.resolver.Remember(msg)
	metrics.IncrementCounter(metrics.MetricInserts, 1)

	if ts, ok := c.tombstones.TakeBufferedRetraction(msg.ID); ok {
		c.retractLocked(ts.MessageID)
	}
}

// Retract applies a tombstone. Global retraction mutates the message;
// local hiding only filters the rendered view.
func (c *Conversation) Retract(ctx context.Context, messageID string, scope models.TombstoneScope, actorID string) error {
	if scope == models.ScopeLocalHide {
		return c.tombstones.Hide(ctx, messageID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyRetractLocked(messageID, actorID)
	return nil
}

// applyRetractLocked applies a global retraction whether it came from
// the local API or the inbound event path. A retraction whose target
// has not arrived yet is buffered and replayed on insert, so delivery
// order between a message and its retraction never matters.
func (c *Conversation) applyRetractLocked(messageID, actorID string) {
	if c.state.byID[messageID] == nil {
		c.tombstones.BufferRetraction(models.Tombstone{
			MessageID: messageID,
			Scope:     models.ScopeGlobalRetract,
			ActorID:   actorID,
			AppliedAt: time.Now().UTC(),
		})
		return
	}
	c.retractLocked(messageID)
}

func (c *Conversation) retractLocked(messageID string) {
	msg := c.state.byID[messageID]
	if msg == nil || msg.Status == models.StatusRetracted {
		return // idempotent
	}
	msg.Status = models.StatusRetracted
	msg.Content = ""
	msg.Attachment = nil
	metrics.IncrementCounter(metrics.MetricRetractions, 1)
}

func (c *Conversation) applyReactionLocked(targetID, actorID, reaction string) {
	msg := c.state.byID[targetID]
	if msg == nil {
		return
	}
	if reaction == "" {
		delete(msg.Reactions, actorID)
		return
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string]string)
	}
	msg.Reactions[actorID] = reaction
}

// Rendered returns the chronologically ordered messages with locally
// hidden entries filtered out. Clones are returned; the underlying
// state stays engine-owned.
func (c *Conversation) Rendered() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.Message, 0, len(c.state.ordered))
	for _, stored := range c.state.ordered {
		if stored.msg.ID != "" && c.tombstones.IsHidden(stored.msg.ID) {
			continue
		}
		out = append(out, stored.msg.Clone())
	}
	return out
}

// Messages returns the full underlying sequence including hidden
// entries, cloned.
func (c *Conversation) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.Message, 0, len(c.state.ordered))
	for _, stored := range c.state.ordered {
		out = append(out, stored.msg.Clone())
	}
	return out
}

// MessageCount reports the size of the underlying store.
func (c *Conversation) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.ordered)
}

// LastKnown returns the resync cursor: the id and timestamp of the most
// recent confirmed message.
func (c *Conversation) LastKnown() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.lastKnownID, c.state.lastKnownAt
}

// MarkSynced records a successful resync completion time.
func (c *Conversation) MarkSynced(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.lastSyncAt = t
}

// LastSyncAt returns the time of the last successful resync.
func (c *Conversation) LastSyncAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.lastSyncAt
}

// PendingOlderThan returns correlation ids of optimistic sends that
// have waited longer than the deadline for confirmation.
func (c *Conversation) PendingOlderThan(deadline time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-deadline)
	var stale []string
	for id, meta := range c.state.pendingMeta {
		if meta.Status == models.StatusPending && meta.SubmittedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// RecordTransport notes which transport is carrying the current
// delivery attempt for an optimistic send.
func (c *Conversation) RecordTransport(correlationID, transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if meta := c.state.pendingMeta[correlationID]; meta != nil {
		meta.Transports = append(meta.Transports, transport)
	}
}

// PendingMeta returns a copy of the delivery record for an optimistic
// send that has not been confirmed yet.
func (c *Conversation) PendingMeta(correlationID string) (models.PendingSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := c.state.pendingMeta[correlationID]
	if meta == nil {
		return models.PendingSend{}, false
	}
	out := *meta
	out.Transports = append([]string(nil), meta.Transports...)
	return out, true
}

// RetryableDraft flips a failed send back to pending and returns its
// draft for redelivery. Returns false when the correlation id is
// unknown or the send is not in a failed state.
func (c *Conversation) RetryableDraft(correlationID string) (models.Draft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := c.state.pendingMeta[correlationID]
	if meta == nil || meta.Status != models.StatusFailed {
		return models.Draft{}, false
	}
	for _, stored := range c.state.ordered {
		if stored.msg.CorrelationID == correlationID {
			stored.msg.Status = models.StatusPending
			c.state.pendingByCorrelation[correlationID] = stored.msg
			break
		}
	}
	meta.Status = models.StatusPending
	meta.Attempts++
	meta.SubmittedAt = time.Now().UTC()
	return meta.Draft, true
}

// Snapshot serializes the conversation for persistence.
func (c *Conversation) Snapshot() *models.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]*models.Message, 0, len(c.state.ordered))
	for _, stored := range c.state.ordered {
		msgs = append(msgs, stored.msg.Clone())
	}
	return &models.ConversationSnapshot{
		ConversationID: c.id,
		Messages:       msgs,
		LastKnownID:    c.state.lastKnownID,
		LastSyncAt:     c.state.lastSyncAt,
	}
}

// Restore loads a persisted snapshot into an empty conversation, used
// on cold start before the first resync. Pending entries from a prior
// run are restored as failed; their sends did not survive the process.
func (c *Conversation) Restore(snapshot *models.ConversationSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range snapshot.Messages {
		m := msg.Clone()
		if m.Status == models.StatusPending {
			m.Status = models.StatusFailed
		}
		c.state.insert(m)
		c.resolver.Remember(m)
	}
	c.state.lastSyncAt = snapshot.LastSyncAt
	if snapshot.LastKnownID != "" {
		if m := c.state.byID[snapshot.LastKnownID]; m != nil {
			c.state.lastKnownID = m.ID
			c.state.lastKnownAt = m.CreatedAt
		}
	}
}
