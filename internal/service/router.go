package service

import (
	"encoding/json"
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"chatsync/pkg/livechannel"
	"chatsync/pkg/livechannel/types"

	"github.com/sirupsen/logrus"
)

// ConversationRegistry resolves a conversation id to its live
// reconciliation state. Satisfied by Engine.
type ConversationRegistry interface {
	Lookup(conversationID string) (*Conversation, bool)
}

// IngestRouter funnels raw live-channel traffic into per-conversation
// reconciliation. Poll results and local echoes enter through the same
// conversations; the router's only job is classification and delivery,
// never deduplication, which belongs to the resolver behind the
// serialized apply step.
type IngestRouter struct {
	registry ConversationRegistry
	logger   *logrus.Logger

	// onConnected fires on the transition into the connected state,
	// after a fresh connect or a reconnect. The engine hooks the
	// resync sweep here.
	onConnected func()
}

func NewIngestRouter(registry ConversationRegistry, onConnected func(), logger *logrus.Logger) *IngestRouter {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestRouter{
		registry:    registry,
		logger:      logger,
		onConnected: onConnected,
	}
}

// HandleEnvelope is wired as the live channel's event callback.
func (r *IngestRouter) HandleEnvelope(env types.Envelope) {
	switch types.CanonicalEvent(env.Event) {
	case types.EventMessageAck:
		r.handleAck(env)
	case types.EventError:
		var payload types.ErrorPayload
		_ = json.Unmarshal(env.Payload, &payload)
		r.logger.WithFields(logrus.Fields{
			"code":    payload.Code,
			"message": payload.Message,
		}).Warn("Live channel error event")
	case types.EventHelloAck, types.EventPong:
		// Session plumbing, handled by the channel client.
	default:
		r.routeEvent(env)
	}
}

func (r *IngestRouter) handleAck(env types.Envelope) {
	var ack types.MessageAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		r.logger.WithError(err).Warn("Malformed message ack")
		return
	}
	if ack.Accepted {
		// Acceptance is not confirmation; the canonical message
		// arrives separately as message_new.
		return
	}
	convID := env.ConvID
	if convID == "" {
		convID = ack.ConversationID
	}
	conv, ok := r.registry.Lookup(convID)
	if !ok {
		return
	}
	conv.Fail(ack.CorrelationID, ack.Reason)
}

func (r *IngestRouter) routeEvent(env types.Envelope) {
	receivedAt := env.TS
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	evt := &models.ChannelEvent{
		SourceChannel: models.SourceLive,
		EventName:     env.Event,
		Payload:       env.Payload,
		ReceivedAt:    receivedAt,
	}

	cand, err := NormalizeEvent(evt)
	if err != nil {
		r.logger.WithError(err).WithField("event", env.Event).
			Warn("Dropping unroutable live event")
		return
	}

	convID := env.ConvID
	if convID == "" && cand.Message != nil {
		convID = cand.Message.ConversationID
	}
	if convID == "" {
		convID = conversationIDFromPayload(env.Payload)
	}

	conv, ok := r.registry.Lookup(convID)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"conversation_id": convID,
			"event":           env.Event,
		}).Debug("Event for conversation that is not open")
		return
	}
	if err := conv.ApplyInbound(cand); err != nil {
		r.logger.WithError(err).WithField("conversation_id", convID).
			Warn("Failed to apply live event")
		return
	}
	if cand.Message != nil && r.logger.IsLevelEnabled(logrus.DebugLevel) {
		r.logger.WithFields(logrus.Fields{
			"conversation_id": convID,
			"content":         previewContent(cand.Message.Content),
		}).Debug("Applied live message")
	}
}

// HandleStateChange is wired as the live channel's state callback.
func (r *IngestRouter) HandleStateChange(state livechannel.ConnectionState) {
	metrics.SetGauge(metrics.MetricConnectionState, float64(state))
	if state == livechannel.StateConnected && r.onConnected != nil {
		// Anything pushed while disconnected is gone; only a resync
		// closes the gap.
		r.onConnected()
	}
}

func conversationIDFromPayload(payload json.RawMessage) string {
	var probe struct {
		ConversationID string `json:"conversationId"`
		SnakeConvID    string `json:"conversation_id"`
		ChannelID      string `json:"channelId"`
	}
	_ = json.Unmarshal(payload, &probe)
	return firstNonEmpty(probe.ConversationID, probe.SnakeConvID, probe.ChannelID)
}
