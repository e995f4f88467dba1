package service

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/models"

	"chatsync/pkg/livechannel/types"
)

// wireMessage is the superset of field spellings observed across the
// live channel and the history API. Older backend builds emit different
// aliases for the same field; decoding accepts all of them and the
// first non-empty alias wins.
type wireMessage struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	MsgID     string `json:"message_id"`

	CorrelationID string `json:"correlationId"`
	ClientID      string `json:"clientId"`
	TempID        string `json:"tempId"`

	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	ConvID         string `json:"convId"`

	SenderID string `json:"senderId"`
	UserID   string `json:"userId"`
	From     string `json:"from"`
	Author   string `json:"author"`

	Content string `json:"content"`
	Text    string `json:"text"`
	Body    string `json:"body"`

	Kind string `json:"kind"`
	Type string `json:"type"`

	CreatedAt json.RawMessage `json:"createdAt"`
	Timestamp json.RawMessage `json:"timestamp"`
	TS        json.RawMessage `json:"ts"`
	SentAt    json.RawMessage `json:"sentAt"`

	ReplyToID string `json:"replyToId"`
	ReplyTo   string `json:"replyTo"`

	Attachment     *wireAttachment `json:"attachment"`
	AttachmentURL  string          `json:"attachmentUrl"`
	AttachmentName string          `json:"attachmentName"`
	AttachmentSize int64           `json:"attachmentSize"`

	Deleted   bool `json:"deleted"`
	Retracted bool `json:"retracted"`

	// Retraction and reaction targets.
	TargetID    string `json:"targetId"`
	Emoji       string `json:"emoji"`
	Reaction    string `json:"reaction"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
}

type wireAttachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseWireTime accepts the timestamp encodings seen on the wire:
// RFC3339 strings, unix seconds, and unix milliseconds.
func parseWireTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	s := strings.Trim(string(raw), `"`)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	// Millisecond epochs are 13 digits for contemporary dates.
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

func (w *wireMessage) createdAt(fallback time.Time) time.Time {
	for _, raw := range []json.RawMessage{w.CreatedAt, w.Timestamp, w.TS, w.SentAt} {
		if t, ok := parseWireTime(raw); ok {
			return t
		}
	}
	return fallback.UTC()
}

func (w *wireMessage) toMessage(receivedAt time.Time) *models.Message {
	msg := &models.Message{
		ID:             firstNonEmpty(w.ID, w.MessageID, w.MsgID),
		CorrelationID:  firstNonEmpty(w.CorrelationID, w.ClientID, w.TempID),
		ConversationID: firstNonEmpty(w.ConversationID, w.ChannelID, w.ConvID),
		SenderID:       firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author),
		Content:        firstNonEmpty(w.Content, w.Text, w.Body),
		Kind:           models.MessageKind(firstNonEmpty(w.Kind, w.Type)),
		CreatedAt:      w.createdAt(receivedAt),
		ReplyToID:      firstNonEmpty(w.ReplyToID, w.ReplyTo),
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	switch {
	case w.Attachment != nil && w.Attachment.URL != "":
		msg.Attachment = &models.Attachment{
			URL:  w.Attachment.URL,
			Name: w.Attachment.Name,
			Size: w.Attachment.Size,
		}
	case w.AttachmentURL != "":
		msg.Attachment = &models.Attachment{
			URL:  w.AttachmentURL,
			Name: w.AttachmentName,
			Size: w.AttachmentSize,
		}
	}
	return msg
}

// NormalizeMessage decodes one raw message object, as returned by the
// history API, into a reconciliation candidate. Records flagged as
// deleted come back as retraction candidates so a resync also catches
// retractions that happened during an outage.
func NormalizeMessage(raw json.RawMessage, receivedAt time.Time) (*models.Candidate, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to decode message payload")
	}

	cand := &models.Candidate{
		SourceChannel: models.SourcePoll,
		ReceivedAt:    receivedAt,
	}
	if w.Deleted || w.Retracted {
		cand.Kind = models.EventRetraction
		cand.TargetID = firstNonEmpty(w.ID, w.MessageID, w.MsgID, w.TargetID)
		cand.ActorID = firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author)
		if cand.TargetID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "deleted record without id")
		}
		return cand, nil
	}
	cand.Kind = models.EventMessage
	cand.Message = w.toMessage(receivedAt)
	return cand, nil
}

// NormalizeEvent maps a raw channel event onto a reconciliation
// candidate. The event name is resolved through the live channel alias
// table so renamed events from older backends still classify.
func NormalizeEvent(evt *models.ChannelEvent) (*models.Candidate, error) {
	var w wireMessage
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &w); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to decode event payload")
		}
	}

	cand := &models.Candidate{
		SourceChannel: evt.SourceChannel,
		ReceivedAt:    evt.ReceivedAt,
	}

	switch types.CanonicalEvent(evt.EventName) {
	case types.EventMessageNew:
		cand.Kind = models.EventMessage
		cand.Message = w.toMessage(evt.ReceivedAt)
	case types.EventMessageRetract:
		cand.Kind = models.EventRetraction
		cand.TargetID = firstNonEmpty(w.TargetID, w.MessageID, w.MsgID, w.ID)
		cand.ActorID = firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author)
		if cand.TargetID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "retraction without target id")
		}
	case types.EventReaction:
		cand.Kind = models.EventReaction
		cand.TargetID = firstNonEmpty(w.TargetID, w.MessageID, w.MsgID, w.ID)
		cand.ActorID = firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author)
		cand.Reaction = firstNonEmpty(w.Emoji, w.Reaction)
		if cand.TargetID == "" || cand.ActorID == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "reaction without target or actor")
		}
	case types.EventTypingStart:
		cand.Kind = models.EventTyping
		cand.ActorID = firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author)
		cand.DisplayName = firstNonEmpty(w.DisplayName, w.Name)
	case types.EventTypingStop:
		cand.Kind = models.EventStoppedTyping
		cand.ActorID = firstNonEmpty(w.SenderID, w.UserID, w.From, w.Author)
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, "unrecognized event name").
			WithContext("event", evt.EventName)
	}
	return cand, nil
}
