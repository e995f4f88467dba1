// Package types defines the live channel wire contract.
//
// The event names carry historical baggage: several server generations
// emit the same logical event under different names, and clients must
// treat every alias as the same input. CanonicalEvent folds the aliases
// down to the current names.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Canonical event names (wire-stable).
const (
	// EventHello starts a session handshake (client -> server).
	EventHello = "hello"
	// EventHelloAck acknowledges the handshake (server -> client).
	EventHelloAck = "hello_ack"

	// EventSubscribe joins a conversation room (client -> server).
	EventSubscribe = "subscribe"

	// EventMessageSend requests sending a new message (client -> server).
	EventMessageSend = "message_send"
	// EventMessageAck acknowledges a send request (server -> client).
	// Acknowledgment is distinct from confirmation: the canonical
	// message still arrives later as an EventMessageNew.
	EventMessageAck = "message_ack"
	// EventMessageNew broadcasts an accepted message (server -> members).
	EventMessageNew = "message_new"

	// EventMessageRetract broadcasts a global retraction.
	EventMessageRetract = "message_retract"
	// EventReaction broadcasts a reaction change.
	EventReaction = "reaction"

	// EventTypingStart and EventTypingStop carry presence signals.
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"

	// EventPing and EventPong are the application-level heartbeat.
	EventPing = "ping"
	EventPong = "pong"

	// EventError is a generic error envelope (server -> client).
	EventError = "error"
)

// eventAliases maps legacy event names onto the canonical ones.
var eventAliases = map[string]string{
	"message":         EventMessageNew,
	"msg.created":     EventMessageNew,
	"new_message":     EventMessageNew,
	"message_deleted": EventMessageRetract,
	"msg.retracted":   EventMessageRetract,
	"delete_message":  EventMessageRetract,
	"typing":          EventTypingStart,
	"user_typing":     EventTypingStart,
	"typing_stopped":  EventTypingStop,
	"reaction_added":  EventReaction,
}

// CanonicalEvent resolves an event name to its canonical form.
func CanonicalEvent(name string) string {
	if canonical, ok := eventAliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return strings.ToLower(name)
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Event) == "" {
		return errors.New("missing field: event")
	}
	return nil
}

// ---- Client-originated payloads ----

// HelloPayload initiates a session.
type HelloPayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// HelloAckPayload carries the session id assigned by the server.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// SubscribePayload requests membership in a conversation room.
type SubscribePayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload requests sending a message into a conversation.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	CorrelationID  string `json:"correlation_id"`
	Content        string `json:"content"`
	Kind           string `json:"kind,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentSize int64  `json:"attachment_size,omitempty"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
}

// MessageAckPayload acknowledges that a send request was accepted.
type MessageAckPayload struct {
	ConversationID string `json:"conversation_id"`
	CorrelationID  string `json:"correlation_id"`
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason,omitempty"`
}

// TypingPayload carries a typing start/stop signal.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
