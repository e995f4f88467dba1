package models

import (
	"strings"
	"time"
)

// MessageKind classifies message content.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindAudio  MessageKind = "audio"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// MessageStatus tracks the lifecycle of a message in the local store.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusFailed    MessageStatus = "failed"
	StatusRetracted MessageStatus = "retracted"
)

// Attachment describes an uploaded media object referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is the canonical representation of a conversation message.
// ID is server-assigned and stable once the message is confirmed;
// CorrelationID is client-generated and only meaningful while pending
// or for cross-referencing a confirmation against an optimistic insert.
type Message struct {
	ID             string            `json:"id"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Kind           MessageKind       `json:"kind"`
	Attachment     *Attachment       `json:"attachment,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ReplyToID      string            `json:"replyToId,omitempty"`
	Reactions      map[string]string `json:"reactions,omitempty"`
	Status         MessageStatus     `json:"status"`
}

// TrimmedContent returns the content with surrounding whitespace removed,
// as used for fingerprint comparisons.
func (m *Message) TrimmedContent() string {
	return strings.TrimSpace(m.Content)
}

// Clone returns a deep copy so callers can hand messages out of the
// engine without exposing shared mutable state.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Attachment != nil {
		att := *m.Attachment
		cp.Attachment = &att
	}
	if m.Reactions != nil {
		cp.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = v
		}
	}
	return &cp
}

// Draft is the caller-supplied shape for an outbound send. The engine
// fills in identity, timestamps and status.
type Draft struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ReplyToID      string      `json:"replyToId,omitempty"`
}
