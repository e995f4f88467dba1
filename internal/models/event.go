package models

import (
	"encoding/json"
	"time"
)

// SourceChannel identifies where a raw event entered the client.
type SourceChannel string

const (
	SourceLive      SourceChannel = "live"
	SourcePoll      SourceChannel = "poll"
	SourceLocalEcho SourceChannel = "local"
)

// EventKind is the normalized category of an inbound event.
type EventKind string

const (
	EventMessage       EventKind = "message"
	EventRetraction    EventKind = "retraction"
	EventReaction      EventKind = "reaction"
	EventTyping        EventKind = "typing"
	EventStoppedTyping EventKind = "stopped_typing"
)

// ChannelEvent is the untyped envelope handed to the ingest router.
// Payload keeps the raw wire shape; the normalizer maps its field
// aliases onto the canonical Message schema.
type ChannelEvent struct {
	SourceChannel SourceChannel   `json:"sourceChannel"`
	EventName     string          `json:"eventName"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// Candidate is a normalized event ready for reconciliation.
type Candidate struct {
	Kind          EventKind
	Message       *Message
	TargetID      string // retraction/reaction target
	ActorID       string
	Reaction      string
	DisplayName   string // typing events
	SourceChannel SourceChannel
	ReceivedAt    time.Time
}

// PendingSend tracks an optimistic send through its transport attempts.
type PendingSend struct {
	CorrelationID string        `json:"correlationId"`
	Draft         Draft         `json:"draft"`
	Attempts      int           `json:"attempts"`
	Transports    []string      `json:"transports,omitempty"`
	Status        MessageStatus `json:"status"`
	SubmittedAt   time.Time     `json:"submittedAt"`
}
