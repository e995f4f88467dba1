package models

import "time"

// TombstoneScope distinguishes device-local hiding from authoritative
// retraction.
type TombstoneScope string

const (
	// ScopeLocalHide hides a message on this device only and is never
	// transmitted to any channel.
	ScopeLocalHide TombstoneScope = "local-hide"
	// ScopeGlobalRetract retracts a message for every participant and
	// replaces its content with a placeholder.
	ScopeGlobalRetract TombstoneScope = "global-retract"
)

// Tombstone marks a message as hidden or retracted.
type Tombstone struct {
	MessageID string         `json:"messageId"`
	Scope     TombstoneScope `json:"scope"`
	ActorID   string         `json:"actorId"`
	AppliedAt time.Time      `json:"appliedAt"`
}

// PresenceEntry is an ephemeral "user is typing" record.
type PresenceEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
