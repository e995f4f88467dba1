package models

import "time"

// ConversationSnapshot is the persisted form of a conversation's
// ordered store, written periodically and on close, and loaded on cold
// start to show last-known content before the first resync completes.
type ConversationSnapshot struct {
	ConversationID string     `json:"conversationId"`
	Messages       []*Message `json:"messages"`
	LastKnownID    string     `json:"lastKnownId"`
	LastSyncAt     time.Time  `json:"lastSyncAt"`
}
