package service

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/models"
)

type presenceEntry struct {
	displayName string
	firstSeen   time.Time
	expiresAt   time.Time
}

// PresenceTracker holds the ephemeral typing state for a conversation.
// Indicators expire on their own after the TTL; an explicit stop signal
// clears them early. Nothing here is persisted or replayed on resync.
type PresenceTracker struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*presenceEntry
}

func NewPresenceTracker(ttl time.Duration) *PresenceTracker {
	return &PresenceTracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*presenceEntry),
	}
}

// OnTyping records or refreshes a typing indicator for the user.
// Repeated signals extend the expiry without changing ordering.
func (p *PresenceTracker) OnTyping(userID, displayName string) {
	if userID == "" {
		return
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[userID]; ok && entry.expiresAt.After(now) {
		entry.expiresAt = now.Add(p.ttl)
		if displayName != "" {
			entry.displayName = displayName
		}
		return
	}
	if displayName == "" {
		displayName = userID
	}
	p.entries[userID] = &presenceEntry{
		displayName: displayName,
		firstSeen:   now,
		expiresAt:   now.Add(p.ttl),
	}
}

// OnStoppedTyping clears the indicator immediately.
func (p *PresenceTracker) OnStoppedTyping(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, userID)
}

// ActiveEntries returns the live typing records with their expiry
// times, ordered by when each user started. Expired entries are pruned
// on read.
func (p *PresenceTracker) ActiveEntries() []models.PresenceEntry {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	type active struct {
		entry models.PresenceEntry
		since time.Time
	}
	var alive []active
	for userID, entry := range p.entries {
		if !entry.expiresAt.After(now) {
			delete(p.entries, userID)
			continue
		}
		alive = append(alive, active{
			entry: models.PresenceEntry{
				UserID:      userID,
				DisplayName: entry.displayName,
				ExpiresAt:   entry.expiresAt,
			},
			since: entry.firstSeen,
		})
	}
	sort.Slice(alive, func(i, j int) bool {
		if alive[i].since.Equal(alive[j].since) {
			return alive[i].entry.DisplayName < alive[j].entry.DisplayName
		}
		return alive[i].since.Before(alive[j].since)
	})

	out := make([]models.PresenceEntry, len(alive))
	for i, a := range alive {
		out[i] = a.entry
	}
	return out
}

// ActiveTypers returns the display names of users currently typing,
// ordered by when each started.
func (p *PresenceTracker) ActiveTypers() []string {
	entries := p.ActiveEntries()
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.DisplayName
	}
	return names
}

// Sweep removes expired entries, called periodically so long-idle
// conversations do not hold stale state between reads.
func (p *PresenceTracker) Sweep() {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, entry := range p.entries {
		if !entry.expiresAt.After(now) {
			delete(p.entries, userID)
		}
	}
}
