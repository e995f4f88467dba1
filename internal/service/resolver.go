package service

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"chatsync/internal/models"
)

// ResolutionKind classifies a candidate message against the current
// conversation state.
type ResolutionKind int

const (
	// ResolutionNew means the candidate has not been seen before.
	ResolutionNew ResolutionKind = iota
	// ResolutionUpdatesPending means the candidate confirms an
	// optimistic send identified by CorrelationID.
	ResolutionUpdatesPending
	// ResolutionDuplicate means the candidate duplicates ExistingID.
	ResolutionDuplicate
)

// Resolution is the resolver verdict.
type Resolution struct {
	Kind          ResolutionKind
	CorrelationID string
	ExistingID    string
}

// Resolver computes canonical identity for candidate messages. It is a
// pure classifier: it never mutates conversation state. The recency
// cache is a performance shortcut only; the conversation state remains
// authoritative for every "already present" decision.
type Resolver struct {
	fingerprintWindow time.Duration
	recency           *recencyCache
}

func NewResolver(fingerprintWindow time.Duration, recencyCapacity int) *Resolver {
	return &Resolver{
		fingerprintWindow: fingerprintWindow,
		recency:           newRecencyCache(recencyCapacity),
	}
}

// Resolve classifies a candidate in priority order: canonical id match,
// correlation id match against a pending send, then fingerprint match.
func (r *Resolver) Resolve(candidate *models.Message, state *conversationState) Resolution {
	if candidate.ID != "" {
		if r.recency.contains(idKey(candidate.ID)) {
			if existing := state.byID[candidate.ID]; existing != nil {
				return Resolution{Kind: ResolutionDuplicate, ExistingID: candidate.ID}
			}
		}
		if existing := state.byID[candidate.ID]; existing != nil {
			return Resolution{Kind: ResolutionDuplicate, ExistingID: existing.ID}
		}
	}

	if candidate.CorrelationID != "" {
		if pending := state.pendingByCorrelation[candidate.CorrelationID]; pending != nil {
			return Resolution{Kind: ResolutionUpdatesPending, CorrelationID: candidate.CorrelationID}
		}
		// A correlation id we have already reconciled marks a
		// duplicate confirmation.
		if existing := state.byCorrelation[candidate.CorrelationID]; existing != nil {
			return Resolution{Kind: ResolutionDuplicate, ExistingID: existing.ID}
		}
	}

	// Fingerprint: same sender, same trimmed content, close in time.
	// Covers sources that omit both ids, and the race where the
	// canonical event outruns the local submit echo.
	for _, stored := range state.ordered {
		existing := stored.msg
		if existing.SenderID != candidate.SenderID {
			continue
		}
		if existing.TrimmedContent() != candidate.TrimmedContent() {
			continue
		}
		delta := candidate.CreatedAt.Sub(existing.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > r.fingerprintWindow {
			continue
		}
		// A failed entry matches too: its confirmation simply
		// arrived after the timeout already gave up on it.
		if existing.Status == models.StatusPending || existing.Status == models.StatusFailed {
			return Resolution{Kind: ResolutionUpdatesPending, CorrelationID: existing.CorrelationID}
		}
		return Resolution{Kind: ResolutionDuplicate, ExistingID: existing.ID}
	}

	return Resolution{Kind: ResolutionNew}
}

// Remember records a message's identity keys in the recency cache.
func (r *Resolver) Remember(msg *models.Message) {
	if msg.ID != "" {
		r.recency.add(idKey(msg.ID))
	}
	if msg.CorrelationID != "" {
		r.recency.add(correlationKey(msg.CorrelationID))
	}
}

// SynthesizeID derives a deterministic id for a message that arrived
// without one, so later duplicates of the same malformed event collide.
// The timestamp is bucketed to the fingerprint window.
func (r *Resolver) SynthesizeID(msg *models.Message) string {
	bucket := msg.CreatedAt.Unix() / int64(r.fingerprintWindow.Seconds())
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", msg.SenderID, msg.TrimmedContent(), bucket))
	return "syn-" + hex.EncodeToString(sum[:16])
}

func idKey(id string) string         { return "id:" + id }
func correlationKey(c string) string { return "corr:" + c }

// recencyCache is a bounded LRU set of recently seen identity keys.
type recencyCache struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newRecencyCache(capacity int) *recencyCache {
	if capacity <= 0 {
		capacity = 200
	}
	return &recencyCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (c *recencyCache) contains(key string) bool {
	elem, ok := c.index[key]
	if ok {
		c.order.MoveToFront(elem)
	}
	return ok
}

func (c *recencyCache) add(key string) {
	if elem, ok := c.index[key]; ok {
		c.order.MoveToFront(elem)
		return
	}
	c.index[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
}

func (c *recencyCache) len() int {
	return c.order.Len()
}
