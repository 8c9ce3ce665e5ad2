package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Default retention windows for claim outcomes. An empty result is replayed
// only briefly so a retried poll can see newly queued work; a successful
// claim is replayed for the whole claim lifetime plus a grace margin.
const (
	EmptyOutcomeTTL   = 30 * time.Second
	SuccessOutcomeTTL = 60 * time.Second
)

// ClaimOutcome is the memoized result of one claim call.
type ClaimOutcome struct {
	Empty     bool      `json:"empty"`
	ItemID    uuid.UUID `json:"item_id,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// TTL returns how long this outcome should be replayed, relative to now.
func (o *ClaimOutcome) TTL(now time.Time) time.Duration {
	if o == nil || o.Empty {
		return EmptyOutcomeTTL
	}
	ttl := o.ExpiresAt.Sub(now) + SuccessOutcomeTTL
	if ttl < SuccessOutcomeTTL {
		ttl = SuccessOutcomeTTL
	}
	return ttl
}

// IdempotencyCache replays claim outcomes keyed by caller-supplied
// idempotency keys, so a retried claim returns the original result instead of
// claiming a second item.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) (*ClaimOutcome, bool, error)
	Store(ctx context.Context, key string, outcome *ClaimOutcome, ttl time.Duration) error
}
