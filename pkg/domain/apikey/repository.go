package apikey

import (
	"context"
	"time"
)

type Repository interface {
	// GetActiveByKey returns the active credential for key, or nil when no
	// active record matches.
	GetActiveByKey(ctx context.Context, key string) (*APIKey, error)
	// TouchLastUsed updates last_used_at for key. Best-effort bookkeeping,
	// never on the request path's critical timing.
	TouchLastUsed(ctx context.Context, key string, at time.Time) error
}
