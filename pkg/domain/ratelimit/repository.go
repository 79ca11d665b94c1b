package ratelimit

import "context"

type Repository interface {
	// FindFor returns the provisioned policy for the pair, or nil when none
	// exists and defaults apply.
	FindFor(ctx context.Context, userID, endpoint string) (*Policy, error)
}
