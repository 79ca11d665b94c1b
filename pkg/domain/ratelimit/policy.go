package ratelimit

import (
	"time"

	"github.com/google/uuid"
)

type AlgorithmKind string

const (
	SlidingWindow AlgorithmKind = "sliding_window"
	TokenBucket   AlgorithmKind = "token_bucket"
)

func AlgorithmKindFromString(value string) AlgorithmKind {
	if value == string(TokenBucket) {
		return TokenBucket
	}
	return SlidingWindow
}

// Policy is the per-(subject, resource) rate-limit configuration row.
// Provisioned out of band; read-only at request time.
type Policy struct {
	ID                uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID            string    `json:"user_id" gorm:"index:idx_policy_lookup,priority:1;size:36"`
	Endpoint          string    `json:"endpoint" gorm:"index:idx_policy_lookup,priority:2;size:255"`
	Algorithm         string    `json:"algorithm" gorm:"size:20;default:sliding_window"`
	RequestsPerWindow int       `json:"requests_per_window" gorm:"default:60"`
	WindowSeconds     int       `json:"window_seconds" gorm:"default:60"`
	BurstCapacity     int       `json:"burst_capacity" gorm:"default:10"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Policy) TableName() string {
	return "rate_limit_policies"
}

// Algorithm is the tagged variant a Policy resolves to, computed once per
// lookup so call sites never branch on config strings.
type Algorithm struct {
	Kind AlgorithmKind

	// Sliding-window parameters.
	Limit  int64
	Window time.Duration

	// Token-bucket parameters. Rate is tokens per second.
	Rate     float64
	Capacity int64
}

func (p Policy) Resolve() Algorithm {
	window := time.Duration(p.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	if p.Algorithm == string(TokenBucket) {
		return Algorithm{
			Kind:     TokenBucket,
			Rate:     float64(p.RequestsPerWindow) / window.Seconds(),
			Capacity: int64(p.BurstCapacity),
		}
	}
	return Algorithm{
		Kind:   SlidingWindow,
		Limit:  int64(p.RequestsPerWindow),
		Window: window,
	}
}

// Decision is the admission outcome: whether the request may proceed and
// how much quota is left for the (subject, resource) pair.
type Decision struct {
	Allowed   bool
	Remaining int64
}
