package repository

import (
	"context"
	"time"

	"github.com/leasehub/tenantauth/internal/domain"
)

// RateLimiter counts sign-in requests per canonical phone number in a fixed
// window.
type RateLimiter interface {
	// Check reports whether another request is allowed without counting one.
	Check(ctx context.Context, phone string) (domain.RateLimitDecision, error)

	// Record atomically counts a request if the window still has room. A
	// denied decision means nothing was counted.
	Record(ctx context.Context, phone string) (domain.RateLimitDecision, error)
}

// ChallengeStore holds at most one outstanding OTP challenge per phone.
type ChallengeStore interface {
	// Create stores a challenge for phone, replacing any previous one.
	Create(ctx context.Context, phone, code string, ttl time.Duration) error

	// Consume checks code against the challenge in one atomic step. A match
	// deletes the challenge; a mismatch spends one attempt and deletes the
	// challenge when none remain.
	Consume(ctx context.Context, phone, code string) (domain.Consumption, error)

	// PeekAttempts returns the attempts left, or 0 when there is no challenge.
	PeekAttempts(ctx context.Context, phone string) (int, error)

	// Inspect returns the stored challenge metadata.
	Inspect(ctx context.Context, phone string) (*domain.Challenge, error)
}

// TenantRepository reads the tenant contact model.
type TenantRepository interface {
	// FindByContactPhone returns the tenants having a contact whose phone
	// columns, stripped of punctuation, equal one of keys. Only the matching
	// contacts are populated.
	FindByContactPhone(ctx context.Context, keys []string) ([]domain.TenantIdentity, error)
}
