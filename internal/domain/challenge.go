package domain

import "time"

// Challenge is the single outstanding OTP for a phone. The code itself is
// never stored, only its digest.
type Challenge struct {
	Phone             string    `json:"phone"`
	CodeHash          string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// TTL returns the time left before the challenge expires, relative to now.
func (c *Challenge) TTL(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ConsumeResult is the outcome of presenting a code to the challenge store.
type ConsumeResult int

const (
	ConsumeNotFound ConsumeResult = iota
	ConsumeExpired
	ConsumeMismatched
	ConsumeMatched
)

func (r ConsumeResult) String() string {
	switch r {
	case ConsumeNotFound:
		return "not_found"
	case ConsumeExpired:
		return "expired"
	case ConsumeMismatched:
		return "mismatched"
	case ConsumeMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Consumption reports a consume outcome. On a mismatch AttemptsRemaining is
// the count left after this attempt; zero means the challenge was deleted.
type Consumption struct {
	Result            ConsumeResult
	AttemptsRemaining int
}

// Exhausted reports whether this mismatch used up the last attempt.
func (c Consumption) Exhausted() bool {
	return c.Result == ConsumeMismatched && c.AttemptsRemaining <= 0
}
