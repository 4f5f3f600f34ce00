package redis

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leasehub/tenantauth/internal/domain"
	apperrors "github.com/leasehub/tenantauth/pkg/errors"
)

const (
	fieldCodeHash  = "code_hash"
	fieldAttempts  = "attempts"
	fieldCreatedAt = "created_at"
)

// Consume reply codes.
const (
	replyNotFound = iota
	replyExpired
	replyMismatched
	replyMatched
)

// consumeScript compares and deletes in one step.
//
// KEYS[1] challenge hash, KEYS[2] issuance marker, ARGV[1] code digest.
// Returns {result, attempts_remaining}.
var consumeScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code_hash')
if not stored then
  if redis.call('EXISTS', KEYS[2]) == 1 then
    return {1, 0}
  end
  return {0, 0}
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {3, 0}
end
local left = redis.call('HINCRBY', KEYS[1], 'attempts', -1)
if left <= 0 then
  redis.call('DEL', KEYS[1])
  return {2, 0}
end
return {2, left}
`)

// ChallengeStore implements repository.ChallengeStore. Each challenge is a
// hash expiring with the challenge TTL. A marker key living for twice the
// TTL lets Consume tell an expired challenge from one never issued.
type ChallengeStore struct {
	client      *redis.Client
	secret      []byte
	maxAttempts int
	now         func() time.Time
}

// NewChallengeStore creates a store keying code digests with secret and
// allowing maxAttempts wrong codes per challenge.
func NewChallengeStore(client *redis.Client, secret []byte, maxAttempts int) *ChallengeStore {
	return &ChallengeStore{
		client:      client,
		secret:      secret,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// digest binds the code to the phone so digests cannot be replayed across
// numbers.
func (s *ChallengeStore) digest(phone, code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(phone))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create replaces any existing challenge for phone.
func (s *ChallengeStore) Create(ctx context.Context, phone, code string, ttl time.Duration) error {
	key := challengeKey(phone)

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			fieldCodeHash, s.digest(phone, code),
			fieldAttempts, s.maxAttempts,
			fieldCreatedAt, s.now().UnixMilli(),
		)
		p.PExpire(ctx, key, ttl)
		p.Set(ctx, issuedKey(phone), 1, 2*ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create challenge: %w", err)
	}
	return nil
}

// Consume checks code against the stored challenge.
func (s *ChallengeStore) Consume(ctx context.Context, phone, code string) (domain.Consumption, error) {
	keys := []string{challengeKey(phone), issuedKey(phone)}

	res, err := consumeScript.Run(ctx, s.client, keys, s.digest(phone, code)).Int64Slice()
	if err != nil {
		return domain.Consumption{}, fmt.Errorf("redis consume challenge: %w", err)
	}
	if len(res) != 2 {
		return domain.Consumption{}, fmt.Errorf("redis consume challenge: unexpected reply %v", res)
	}

	out := domain.Consumption{AttemptsRemaining: int(res[1])}
	switch res[0] {
	case replyMatched:
		out.Result = domain.ConsumeMatched
	case replyMismatched:
		out.Result = domain.ConsumeMismatched
	case replyExpired:
		out.Result = domain.ConsumeExpired
	default:
		out.Result = domain.ConsumeNotFound
	}
	return out, nil
}

// PeekAttempts returns the attempts left on the current challenge.
func (s *ChallengeStore) PeekAttempts(ctx context.Context, phone string) (int, error) {
	n, err := s.client.HGet(ctx, challengeKey(phone), fieldAttempts).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis peek challenge attempts: %w", err)
	}
	return n, nil
}

// Inspect returns the challenge metadata with ExpiresAt derived from the
// key's remaining TTL.
func (s *ChallengeStore) Inspect(ctx context.Context, phone string) (*domain.Challenge, error) {
	key := challengeKey(phone)

	var fields *redis.MapStringStringCmd
	var pttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis inspect challenge: %w", err)
	}

	vals := fields.Val()
	if len(vals) == 0 {
		return nil, apperrors.NotFound("challenge", "for phone")
	}

	attempts, err := strconv.Atoi(vals[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("parse challenge attempts: %w", err)
	}
	createdMS, err := strconv.ParseInt(vals[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge created_at: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}

	return &domain.Challenge{
		Phone:             phone,
		CodeHash:          vals[fieldCodeHash],
		CreatedAt:         time.UnixMilli(createdMS).UTC(),
		ExpiresAt:         s.now().Add(ttl).UTC(),
		AttemptsRemaining: attempts,
	}, nil
}

// Matches reports whether code is the one stored for phone. It is meant
// for tests and does not spend an attempt.
func (s *ChallengeStore) Matches(c *domain.Challenge, code string) bool {
	return hmac.Equal([]byte(c.CodeHash), []byte(s.digest(c.Phone, code)))
}
