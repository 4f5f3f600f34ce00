// Package tenant resolves canonical phone numbers to tenants that may sign
// in with them.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leasehub/tenantauth/internal/domain"
	"github.com/leasehub/tenantauth/internal/phone"
	"github.com/leasehub/tenantauth/internal/repository"
	apperrors "github.com/leasehub/tenantauth/pkg/errors"
)

// Resolver finds the tenant eligible for OTP sign-in on a phone number.
type Resolver struct {
	repo       repository.TenantRepository
	normalizer *phone.Normalizer
	logger     *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(repo repository.TenantRepository, normalizer *phone.Normalizer, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, normalizer: normalizer, logger: logger}
}

// FindEligible returns the first tenant having a contact that holds e164
// with WhatsApp enabled for that slot. Unknown numbers and numbers present
// without the channel flag both yield apperrors.ErrNotFound.
func (r *Resolver) FindEligible(ctx context.Context, e164 string) (*domain.TenantIdentity, error) {
	candidates, err := r.repo.FindByContactPhone(ctx, phone.LookupKeys(e164))
	if err != nil {
		return nil, fmt.Errorf("find tenants by phone: %w", err)
	}

	same := r.matcher(e164)
	var found *domain.TenantIdentity
	eligible := 0
	for i := range candidates {
		t := &candidates[i]
		if _, ok := t.EligibleFor(same); !ok {
			continue
		}
		eligible++
		if found == nil {
			found = t
		}
	}

	if found == nil {
		return nil, apperrors.NotFound("tenant", "for phone")
	}
	if eligible > 1 {
		r.logger.WarnContext(ctx, "phone is eligible for several tenants, using the first",
			slog.String("phone", phone.Mask(e164)),
			slog.Int("tenants", eligible),
			slog.String("tenant_id", found.TenantID),
		)
	}
	return found, nil
}

// matcher returns a predicate deciding whether a stored contact value is
// the number e164. Stored values are re-normalized against the number's own
// region so national spellings match.
func (r *Resolver) matcher(e164 string) func(string) bool {
	region := ""
	if pn, err := r.normalizer.Parse(e164, ""); err == nil {
		region = pn.Region
	}
	digits := strings.TrimPrefix(e164, "+")

	return func(stored string) bool {
		cleaned := phone.Clean(stored)
		if cleaned == e164 || cleaned == digits {
			return true
		}
		n, err := r.normalizer.Normalize(stored, region)
		return err == nil && n == e164
	}
}
