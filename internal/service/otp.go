package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leasehub/tenantauth/internal/domain"
	"github.com/leasehub/tenantauth/internal/event"
	"github.com/leasehub/tenantauth/internal/notifier"
	"github.com/leasehub/tenantauth/internal/phone"
	"github.com/leasehub/tenantauth/internal/repository"
	apperrors "github.com/leasehub/tenantauth/pkg/errors"
	"github.com/leasehub/tenantauth/pkg/logger"
	"github.com/leasehub/tenantauth/pkg/tracing"
)

// CodeLength is the number of digits in a sign-in code.
const CodeLength = 6

// auditTimeout bounds publishing of the signed-in audit event.
const auditTimeout = 5 * time.Second

var (
	// ErrInvalidPhone is the only error a challenge request can return.
	ErrInvalidPhone = &apperrors.AppError{
		Code:    "INVALID_PHONE_FORMAT",
		Message: "invalid phone number format",
		Status:  http.StatusBadRequest,
		Err:     apperrors.ErrInvalidInput,
	}

	// ErrInvalidCode covers every failed verification.
	ErrInvalidCode = &apperrors.AppError{
		Code:    "INVALID_OTP",
		Message: "invalid or expired code",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
)

// TenantResolver finds the tenant allowed to sign in with a phone.
type TenantResolver interface {
	FindEligible(ctx context.Context, phone string) (*domain.TenantIdentity, error)
}

// Notifier hands codes to the delivery pipeline without waiting.
type Notifier interface {
	Dispatch(ctx context.Context, msg notifier.Message)
}

// SessionIssuer signs session credentials.
type SessionIssuer interface {
	Issue(tenant *domain.TenantIdentity, phone string) (*domain.SessionCredential, error)
}

// AuditPublisher records successful sign-ins.
type AuditPublisher interface {
	PublishTenantSignedIn(ctx context.Context, data event.TenantSignedInData) error
}

// OTPService runs the two-step WhatsApp sign-in: request a code, then
// verify it for a session.
type OTPService struct {
	normalizer *phone.Normalizer
	limiter    repository.RateLimiter
	challenges repository.ChallengeStore
	tenants    TenantResolver
	notifier   Notifier
	sessions   SessionIssuer
	audit      AuditPublisher
	metrics    *Metrics
	ttl        time.Duration
	logger     *slog.Logger

	generateCode func() (string, error)
	now          func() time.Time
	background   sync.WaitGroup
}

// NewOTPService creates a new OTP service. audit may be nil.
func NewOTPService(
	normalizer *phone.Normalizer,
	limiter repository.RateLimiter,
	challenges repository.ChallengeStore,
	tenants TenantResolver,
	notifier Notifier,
	sessions SessionIssuer,
	audit AuditPublisher,
	metrics *Metrics,
	ttl time.Duration,
	logger *slog.Logger,
) *OTPService {
	return &OTPService{
		normalizer:   normalizer,
		limiter:      limiter,
		challenges:   challenges,
		tenants:      tenants,
		notifier:     notifier,
		sessions:     sessions,
		audit:        audit,
		metrics:      metrics,
		ttl:          ttl,
		logger:       logger,
		generateCode: GenerateCode,
		now:          time.Now,
	}
}

// --- Input/Output types ---

// RequestInput holds what the client sent with a code request.
type RequestInput struct {
	PhoneNumber string
	// Region is the region picked in the UI, if any.
	Region string
	// PreferredRegion is the region remembered from an earlier sign-in.
	PreferredRegion string
	AcceptLanguage  string
	// Locale is passed to the notifier for message language.
	Locale string
}

// RequestResult is identical for every outcome other than an invalid phone.
type RequestResult struct {
	Phone  string
	Region string
}

// VerifyInput holds the phone the code was requested for and the code.
// The region fields are resolved like RequestInput's when Phone is not in
// international format.
type VerifyInput struct {
	Phone           string
	Code            string
	Region          string
	PreferredRegion string
	AcceptLanguage  string
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Session *domain.SessionCredential
	Tenant  *domain.TenantIdentity
}

// RequestChallenge issues a sign-in code when the phone belongs to an
// eligible tenant and is under its request limit. Apart from a malformed
// phone, which yields ErrInvalidPhone, the result never reveals which of
// those held.
func (s *OTPService) RequestChallenge(ctx context.Context, in RequestInput) (*RequestResult, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "otp.request_challenge")
	defer span.End()
	log := logger.WithContext(ctx, s.logger)

	region := phone.ResolveRegion(in.Region, in.PreferredRegion, in.AcceptLanguage, s.normalizer.DefaultRegion())
	pn, err := s.normalizer.Parse(in.PhoneNumber, region)
	if err != nil {
		kind, _ := phone.KindOf(err)
		log.InfoContext(ctx, "rejected malformed phone number",
			slog.String("region", region),
			slog.String("reason", kind.String()),
		)
		s.finishRequest(span, outcomeInvalidPhone)
		return nil, ErrInvalidPhone
	}

	result := &RequestResult{Phone: pn.E164, Region: region}
	log = log.With(slog.String("phone", phone.Mask(pn.E164)))

	outcome := s.issue(ctx, log, pn.E164, in.Locale)
	s.finishRequest(span, outcome)
	return result, nil
}

// issue runs the policy checks and creates the challenge, returning the
// internal outcome.
func (s *OTPService) issue(ctx context.Context, log *slog.Logger, e164, locale string) string {
	decision, err := s.limiter.Check(ctx, e164)
	if err != nil {
		log.ErrorContext(ctx, "rate limit check failed", slog.String("error", err.Error()))
		return outcomeError
	}
	if !decision.Allowed {
		log.InfoContext(ctx, "sign-in code request throttled", slog.Duration("retry_after", decision.RetryAfter))
		return outcomeThrottled
	}

	tenant, err := s.tenants.FindEligible(ctx, e164)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.InfoContext(ctx, "no eligible tenant for phone")
			return outcomeIneligible
		}
		log.ErrorContext(ctx, "tenant lookup failed", slog.String("error", err.Error()))
		return outcomeError
	}

	// The slot is reserved before the challenge exists and is not returned
	// if creating the challenge fails.
	decision, err = s.limiter.Record(ctx, e164)
	if err != nil {
		log.ErrorContext(ctx, "rate limit record failed", slog.String("error", err.Error()))
		return outcomeError
	}
	if !decision.Allowed {
		log.InfoContext(ctx, "sign-in code request throttled", slog.Duration("retry_after", decision.RetryAfter))
		return outcomeThrottled
	}

	code, err := s.generateCode()
	if err != nil {
		log.ErrorContext(ctx, "generate sign-in code failed", slog.String("error", err.Error()))
		return outcomeError
	}
	if err := s.challenges.Create(ctx, e164, code, s.ttl); err != nil {
		log.ErrorContext(ctx, "create challenge failed", slog.String("error", err.Error()))
		return outcomeError
	}

	s.notifier.Dispatch(ctx, notifier.Message{
		Phone:     e164,
		Code:      code,
		Locale:    locale,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	})

	log.InfoContext(ctx, "sign-in code issued",
		slog.String("tenant_id", tenant.TenantID),
		slog.Int("requests_in_window", decision.Count),
	)
	return outcomeIssued
}

func (s *OTPService) finishRequest(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("otp.outcome", outcome))
	s.metrics.request(outcome)
}

// Verify redeems a code for a session. Every failure, whatever its cause,
// is ErrInvalidCode.
func (s *OTPService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "otp.verify")
	defer span.End()
	log := logger.WithContext(ctx, s.logger)

	fail := func(outcome string) (*VerifyResult, error) {
		span.SetAttributes(attribute.String("otp.outcome", outcome))
		s.metrics.verification(outcome)
		return nil, ErrInvalidCode
	}

	if !ValidCode(in.Code) {
		return fail(outcomeMalformed)
	}
	region := phone.ResolveRegion(in.Region, in.PreferredRegion, in.AcceptLanguage, s.normalizer.DefaultRegion())
	e164, err := s.normalizer.Normalize(in.Phone, region)
	if err != nil {
		return fail(outcomeMalformed)
	}
	log = log.With(slog.String("phone", phone.Mask(e164)))

	consumed, err := s.challenges.Consume(ctx, e164, in.Code)
	if err != nil {
		log.ErrorContext(ctx, "consume challenge failed", slog.String("error", err.Error()))
		tracing.RecordError(span, err)
		return fail(outcomeError)
	}

	switch consumed.Result {
	case domain.ConsumeMatched:
	case domain.ConsumeMismatched:
		if consumed.Exhausted() {
			log.WarnContext(ctx, "sign-in code attempts exhausted, challenge revoked")
			return fail(outcomeExhausted)
		}
		log.InfoContext(ctx, "sign-in code mismatch", slog.Int("attempts_remaining", consumed.AttemptsRemaining))
		return fail(outcomeMismatched)
	case domain.ConsumeExpired:
		return fail(outcomeExpired)
	default:
		return fail(outcomeNotFound)
	}

	tenant, err := s.tenants.FindEligible(ctx, e164)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.WarnContext(ctx, "phone lost eligibility before verification")
			return fail(outcomeIneligible)
		}
		log.ErrorContext(ctx, "tenant lookup failed", slog.String("error", err.Error()))
		tracing.RecordError(span, err)
		return fail(outcomeError)
	}

	session, err := s.sessions.Issue(tenant, e164)
	if err != nil {
		log.ErrorContext(ctx, "issue session failed", slog.String("error", err.Error()))
		tracing.RecordError(span, err)
		return fail(outcomeError)
	}

	span.SetAttributes(attribute.String("otp.outcome", outcomeSuccess))
	s.metrics.verification(outcomeSuccess)
	log.InfoContext(ctx, "tenant signed in", slog.String("tenant_id", tenant.TenantID))

	s.publishSignedIn(ctx, session)

	return &VerifyResult{Session: session, Tenant: tenant}, nil
}

func (s *OTPService) publishSignedIn(ctx context.Context, session *domain.SessionCredential) {
	if s.audit == nil {
		return
	}
	data := event.TenantSignedInData{
		TenantID:  session.TenantID,
		RealmID:   session.RealmID,
		Phone:     session.Phone,
		Channel:   "whatsapp",
		SessionID: session.TokenID,
		SignedAt:  session.IssuedAt,
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if err := s.audit.PublishTenantSignedIn(ctx, data); err != nil {
			s.logger.WarnContext(ctx, "failed to publish tenant.signed_in event",
				slog.String("tenant_id", data.TenantID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Shutdown waits for background audit publishing until ctx is done.
func (s *OTPService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateCode returns a uniformly random CodeLength-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ValidCode reports whether code has the shape of a sign-in code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
