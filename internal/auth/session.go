// Package auth signs and validates the tokens handed to tenants: the session
// credential and the short-lived sign-in context bound to a phone number.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leasehub/tenantauth/internal/domain"
	"github.com/leasehub/tenantauth/pkg/middleware"
)

const (
	issuer = "tenantauth"

	audienceSession = "tenant-session"
	audienceSignIn  = "whatsapp-signin"
)

// ErrInvalidToken is returned for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// SessionClaims are the JWT claims of a session credential.
type SessionClaims struct {
	Type     string `json:"typ"`
	TenantID string `json:"tenant_id"`
	RealmID  string `json:"realm_id"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SignInClaims bind a pending WhatsApp sign-in to the phone it was requested
// for.
type SignInClaims struct {
	Phone string `json:"phone"`
	jwt.RegisteredClaims
}

// SessionManager issues and validates HS256 tokens.
type SessionManager struct {
	secret        []byte
	sessionExpiry time.Duration
	now           func() time.Time
}

// NewSessionManager creates a SessionManager signing with secret.
func NewSessionManager(secret string, sessionExpiry time.Duration) *SessionManager {
	return &SessionManager{
		secret:        []byte(secret),
		sessionExpiry: sessionExpiry,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a session credential for tenant, bound to phone.
func (m *SessionManager) Issue(tenant *domain.TenantIdentity, phone string) (*domain.SessionCredential, error) {
	now := m.now()
	cred := &domain.SessionCredential{
		TokenID:   uuid.NewString(),
		TenantID:  tenant.TenantID,
		RealmID:   tenant.RealmID,
		Phone:     phone,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.sessionExpiry),
	}

	claims := &SessionClaims{
		Type:     domain.PrincipalTenant,
		TenantID: cred.TenantID,
		RealmID:  cred.RealmID,
		Phone:    phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cred.TokenID,
			Subject:   cred.TenantID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}

	token, err := m.sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	cred.Token = token
	return cred, nil
}

// ValidateSession parses a session token.
func (m *SessionManager) ValidateSession(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := m.parse(token, claims, audienceSession); err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", ErrInvalidToken)
	}
	return claims, nil
}

// Validator adapts ValidateSession to the auth middleware.
func (m *SessionManager) Validator() middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		c, err := m.ValidateSession(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			Type:     c.Type,
			TenantID: c.TenantID,
			RealmID:  c.RealmID,
			Phone:    c.Phone,
			Email:    c.Email,
		}, nil
	}
}

// IssueSignIn creates the sign-in context token for phone, valid for ttl.
func (m *SessionManager) IssueSignIn(phone string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &SignInClaims{
		Phone: phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audienceSignIn},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign sign-in context: %w", err)
	}
	return token, nil
}

// ValidateSignIn returns the phone carried by a sign-in context token.
func (m *SessionManager) ValidateSignIn(token string) (string, error) {
	claims := &SignInClaims{}
	if err := m.parse(token, claims, audienceSignIn); err != nil {
		return "", err
	}
	if claims.Phone == "" {
		return "", fmt.Errorf("%w: missing phone", ErrInvalidToken)
	}
	return claims.Phone, nil
}

func (m *SessionManager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *SessionManager) parse(token string, claims jwt.Claims, audience string) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
