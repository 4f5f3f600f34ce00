package domain

import "time"

// Principal types.
const (
	PrincipalTenant = "tenant"
)

// SessionCredential is the bearer credential issued after a verified OTP.
type SessionCredential struct {
	Token     string    `json:"-"`
	TokenID   string    `json:"-"`
	TenantID  string    `json:"tenant_id"`
	RealmID   string    `json:"realm_id"`
	Phone     string    `json:"phone"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal is the identity behind a session as returned by GET /session.
// Phone is set for sessions started by WhatsApp sign-in, Email for the
// email flow.
type Principal struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	RealmID  string `json:"realmId"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}
