package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/leasehub/tenantauth/internal/phone"
	"github.com/leasehub/tenantauth/internal/service"
	"github.com/leasehub/tenantauth/pkg/httputil"
	"github.com/leasehub/tenantauth/pkg/validator"
)

// Cookie names.
const (
	ContextCookie = "otp_context"
	RegionCookie  = "phone_region"
	SessionCookie = "sessionToken"
)

const (
	contextCookiePath = "/whatsapp"
	regionCookieTTL   = 365 * 24 * time.Hour
	maxSignInBody     = 4 << 10
)

// OTPAuthenticator runs the sign-in flow.
type OTPAuthenticator interface {
	RequestChallenge(ctx context.Context, in service.RequestInput) (*service.RequestResult, error)
	Verify(ctx context.Context, in service.VerifyInput) (*service.VerifyResult, error)
}

// ContextTokens binds a pending challenge to the browser that requested it.
type ContextTokens interface {
	IssueSignIn(phone string, ttl time.Duration) (string, error)
	ValidateSignIn(token string) (string, error)
}

// CookieConfig controls the cookies set by the sign-in handlers.
type CookieConfig struct {
	Secure bool
	// ContextTTL matches the challenge TTL.
	ContextTTL time.Duration
}

// WhatsAppHandler handles the WhatsApp sign-in endpoints.
type WhatsAppHandler struct {
	service  OTPAuthenticator
	contexts ContextTokens
	cookies  CookieConfig
	logger   *slog.Logger
}

// NewWhatsAppHandler creates a new WhatsApp sign-in handler.
func NewWhatsAppHandler(svc OTPAuthenticator, contexts ContextTokens, cookies CookieConfig, logger *slog.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{service: svc, contexts: contexts, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// SignInRequest is the JSON request body for requesting a sign-in code.
type SignInRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"max=64"`
	Region      string `json:"region,omitempty" validate:"omitempty,len=2,alpha"`
}

// --- Response types ---

// SignedInResponse is returned after a successful verification.
type SignedInResponse struct {
	SessionToken string `json:"sessionToken"`
	Phone        string `json:"phone"`
	TenantID     string `json:"tenantId"`
}

// --- Handlers ---

// SignIn handles POST /whatsapp/signin. Any well-formed phone gets 204
// whether or not a code was sent.
func (h *WhatsAppHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSignInBody)

	var req SignInRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := service.RequestInput{
		PhoneNumber:     req.PhoneNumber,
		Region:          req.Region,
		PreferredRegion: cookieValue(r, RegionCookie),
		AcceptLanguage:  r.Header.Get("Accept-Language"),
		Locale:          preferredLocale(r),
	}

	res, err := h.service.RequestChallenge(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	token, err := h.contexts.IssueSignIn(res.Phone, h.cookies.ContextTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to sign otp context", slog.String("error", err.Error()))
	} else {
		http.SetCookie(w, h.cookie(ContextCookie, token, contextCookiePath, h.cookies.ContextTTL))
	}
	if phone.IsSupportedRegion(res.Region) {
		http.SetCookie(w, h.cookie(RegionCookie, res.Region, "/", regionCookieTTL))
	}

	httputil.WriteNoContent(w)
}

// SignedIn handles GET /whatsapp/signedin?otp=<code>.
func (h *WhatsAppHandler) SignedIn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	phoneNumber := ""
	if token := cookieValue(r, ContextCookie); token != "" {
		if p, err := h.contexts.ValidateSignIn(token); err == nil {
			phoneNumber = p
		}
	}
	if phoneNumber == "" {
		phoneNumber = query.Get("phone")
	}
	if phoneNumber == "" {
		httputil.WriteError(w, r, service.ErrInvalidCode, h.logger)
		return
	}

	res, err := h.service.Verify(r.Context(), service.VerifyInput{
		Phone:           phoneNumber,
		Code:            query.Get("otp"),
		Region:          query.Get("region"),
		PreferredRegion: cookieValue(r, RegionCookie),
		AcceptLanguage:  r.Header.Get("Accept-Language"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	session := res.Session
	http.SetCookie(w, h.cookie(SessionCookie, session.Token, "/", time.Until(session.ExpiresAt)))
	http.SetCookie(w, h.cookie(ContextCookie, "", contextCookiePath, -1))

	httputil.WriteJSON(w, http.StatusOK, SignedInResponse{
		SessionToken: session.Token,
		Phone:        session.Phone,
		TenantID:     session.TenantID,
	})
}

// cookie builds an HttpOnly cookie. A negative ttl deletes it.
func (h *WhatsAppHandler) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return newCookie(name, value, path, ttl, h.cookies.Secure)
}

func newCookie(name, value, path string, ttl time.Duration, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// preferredLocale returns the highest weighted Accept-Language tag.
func preferredLocale(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}
