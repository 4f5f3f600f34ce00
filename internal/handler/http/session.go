package http

import (
	"log/slog"
	"net/http"

	"github.com/leasehub/tenantauth/internal/domain"
	apperrors "github.com/leasehub/tenantauth/pkg/errors"
	"github.com/leasehub/tenantauth/pkg/httputil"
	"github.com/leasehub/tenantauth/pkg/middleware"
)

// SessionHandler exposes the current session.
type SessionHandler struct {
	secureCookies bool
	logger        *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(secureCookies bool, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{secureCookies: secureCookies, logger: logger}
}

// Get handles GET /session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("missing session token"), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, domain.Principal{
		Type:     claims.Type,
		TenantID: claims.TenantID,
		RealmID:  claims.RealmID,
		Phone:    claims.Phone,
		Email:    claims.Email,
	})
}

// Delete handles DELETE /session by expiring the session cookie. Issued
// tokens stay valid until they expire.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, newCookie(SessionCookie, "", "/", -1, h.secureCookies))
	httputil.WriteNoContent(w)
}
