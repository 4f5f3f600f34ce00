package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasehub/tenantauth/pkg/logger"
)

const testCookie = "sessionToken"

func staticValidator(valid string) TokenValidator {
	return func(token string) (*Claims, error) {
		if token != valid {
			return nil, errors.New("bad token")
		}
		return &Claims{TenantID: "tenant-1", Phone: "+18095551234"}, nil
	}
}

func authProbe(t *testing.T) (http.Handler, *bool) {
	called := false
	h := Auth(staticValidator("good"), testCookie)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "tenant-1", claims.TenantID)
		assert.Equal(t, "tenant-1", TenantIDFromContext(r.Context()))
		assert.Equal(t, "tenant-1", logger.TenantIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		cookie   string
		wantCode int
	}{
		{"bearer header", "Bearer good", "", http.StatusOK},
		{"lowercase scheme", "bearer good", "", http.StatusOK},
		{"cookie fallback", "", "good", http.StatusOK},
		{"header wins over cookie", "Bearer bad", "good", http.StatusUnauthorized},
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", "", http.StatusUnauthorized},
		{"invalid cookie", "", "bad", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, called := authProbe(t)
			req := httptest.NewRequest(http.MethodGet, "/session", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: testCookie, Value: tc.cookie})
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantCode, rr.Code)
			assert.Equal(t, tc.wantCode == http.StatusOK, *called)
			if tc.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rr.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestAuth_NoCookieName_IgnoresCookies(t *testing.T) {
	h := Auth(staticValidator("good"), "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "good"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClaimsFromContext(req.Context())
	assert.False(t, ok)
	assert.Empty(t, TenantIDFromContext(req.Context()))
}
