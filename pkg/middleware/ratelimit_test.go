package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(l *IPRateLimiter, at time.Time) *time.Time {
	now := at
	l.now = func() time.Time { return now }
	return &now
}

func limitedHandler(l *IPRateLimiter) http.Handler {
	var buf bytes.Buffer
	return l.Middleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/signin", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIPRateLimiter_BurstThen429(t *testing.T) {
	l := NewIPRateLimiter(1, 3, false)
	fixedClock(l, time.Unix(1_700_000_000, 0))
	h := limitedHandler(l)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1234").Code, "request %d", i+1)
	}

	rr := hit(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
}

func TestIPRateLimiter_RefillsOverTime(t *testing.T) {
	l := NewIPRateLimiter(1, 1, false)
	now := fixedClock(l, time.Unix(1_700_000_000, 0))
	h := limitedHandler(l)

	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1234").Code)

	*now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1234").Code)
}

func TestIPRateLimiter_IndependentPerIP(t *testing.T) {
	l := NewIPRateLimiter(1, 1, false)
	fixedClock(l, time.Unix(1_700_000_000, 0))
	h := limitedHandler(l)

	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.2:1234").Code)
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	l := NewIPRateLimiter(1, 1, false)
	now := fixedClock(l, time.Unix(1_700_000_000, 0))
	l.limiterFor("10.0.0.1")
	*now = now.Add(2 * time.Minute)
	l.limiterFor("10.0.0.2")
	*now = now.Add(2 * time.Minute)

	l.Cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.visitors, "10.0.0.1")
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.0.2.10:4000", "", "", false, "192.0.2.10"},
		{"ignores xff when untrusted", "192.0.2.10:4000", "203.0.113.5", "", false, "192.0.2.10"},
		{"first xff hop", "192.0.2.10:4000", "203.0.113.5, 10.0.0.1", "", true, "203.0.113.5"},
		{"x-real-ip", "192.0.2.10:4000", "", "203.0.113.9", true, "203.0.113.9"},
		{"garbage xff falls back", "192.0.2.10:4000", "nonsense", "", true, "192.0.2.10"},
		{"ipv6", "[2001:db8::1]:4000", "", "", false, "2001:db8::1"},
		{"no port", "192.0.2.10", "", "", false, "192.0.2.10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			assert.Equal(t, tc.want, ClientIP(req, tc.trustProxy))
		})
	}
}
