package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasehub/tenantauth/internal/auth"
	"github.com/leasehub/tenantauth/internal/domain"
	"github.com/leasehub/tenantauth/internal/notifier"
	"github.com/leasehub/tenantauth/internal/phone"
	redisrepo "github.com/leasehub/tenantauth/internal/repository/redis"
	"github.com/leasehub/tenantauth/internal/service"
	apperrors "github.com/leasehub/tenantauth/pkg/errors"
	"github.com/leasehub/tenantauth/pkg/health"
	"github.com/leasehub/tenantauth/pkg/httputil"
	"github.com/leasehub/tenantauth/pkg/middleware"
)

const (
	drPhone = "+18095551234"
	gbPhone = "+447911123456"
)

// ============================================================================
// Fakes
// ============================================================================

type staticResolver map[string]*domain.TenantIdentity

func (s staticResolver) FindEligible(_ context.Context, e164 string) (*domain.TenantIdentity, error) {
	if t, ok := s[e164]; ok {
		return t, nil
	}
	return nil, apperrors.NotFound("tenant", "for phone")
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifier.Message
}

func (n *recordingNotifier) Dispatch(_ context.Context, msg notifier.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1].Code
}

// ============================================================================
// Setup
// ============================================================================

type testServer struct {
	handler  http.Handler
	notifier *recordingNotifier
	sessions *auth.SessionManager
	store    *redisrepo.ChallengeStore
}

func setupServer(t *testing.T, limiter *middleware.IPRateLimiter) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	sessions := auth.NewSessionManager("handler-test-secret-0123456789abcdef", time.Hour)
	n := &recordingNotifier{}
	store := redisrepo.NewChallengeStore(client, []byte("otp-secret"), 3)

	svc := service.NewOTPService(
		phone.NewNormalizer("US"),
		redisrepo.NewRateLimiter(client, 15*time.Minute, 5),
		store,
		staticResolver{
			drPhone: {TenantID: "t-1", RealmID: "r-1", Enabled: true},
			gbPhone: {TenantID: "t-gb", RealmID: "r-1", Enabled: true},
		},
		n,
		sessions,
		nil,
		service.NewMetrics(reg),
		5*time.Minute,
		logger,
	)

	router := NewRouter(RouterConfig{
		ServiceName: "tenantauth",
		WhatsApp:    NewWhatsAppHandler(svc, sessions, CookieConfig{ContextTTL: 5 * time.Minute}, logger),
		Session:     NewSessionHandler(false, logger),
		Validator:   sessions.Validator(),
		Health:      health.NewHandler(),
		Metrics:     middleware.NewHTTPMetrics(reg, "tenantauth"),
		Gatherer:    reg,
		IPLimiter:   limiter,
		CORS:        middleware.DefaultCORSConfig(),
		Logger:      logger,
	})

	return &testServer{handler: router, notifier: n, sessions: sessions, store: store}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func signInRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/signin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// ============================================================================
// Tests
// ============================================================================

func TestWhatsAppSignIn_FullFlow(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(signInRequest(`{"phoneNumber":"(809) 555-1234","region":"DO"}`))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	ctxCookie := findCookie(rec, ContextCookie)
	require.NotNil(t, ctxCookie)
	assert.True(t, ctxCookie.HttpOnly)
	assert.Equal(t, "/whatsapp", ctxCookie.Path)
	assert.Equal(t, 300, ctxCookie.MaxAge)

	regionCookie := findCookie(rec, RegionCookie)
	require.NotNil(t, regionCookie)
	assert.Equal(t, "DO", regionCookie.Value)

	ch, err := s.store.Inspect(context.Background(), drPhone)
	require.NoError(t, err)
	assert.InDelta(t, (5 * time.Minute).Seconds(), ch.TTL(time.Now()).Seconds(), 2)
	assert.Equal(t, 3, ch.AttemptsRemaining)

	req := httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+s.notifier.lastCode(t), nil)
	req.AddCookie(ctxCookie)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body SignedInResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.SessionToken)
	assert.Equal(t, drPhone, body.Phone)
	assert.Equal(t, "t-1", body.TenantID)

	sessionCookie := findCookie(rec, SessionCookie)
	require.NotNil(t, sessionCookie)
	assert.Equal(t, body.SessionToken, sessionCookie.Value)
	cleared := findCookie(rec, ContextCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(sessionCookie)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var principal domain.Principal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&principal))
	assert.Equal(t, domain.PrincipalTenant, principal.Type)
	assert.Equal(t, "t-1", principal.TenantID)
	assert.Equal(t, "r-1", principal.RealmID)
	assert.Equal(t, drPhone, principal.Phone)
}

func TestWhatsAppSignIn_InvalidPhoneFormat(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(signInRequest(`{"phoneNumber":"abc"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PHONE_FORMAT", decodeError(t, rec).Code)
	assert.Nil(t, findCookie(rec, ContextCookie))
	assert.Zero(t, s.notifier.count())
}

func TestWhatsAppSignIn_BadBodies(t *testing.T) {
	s := setupServer(t, nil)

	for name, body := range map[string]string{
		"not json":         `phone=123`,
		"non-string phone": `{"phoneNumber":8095551234}`,
		"bad region":       `{"phoneNumber":"8095551234","region":"DOM"}`,
		"missing phone":    `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(signInRequest(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestWhatsAppSignIn_UnknownPhoneIndistinguishable(t *testing.T) {
	s := setupServer(t, nil)

	known := s.do(signInRequest(`{"phoneNumber":"` + drPhone + `"}`))
	unknown := s.do(signInRequest(`{"phoneNumber":"+16502530000"}`))

	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.NotNil(t, findCookie(unknown, ContextCookie))
	assert.Equal(t, 1, s.notifier.count())

	_, err := s.store.Inspect(context.Background(), "+16502530000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWhatsAppSignIn_ThrottledIndistinguishable(t *testing.T) {
	s := setupServer(t, nil)

	var ctxCookie *http.Cookie
	for i := 0; i < 5; i++ {
		rec := s.do(signInRequest(`{"phoneNumber":"` + drPhone + `"}`))
		require.Equal(t, http.StatusNoContent, rec.Code)
		ctxCookie = findCookie(rec, ContextCookie)
	}
	req := httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+s.notifier.lastCode(t), nil)
	req.AddCookie(ctxCookie)
	require.Equal(t, http.StatusOK, s.do(req).Code)

	rec := s.do(signInRequest(`{"phoneNumber":"` + drPhone + `"}`))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, findCookie(rec, ContextCookie))
	assert.Equal(t, 5, s.notifier.count())

	_, err := s.store.Inspect(context.Background(), drPhone)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "a throttled request creates no challenge")
}

func TestWhatsAppSignedIn_WrongCode(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(signInRequest(`{"phoneNumber":"` + drPhone + `"}`))
	ctxCookie := findCookie(rec, ContextCookie)
	code := s.notifier.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for _, otp := range []string{wrong, "abc", ""} {
		req := httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+otp, nil)
		req.AddCookie(ctxCookie)
		rec = s.do(req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_OTP", decodeError(t, rec).Code)
		assert.Nil(t, findCookie(rec, SessionCookie))
	}

	left, err := s.store.PeekAttempts(context.Background(), drPhone)
	require.NoError(t, err)
	assert.Equal(t, 2, left, "only the well-formed wrong code spends an attempt")
}

func TestWhatsAppSignedIn_PhoneHintWithoutCookie(t *testing.T) {
	s := setupServer(t, nil)

	s.do(signInRequest(`{"phoneNumber":"` + drPhone + `"}`))
	code := s.notifier.lastCode(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+code+"&phone=%2B18095551234", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWhatsAppSignedIn_NationalPhoneHint(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(signInRequest(`{"phoneNumber":"07911 123456","region":"GB"}`))
	require.Equal(t, http.StatusNoContent, rec.Code)
	regionCookie := findCookie(rec, RegionCookie)
	require.NotNil(t, regionCookie)
	code := s.notifier.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	t.Run("region query", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+wrong+"&phone=07911%20123456&region=GB", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		left, err := s.store.PeekAttempts(context.Background(), gbPhone)
		require.NoError(t, err)
		assert.Equal(t, 2, left)
	})

	t.Run("region cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp="+code+"&phone=07911%20123456", nil)
		req.AddCookie(regionCookie)
		rec := s.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body SignedInResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, gbPhone, body.Phone)
		assert.Equal(t, "t-gb", body.TenantID)
	})
}

func TestWhatsAppSignedIn_NoPhone(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp=123456", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_OTP", decodeError(t, rec).Code)
}

func TestWhatsAppSignedIn_ForgedContextRejected(t *testing.T) {
	s := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/whatsapp/signedin?otp=123456", nil)
	req.AddCookie(&http.Cookie{Name: ContextCookie, Value: "forged"})
	rec := s.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_Bearer(t *testing.T) {
	s := setupServer(t, nil)

	cred, err := s.sessions.Issue(&domain.TenantIdentity{TenantID: "t-9", RealmID: "r-9"}, drPhone)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenantId":"t-9"`)
}

func TestSession_Unauthenticated(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
	rec = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_Delete(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/session", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	c := findCookie(rec, SessionCookie)
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestWhatsApp_IPRateLimit(t *testing.T) {
	s := setupServer(t, middleware.NewIPRateLimiter(0.001, 2, false))

	for i := 0; i < 2; i++ {
		rec := s.do(signInRequest(`{"phoneNumber":"+16502530000"}`))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := s.do(signInRequest(`{"phoneNumber":"+16502530000"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(signInRequest(`{"phoneNumber":"abc"}`))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `otp_challenge_requests_total{outcome="invalid_phone"} 1`)
}
