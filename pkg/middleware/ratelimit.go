package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/leasehub/tenantauth/pkg/errors"
	"github.com/leasehub/tenantauth/pkg/httputil"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter enforces a token bucket per client IP.
type IPRateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	ttl        time.Duration
	trustProxy bool
	now        func() time.Time
}

// NewIPRateLimiter creates a limiter allowing rps requests per second with the
// given burst. When trustProxy is set, X-Forwarded-For and X-Real-IP are
// honoured.
func NewIPRateLimiter(rps float64, burst int, trustProxy bool) *IPRateLimiter {
	return &IPRateLimiter{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(rps),
		burst:      burst,
		ttl:        3 * time.Minute,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

// Cleanup evicts visitors idle for longer than the TTL.
func (l *IPRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
}

// Run evicts idle visitors every TTL interval until ctx is cancelled.
func (l *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429 and Retry-After.
func (l *IPRateLimiter) Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, l.trustProxy)
			res := l.limiterFor(ip).ReserveN(l.now(), 1)
			if !res.OK() {
				l.reject(w, r, log, ip, time.Second)
				return
			}
			if delay := res.DelayFrom(l.now()); delay > 0 {
				res.CancelAt(l.now())
				l.reject(w, r, log, ip, delay)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) reject(w http.ResponseWriter, r *http.Request, log *slog.Logger, ip string, retry time.Duration) {
	log.WarnContext(r.Context(), "ip rate limit exceeded",
		slog.String("ip", ip),
		slog.String("path", r.URL.Path),
	)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	httputil.WriteError(w, r, apperrors.TooManyRequests("too many requests"), log)
}

// ClientIP returns the caller's IP. Forwarding headers are only consulted
// when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			if ip := net.ParseIP(xri); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
