package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes. Only "invalid_phone" is visible to the caller; every
// other outcome produces the same response.
const (
	outcomeIssued       = "issued"
	outcomeThrottled    = "throttled"
	outcomeIneligible   = "ineligible"
	outcomeInvalidPhone = "invalid_phone"
	outcomeError        = "error"
)

// Verify outcomes. All but "success" produce the same response.
const (
	outcomeSuccess    = "success"
	outcomeMalformed  = "malformed"
	outcomeMismatched = "mismatched"
	outcomeExhausted  = "exhausted"
	outcomeExpired    = "expired"
	outcomeNotFound   = "not_found"
)

// Metrics counts sign-in outcomes.
type Metrics struct {
	requests      *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewMetrics registers the OTP counters on reg. A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_challenge_requests_total",
			Help: "WhatsApp sign-in code requests by internal outcome",
		}, []string{"outcome"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "WhatsApp sign-in code verifications by internal outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) request(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) verification(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}
