package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters of the account-security flows. A nil *Metrics
// records nothing.
type Metrics struct {
	LoginOutcomes      *prometheus.CounterVec
	OTPVerifications   *prometheus.CounterVec
	OTPIssued          *prometheus.CounterVec
	LockoutsApplied    *prometheus.CounterVec
	PasswordResets     *prometheus.CounterVec
	StaleOTPsCompacted prometheus.Counter
	AuthDuration       *prometheus.HistogramVec
}

// New registers the metrics with reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collegeerp_login_attempts_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collegeerp_otp_verifications_total",
			Help: "OTP verifications by flow and outcome",
		}, []string{"flow", "outcome"}),
		OTPIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collegeerp_otp_issued_total",
			Help: "OTPs issued by flow and delivery result",
		}, []string{"flow", "delivery"}),
		LockoutsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collegeerp_lockouts_total",
			Help: "Lock tiers entered after a failed login",
		}, []string{"tier"}),
		PasswordResets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collegeerp_password_resets_total",
			Help: "Password reset attempts by outcome",
		}, []string{"outcome"}),
		StaleOTPsCompacted: factory.NewCounter(prometheus.CounterOpts{
			Name: "collegeerp_stale_otps_compacted_total",
			Help: "Accounts whose stale OTP state was removed by the cleanup task",
		}),
		AuthDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collegeerp_auth_operation_duration_seconds",
			Help:    "Duration of authentication operations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOTPVerification(flow, outcome string) {
	if m == nil {
		return
	}
	m.OTPVerifications.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) ObserveOTPIssued(flow string, delivered bool) {
	if m == nil {
		return
	}
	delivery := "sent"
	if !delivered {
		delivery = "failed"
	}
	m.OTPIssued.WithLabelValues(flow, delivery).Inc()
}

func (m *Metrics) ObserveLockout(tier string) {
	if m == nil {
		return
	}
	m.LockoutsApplied.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObservePasswordReset(outcome string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddStaleOTPsCompacted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleOTPsCompacted.Add(float64(n))
}

func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.AuthDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
