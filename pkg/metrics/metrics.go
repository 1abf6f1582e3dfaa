// Package metrics exposes the Prometheus instrumentation surface for
// the relayer: per-chain pass durations, retry counts, and attestation
// poll counts, registered against a dedicated registry so cmd/relayer
// can serve it at /metrics without pulling in the default global
// registry's Go-runtime clutter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric this service exports alongside the
// prometheus.Registry they're registered against.
type Registry struct {
	Registry *prometheus.Registry

	PassDuration       *prometheus.HistogramVec
	PassErrors         *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	AttestationPolls   *prometheus.CounterVec
	DepositsByStatus   *prometheus.GaugeVec
	RedemptionsByStatus *prometheus.GaugeVec
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registry: reg,
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tbtc_relayer",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a single chain/pass-kind Orchestrator pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "pass"}),
		PassErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tbtc_relayer",
			Name:      "pass_errors_total",
			Help:      "Count of passes that returned a non-nil error. An error-counted metric, not an exception: failures are expected and retried on the next tick.",
		}, []string{"chain", "pass"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tbtc_relayer",
			Name:      "retry_attempts_total",
			Help:      "Count of retry attempts taken by pkg/retry's bounded backoff schedule.",
		}, []string{"chain", "operation"}),
		AttestationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tbtc_relayer",
			Name:      "attestation_polls_total",
			Help:      "Count of VAA polls against the attestation API, by outcome.",
		}, []string{"chain", "outcome"}),
		DepositsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tbtc_relayer",
			Name:      "deposits_by_status",
			Help:      "Current count of deposit records in each lifecycle status, by chain.",
		}, []string{"chain", "status"}),
		RedemptionsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tbtc_relayer",
			Name:      "redemptions_by_status",
			Help:      "Current count of redemption records in each lifecycle status, by chain.",
		}, []string{"chain", "status"}),
	}

	reg.MustRegister(
		r.PassDuration,
		r.PassErrors,
		r.RetryAttempts,
		r.AttestationPolls,
		r.DepositsByStatus,
		r.RedemptionsByStatus,
	)

	return r
}

// ObservePass records the outcome and duration of a single pass.
func (r *Registry) ObservePass(chain, pass string, duration time.Duration, err error) {
	r.PassDuration.WithLabelValues(chain, pass).Observe(duration.Seconds())
	if err != nil {
		r.PassErrors.WithLabelValues(chain, pass).Inc()
	}
}

// ObserveRetry records one retry attempt for (chain, operation).
func (r *Registry) ObserveRetry(chain, operation string) {
	r.RetryAttempts.WithLabelValues(chain, operation).Inc()
}

// ObserveAttestationPoll records one VAA poll outcome: "success",
// "not_ready", or "failed".
func (r *Registry) ObserveAttestationPoll(chain, outcome string) {
	r.AttestationPolls.WithLabelValues(chain, outcome).Inc()
}

// SetDepositsByStatus overwrites the current gauge value for (chain, status).
func (r *Registry) SetDepositsByStatus(chain, status string, count float64) {
	r.DepositsByStatus.WithLabelValues(chain, status).Set(count)
}

// SetRedemptionsByStatus overwrites the current gauge value for (chain, status).
func (r *Registry) SetRedemptionsByStatus(chain, status string, count float64) {
	r.RedemptionsByStatus.WithLabelValues(chain, status).Set(count)
}
