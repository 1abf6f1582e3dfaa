package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePassRecordsErrorCount(t *testing.T) {
	r := New()

	r.ObservePass("base-sepolia", "initialize", 5*time.Millisecond, nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.PassErrors.WithLabelValues("base-sepolia", "initialize")))

	r.ObservePass("base-sepolia", "initialize", 5*time.Millisecond, assertErr())
	assert.Equal(t, float64(1), testutil.ToFloat64(r.PassErrors.WithLabelValues("base-sepolia", "initialize")))
}

func TestObserveAttestationPoll(t *testing.T) {
	r := New()
	r.ObserveAttestationPoll("solana-devnet", "not_ready")
	r.ObserveAttestationPoll("solana-devnet", "not_ready")
	assert.Equal(t, float64(2), testutil.ToFloat64(r.AttestationPolls.WithLabelValues("solana-devnet", "not_ready")))
}

func TestSetDepositsByStatus(t *testing.T) {
	r := New()
	r.SetDepositsByStatus("base-sepolia", "Queued", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.DepositsByStatus.WithLabelValues("base-sepolia", "Queued")))
}

type stubErr struct{}

func (stubErr) Error() string { return "stub" }

func assertErr() error { return stubErr{} }
