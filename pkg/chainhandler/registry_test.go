package chainhandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name string
}

func (s *stubHandler) ChainName() string                      { return s.name }
func (s *stubHandler) Initialize(ctx context.Context) error    { return nil }
func (s *stubHandler) StartListening(ctx context.Context) error { return nil }
func (s *stubHandler) ProcessInitializeDeposits(ctx context.Context) error { return nil }
func (s *stubHandler) ProcessFinalizeDeposits(ctx context.Context) error   { return nil }
func (s *stubHandler) GetLatestBlock(ctx context.Context) (uint64, error)  { return 0, nil }
func (s *stubHandler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	return nil
}
func (s *stubHandler) CheckDepositStatus(ctx context.Context, depositID string) error { return nil }
func (s *stubHandler) SupportsPastDepositCheck() bool                                 { return true }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{name: "base-sepolia"}))
	require.NoError(t, r.Register(&stubHandler{name: "solana-devnet"}))

	h, ok := r.Get("base-sepolia")
	require.True(t, ok)
	assert.Equal(t, "base-sepolia", h.ChainName())

	_, ok = r.Get("missing-chain")
	assert.False(t, ok)

	assert.Equal(t, []string{"base-sepolia", "solana-devnet"}, r.ChainNames())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryRejectsDuplicateChainName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{name: "base-sepolia"}))
	err := r.Register(&stubHandler{name: "base-sepolia"})
	assert.Error(t, err)
}
