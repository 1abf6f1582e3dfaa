package redemption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := newTestPipeline(nil, nil, nil)
	a.chainName = "base-sepolia"
	b := newTestPipeline(nil, nil, nil)
	b.chainName = "arbitrum-sepolia"

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	got, ok := r.Get("base-sepolia")
	require.True(t, ok)
	assert.Equal(t, "base-sepolia", got.ChainName())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"arbitrum-sepolia", "base-sepolia"}, r.ChainNames())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryRejectsDuplicateChainName(t *testing.T) {
	r := NewRegistry()
	a := newTestPipeline(nil, nil, nil)
	a.chainName = "base-sepolia"
	b := newTestPipeline(nil, nil, nil)
	b.chainName = "base-sepolia"

	require.NoError(t, r.Register(a))
	assert.Error(t, r.Register(b))
}
