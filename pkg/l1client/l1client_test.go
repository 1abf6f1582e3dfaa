package l1client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSentinelRevert(t *testing.T) {
	err := &ErrReverted{Method: "finalizeDeposit", Reason: "execution reverted: Deposit not finalized by the bridge"}
	assert.True(t, IsSentinelRevert(err))

	other := &ErrReverted{Method: "finalizeDeposit", Reason: "execution reverted: insufficient balance"}
	assert.False(t, IsSentinelRevert(other))

	assert.False(t, IsSentinelRevert(assert.AnError))
}

func TestNonceCounterMonotonic(t *testing.T) {
	c := &Client{nonceSet: true, nonce: 41}

	n1, err := c.nextNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(41), n1)

	n2, err := c.nextNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n2)

	c.releaseNonce()
	assert.Equal(t, uint64(42), c.nonce)
}

func TestReleaseNonceNeverGoesNegative(t *testing.T) {
	c := &Client{nonceSet: true, nonce: 0}
	c.releaseNonce()
	assert.Equal(t, uint64(0), c.nonce)
}
