package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositIDDeterminism(t *testing.T) {
	txHash := []byte{0x01, 0x02, 0x03, 0x04}
	id1 := DepositID(txHash, 5)
	id2 := DepositID(txHash, 5)
	assert.Equal(t, id1, id2)

	other := DepositID(txHash, 6)
	assert.NotEqual(t, id1, other)

	bigInt := DepositIDBigInt(txHash, 5)
	require.NotNil(t, bigInt)
	assert.Equal(t, id1, fixedHex(bigInt))
}

func fixedHex(n interface{ Text(int) string }) string {
	s := n.Text(16)
	for len(s) < 64 {
		s = "0" + s
	}
	return s
}

func TestMemoryDepositStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDepositStore()

	d := &Deposit{ID: "dep-1", ChainName: "ethereum-sepolia", Status: DepositQueued}
	require.NoError(t, s.Create(ctx, d))

	err := s.Create(ctx, d)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.GetByID(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, DepositQueued, got.Status)

	got.Status = DepositInitialized
	got.Dates.LastActivityAt = time.Now()
	require.NoError(t, s.Update(ctx, got))

	got2, err := s.GetByID(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, DepositInitialized, got2.Status)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Update(ctx, &Deposit{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDepositStoreGetByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDepositStore()

	require.NoError(t, s.Create(ctx, &Deposit{ID: "a", ChainName: "evm", Status: DepositQueued}))
	require.NoError(t, s.Create(ctx, &Deposit{ID: "b", ChainName: "evm", Status: DepositQueued}))
	require.NoError(t, s.Create(ctx, &Deposit{ID: "c", ChainName: "solana", Status: DepositQueued}))
	require.NoError(t, s.Create(ctx, &Deposit{ID: "d", ChainName: "evm", Status: DepositFinalized}))

	queued, err := s.GetByStatus(ctx, DepositQueued, "evm")
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	all, err := s.GetByStatus(ctx, DepositQueued, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryRedemptionStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRedemptionStore()

	r := &Redemption{ID: "0xredemption", ChainName: "evm", Status: RedemptionPending}
	require.NoError(t, s.Create(ctx, r))
	assert.ErrorIs(t, s.Create(ctx, r), ErrAlreadyExists)

	r.Status = RedemptionVaaFetched
	require.NoError(t, s.Update(ctx, r))

	got, err := s.GetByID(ctx, "0xredemption")
	require.NoError(t, err)
	assert.Equal(t, RedemptionVaaFetched, got.Status)
}
