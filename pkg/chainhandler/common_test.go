package chainhandler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/store"
)

type fakeL1 struct {
	depositStatus      func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error)
	initialize         func(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error)
	finalize           func(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error)
	transferSequenceOf func(ctx context.Context, l1TxHash string) (uint64, error)
}

func (f *fakeL1) TransferSequenceOf(ctx context.Context, l1TxHash string) (uint64, error) {
	if f.transferSequenceOf == nil {
		return 0, errors.New("transferSequenceOf not configured on fakeL1")
	}
	return f.transferSequenceOf(ctx, l1TxHash)
}

func (f *fakeL1) DepositStatusOf(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
	return f.depositStatus(ctx, depositKey)
}

func (f *fakeL1) InitializeDeposit(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error) {
	return f.initialize(ctx, fundingTx, reveal, l2DepositOwner)
}

func (f *fakeL1) FinalizeDeposit(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error) {
	return f.finalize(ctx, depositKey)
}

func newTestCommon(t *testing.T, l1 *fakeL1) (*Common, store.DepositStore) {
	t.Helper()
	deposits := store.NewMemoryDepositStore()
	c := NewCommon("test-evm", deposits, l1)
	c.Clock = clock.NewFake(time.Unix(0, 0))
	return c, deposits
}

func TestProcessInitializeDepositsSendsInitializeWhenUnknownOnChain(t *testing.T) {
	ctx := context.Background()
	var initializeCalled bool
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusUnknown, nil
		},
		initialize: func(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error) {
			initializeCalled = true
			return &l1client.Receipt{TxHash: "0xinit", Success: true}, nil
		},
	}
	c, deposits := newTestCommon(t, l1)

	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositQueued}))

	require.NoError(t, c.ProcessInitializeDeposits(ctx))
	assert.True(t, initializeCalled)

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositInitialized, got.Status)
	assert.Equal(t, "0xinit", got.Hashes.L1InitializeTx)
}

func TestProcessInitializeDepositsReconcilesWithoutSending(t *testing.T) {
	ctx := context.Background()
	var initializeCalled bool
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusInitialized, nil
		},
		initialize: func(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error) {
			initializeCalled = true
			return nil, nil
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositQueued}))

	require.NoError(t, c.ProcessInitializeDeposits(ctx))
	assert.False(t, initializeCalled)

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositInitialized, got.Status)
}

func TestProcessInitializeDepositsSkipsRecentlyActive(t *testing.T) {
	ctx := context.Background()
	var calls int
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			calls++
			return l1client.DepositStatusUnknown, nil
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{
		ID: "1a", ChainName: "test-evm", Status: store.DepositQueued,
		Dates: store.DepositDates{LastActivityAt: c.Clock.Now()},
	}))

	require.NoError(t, c.ProcessInitializeDeposits(ctx))
	assert.Equal(t, 0, calls)
}

func TestProcessInitializeDepositsPostSendRevertWalksBackToQueued(t *testing.T) {
	ctx := context.Background()
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusUnknown, nil
		},
		initialize: func(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error) {
			return &l1client.Receipt{TxHash: "0xinit", Success: false}, nil
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositQueued}))

	require.NoError(t, c.ProcessInitializeDeposits(ctx))

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositQueued, got.Status)
	assert.Contains(t, got.LastError, "0xinit")
	assert.True(t, got.Dates.InitializedAt.IsZero())
}

func TestProcessFinalizeDepositsPostSendRevertStaysInitialized(t *testing.T) {
	ctx := context.Background()
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusUnknown, nil
		},
		finalize: func(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error) {
			return &l1client.Receipt{TxHash: "0xfinal", Success: false}, nil
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositInitialized}))

	require.NoError(t, c.ProcessFinalizeDeposits(ctx))

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositInitialized, got.Status)
	assert.Contains(t, got.LastError, "0xfinal")
	assert.True(t, got.Dates.FinalizedAt.IsZero())
}

func TestProcessFinalizeDepositsSentinelRevertIsNotError(t *testing.T) {
	ctx := context.Background()
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusInitialized, nil
		},
		finalize: func(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error) {
			return nil, &l1client.ErrReverted{Method: "finalizeDeposit", Reason: "execution reverted: Deposit not finalized by the bridge"}
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositInitialized}))

	require.NoError(t, c.ProcessFinalizeDeposits(ctx))

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositInitialized, got.Status)
	assert.Empty(t, got.LastError)
	assert.False(t, got.Dates.LastActivityAt.IsZero())
}

func TestProcessFinalizeDepositsOtherRevertRecordsLastError(t *testing.T) {
	ctx := context.Background()
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusInitialized, nil
		},
		finalize: func(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error) {
			return nil, errors.New("execution reverted: insufficient vault balance")
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositInitialized}))

	require.NoError(t, c.ProcessFinalizeDeposits(ctx))

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositInitialized, got.Status)
	assert.Contains(t, got.LastError, "insufficient vault balance")
}

func TestProcessFinalizeDepositsSuccess(t *testing.T) {
	ctx := context.Background()
	l1 := &fakeL1{
		depositStatus: func(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error) {
			return l1client.DepositStatusUnknown, nil
		},
		finalize: func(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error) {
			return &l1client.Receipt{TxHash: "0xfinal", Success: true}, nil
		},
	}
	c, deposits := newTestCommon(t, l1)
	require.NoError(t, deposits.Create(ctx, &store.Deposit{ID: "1a", ChainName: "test-evm", Status: store.DepositInitialized}))

	require.NoError(t, c.ProcessFinalizeDeposits(ctx))

	got, err := deposits.GetByID(ctx, "1a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositFinalized, got.Status)
	assert.Equal(t, "0xfinal", got.Hashes.L1FinalizeTx)
}
