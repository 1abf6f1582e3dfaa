package redemption

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/store"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func assertError(msg string) error {
	return errors.New(msg)
}

type fakeL1 struct {
	finalize func(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*l1client.Receipt, error)
}

func (f *fakeL1) FinalizeL2Redemption(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*l1client.Receipt, error) {
	return f.finalize(ctx, depositKey, walletPubKeyHash32, redeemerOutputScript, amount, treasuryFee, txMaxFee, redeemer)
}

type fakeAttestation struct {
	fetch func(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error)
}

func (f *fakeAttestation) FetchVaa(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error) {
	return f.fetch(ctx, emitterChain, emitterAddress, sequence)
}

func newTestPipeline(redemptions store.RedemptionStore, l1 L1RedemptionFinalizer, attestation AttestationFetcher) *Pipeline {
	return &Pipeline{
		chainName:     "base-sepolia",
		gatewayAddr:   common.HexToAddress("0x00000000000000000000000000000000000abc"),
		redemptions:   redemptions,
		l1:            l1,
		attestation:   attestation,
		retryInterval: DefaultRetryInterval,
		clock:         clock.NewFake(time.Unix(0, 0)),
		logger:        testLogger(),
	}
}

func TestDueForRetrySkipsRecentlyActive(t *testing.T) {
	p := newTestPipeline(store.NewMemoryRedemptionStore(), nil, nil)
	now := p.clock.Now()

	assert.True(t, p.dueForRetry(time.Time{}))
	assert.False(t, p.dueForRetry(now))
	assert.True(t, p.dueForRetry(now.Add(-DefaultRetryInterval)))
}

func TestProcessPendingOneFetchesVaaWhenSequenceKnown(t *testing.T) {
	ctx := context.Background()
	redemptions := store.NewMemoryRedemptionStore()

	attestation := &fakeAttestation{
		fetch: func(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error) {
			return []byte("vaa-bytes"), nil
		},
	}
	p := newTestPipeline(redemptions, nil, attestation)

	r := &store.Redemption{
		ID: "0xdeadbeef", ChainName: "base-sepolia", Status: store.RedemptionPending,
		TransferSequence: 42,
	}
	require.NoError(t, redemptions.Create(ctx, r))

	require.NoError(t, p.processPendingOne(ctx, r))

	got, err := redemptions.GetByID(ctx, "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, store.RedemptionVaaFetched, got.Status)
	assert.Equal(t, []byte("vaa-bytes"), got.Vaa)
}

func TestProcessPendingOneMarksVaaFailedOnFetchError(t *testing.T) {
	ctx := context.Background()
	redemptions := store.NewMemoryRedemptionStore()

	attestation := &fakeAttestation{
		fetch: func(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error) {
			return nil, assertError("guardian network down")
		},
	}
	p := newTestPipeline(redemptions, nil, attestation)

	r := &store.Redemption{
		ID: "0xfeedface", ChainName: "base-sepolia", Status: store.RedemptionPending,
		TransferSequence: 7,
	}
	require.NoError(t, redemptions.Create(ctx, r))

	require.NoError(t, p.processPendingOne(ctx, r))

	got, err := redemptions.GetByID(ctx, "0xfeedface")
	require.NoError(t, err)
	assert.Equal(t, store.RedemptionVaaFailed, got.Status)
	assert.Contains(t, got.LastError, "guardian network down")
}

func TestProcessVaaFetchedOneSuccess(t *testing.T) {
	ctx := context.Background()
	redemptions := store.NewMemoryRedemptionStore()

	l1 := &fakeL1{
		finalize: func(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*l1client.Receipt, error) {
			var wantPad [12]byte
			assert.Equal(t, wantPad, [12]byte(walletPubKeyHash32[:12]))
			return &l1client.Receipt{TxHash: "0x1111", Success: true}, nil
		},
	}
	p := newTestPipeline(redemptions, l1, nil)

	var hash20 [20]byte
	copy(hash20[:], []byte("12345678901234567890"))
	r := &store.Redemption{
		ID: "0xabc123", ChainName: "base-sepolia", Status: store.RedemptionVaaFetched,
		Event: store.RedemptionEvent{WalletPubKeyHash: hash20, RedeemerOutputScript: []byte{0x01, 0x02}, Amount: 1000},
	}
	require.NoError(t, redemptions.Create(ctx, r))

	require.NoError(t, p.processVaaFetchedOne(ctx, r))

	got, err := redemptions.GetByID(ctx, "0xabc123")
	require.NoError(t, err)
	assert.Equal(t, store.RedemptionCompleted, got.Status)
	assert.Equal(t, "0x1111", got.L1SubmissionTxHash)
}

func TestProcessVaaFetchedOneMarksFailedOnRevert(t *testing.T) {
	ctx := context.Background()
	redemptions := store.NewMemoryRedemptionStore()

	l1 := &fakeL1{
		finalize: func(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*l1client.Receipt, error) {
			return nil, assertError("execution reverted: already redeemed")
		},
	}
	p := newTestPipeline(redemptions, l1, nil)

	r := &store.Redemption{
		ID: "0xbad", ChainName: "base-sepolia", Status: store.RedemptionVaaFetched,
	}
	require.NoError(t, redemptions.Create(ctx, r))

	require.NoError(t, p.processVaaFetchedOne(ctx, r))

	got, err := redemptions.GetByID(ctx, "0xbad")
	require.NoError(t, err)
	assert.Equal(t, store.RedemptionFailed, got.Status)
	assert.Contains(t, got.LastError, "already redeemed")
}
