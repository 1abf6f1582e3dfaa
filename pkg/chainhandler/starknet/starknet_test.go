package starknet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/store"
)

func testHandler(deposits store.DepositStore) *Handler {
	common := chainhandler.NewCommon("starknet-sepolia", deposits, nil)
	common.Clock = clock.NewFake(time.Unix(0, 0))
	return &Handler{Common: common}
}

func TestApplyBridgedPayloadTransitionsKnownDeposit(t *testing.T) {
	ctx := context.Background()
	deposits := store.NewMemoryDepositStore()
	depositKey, _ := new(big.Int).SetString("1a", 16)

	require.NoError(t, deposits.Create(ctx, &store.Deposit{
		ID: "000000000000000000000000000000000000000000000000000000000000001a", ChainName: "starknet-sepolia", Status: store.DepositInitialized,
	}))

	h := testHandler(deposits)
	payload := bridgedPayload{DepositKey: depositKey, Amount: big.NewInt(1000), StarkNetRecipient: big.NewInt(42)}

	require.NoError(t, h.applyBridgedPayload(ctx, payload, "0xabc"))

	got, err := deposits.GetByID(ctx, "000000000000000000000000000000000000000000000000000000000000001a")
	require.NoError(t, err)
	assert.Equal(t, store.DepositBridged, got.Status)
	assert.Equal(t, "0xabc", got.Hashes.L2BridgeTx)
}

func TestApplyBridgedPayloadIgnoresUnknownDeposit(t *testing.T) {
	ctx := context.Background()
	deposits := store.NewMemoryDepositStore()
	h := testHandler(deposits)

	payload := bridgedPayload{DepositKey: big.NewInt(999), Amount: big.NewInt(1), StarkNetRecipient: big.NewInt(1)}
	assert.NoError(t, h.applyBridgedPayload(ctx, payload, "0xdead"))
}

func TestApplyBridgedPayloadIdempotent(t *testing.T) {
	ctx := context.Background()
	deposits := store.NewMemoryDepositStore()
	depositKey, _ := new(big.Int).SetString("2b", 16)

	require.NoError(t, deposits.Create(ctx, &store.Deposit{
		ID: "000000000000000000000000000000000000000000000000000000000000002b", ChainName: "starknet-sepolia", Status: store.DepositBridged,
		Hashes: store.DepositHashes{L2BridgeTx: "0xoriginal"},
	}))

	h := testHandler(deposits)
	payload := bridgedPayload{DepositKey: depositKey, Amount: big.NewInt(1), StarkNetRecipient: big.NewInt(1)}
	require.NoError(t, h.applyBridgedPayload(ctx, payload, "0xnew"))

	got, err := deposits.GetByID(ctx, "000000000000000000000000000000000000000000000000000000000000002b")
	require.NoError(t, err)
	assert.Equal(t, "0xoriginal", got.Hashes.L2BridgeTx)
}
