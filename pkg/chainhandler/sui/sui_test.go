package sui

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDepositRevealBytes() []byte {
	raw := make([]byte, 56)
	raw[3] = 7 // fundingOutputIndex = 7, big-endian uint32
	for i := 4; i < 12; i++ {
		raw[i] = byte(i) // blindingFactor
	}
	for i := 12; i < 32; i++ {
		raw[i] = byte(i) // walletPubKeyHash
	}
	for i := 32; i < 52; i++ {
		raw[i] = byte(i) // refundPubKeyHash
	}
	for i := 52; i < 56; i++ {
		raw[i] = byte(i) // refundLocktime
	}
	return raw
}

func TestDecodeDepositRevealLayout(t *testing.T) {
	raw := buildDepositRevealBytes()
	reveal, err := decodeDepositReveal(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(7), reveal.FundingOutputIndex)
	assert.Equal(t, byte(4), reveal.BlindingFactor[0])
	assert.Equal(t, byte(12), reveal.WalletPubKeyHash[0])
	assert.Equal(t, byte(32), reveal.RefundPubKeyHash[0])
	assert.Equal(t, byte(52), reveal.RefundLocktime[0])
}

func TestDecodeDepositRevealRejectsWrongLength(t *testing.T) {
	_, err := decodeDepositReveal(make([]byte, 40))
	assert.Error(t, err)
}

func TestHexOrBase64DecodeHexPrefixed(t *testing.T) {
	got, err := hexOrBase64Decode("0x0102ff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, got)
}

func TestHexOrBase64DecodeBase64(t *testing.T) {
	want := []byte("hello-sui")
	got, err := hexOrBase64Decode(base64.StdEncoding.EncodeToString(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
