package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandlerRejectsInvalidPrivateKey(t *testing.T) {
	_, err := NewHandler(Config{
		ChainName:        "solana-devnet",
		RPCURL:           "https://api.devnet.solana.com",
		PrivateKeyBase58: "not-a-valid-key",
		CoreBridgeAddr:   "11111111111111111111111111111111",
		GatewayAddr:      "11111111111111111111111111111111",
		WrappedTbtcMint:  "11111111111111111111111111111111",
	})
	require.Error(t, err)
}

func TestDecodeBase58Address(t *testing.T) {
	decoded, err := DecodeBase58Address("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}
