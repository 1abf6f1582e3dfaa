package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRequiresFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "ATTESTATION_API_BASE")
}

func TestConfigValidatePasses(t *testing.T) {
	cfg := &Config{
		DatabaseURL:        "postgres://localhost/relayer",
		ChainConfigDir:     "./chains",
		AttestationAPIBase: "https://wormhole-guardian.example.com",
		WorkerPoolSize:     8,
		RetryInterval:      1,
	}
	assert.NoError(t, cfg.Validate())
}

func TestChainConfigValidateEVM(t *testing.T) {
	cc := &ChainConfig{
		ChainName:                 "base-sepolia",
		Platform:                  ChainPlatformEVM,
		L1Rpc:                     "https://eth-sepolia.example.com",
		L2Rpc:                     "https://base-sepolia.example.com",
		L1BitcoinDepositorAddress: "0xabc",
		L1Confirmations:           6,
		PrivateKey:                "0xdeadbeef",
	}
	assert.NoError(t, cc.Validate())
}

func TestChainConfigValidateMissingPlatformSecret(t *testing.T) {
	cc := &ChainConfig{
		ChainName:                 "solana-devnet",
		Platform:                  ChainPlatformSolana,
		L1Rpc:                     "https://eth-sepolia.example.com",
		UseEndpoint:               true,
		L1BitcoinDepositorAddress: "0xabc",
		L1Confirmations:           6,
	}
	err := cc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solanaPrivateKey")
}

func TestLoadChainConfigs(t *testing.T) {
	dir := t.TempDir()
	evmYAML := `
chainName: base-sepolia
platform: evm
l1Rpc: https://eth-sepolia.example.com
l2Rpc: https://base-sepolia.example.com
l1BitcoinDepositorAddress: "0xabc"
l1Confirmations: 6
privateKey: "0xdeadbeef"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base-sepolia.yaml"), []byte(evmYAML), 0o600))

	suiYAML := `
chainName: sui-testnet
platform: sui
l1Rpc: https://eth-sepolia.example.com
useEndpoint: true
l1BitcoinDepositorAddress: "0xabc"
l1Confirmations: 6
suiPrivateKey: "AAAA"
receiverStateId: "0x1"
gatewayStateId: "0x2"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sui-testnet.yaml"), []byte(suiYAML), 0o600))

	configs, err := LoadChainConfigs(dir, nil)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, ChainPlatformEVM, configs["base-sepolia"].Platform)
	assert.Equal(t, ChainPlatformSui, configs["sui-testnet"].Platform)

	filtered, err := LoadChainConfigs(dir, []string{"base-sepolia"})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}
