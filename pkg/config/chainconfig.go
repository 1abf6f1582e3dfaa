package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainPlatform identifies the destination-chain execution environment a
// ChainConfig targets. Sui is represented on its own rather than folded
// into a generic "Move" bucket, since no other Move-VM chain is in scope.
type ChainPlatform string

const (
	ChainPlatformEVM      ChainPlatform = "evm"
	ChainPlatformSolana   ChainPlatform = "solana"
	ChainPlatformSui      ChainPlatform = "sui"
	ChainPlatformStarknet ChainPlatform = "starknet"
)

func (p ChainPlatform) IsValid() bool {
	switch p {
	case ChainPlatformEVM, ChainPlatformSolana, ChainPlatformSui, ChainPlatformStarknet:
		return true
	}
	return false
}

// Network identifies which network tier a ChainConfig points at.
type Network string

const (
	NetworkMainnet Network = "Mainnet"
	NetworkTestnet Network = "Testnet"
	NetworkDevnet  Network = "Devnet"
)

// ChainConfig is the validated, typed per-chain configuration record. It
// is polymorphic over Platform: every chain-specific field is optional
// and only the fields relevant to Platform are expected to be set.
type ChainConfig struct {
	ChainName string        `yaml:"chainName"`
	Platform  ChainPlatform `yaml:"platform"`
	Network   Network       `yaml:"network"`

	L1Rpc   string `yaml:"l1Rpc"`
	L2Rpc   string `yaml:"l2Rpc"`
	L2WsRpc string `yaml:"l2WsRpc"`

	L1BitcoinDepositorAddress string `yaml:"l1BitcoinDepositorAddress"`
	L2BitcoinDepositorAddress string `yaml:"l2BitcoinDepositorAddress"`
	VaultAddress              string `yaml:"vaultAddress"`
	L2WormholeGatewayAddress  string `yaml:"l2WormholeGatewayAddress"`
	L2WormholeChainID         uint16 `yaml:"l2WormholeChainId"`
	WormholeCoreBridgeAddress string `yaml:"wormholeCoreBridgeAddress,omitempty"`

	L1Confirmations int    `yaml:"l1Confirmations"`
	L2StartBlock    uint64 `yaml:"l2StartBlock"`

	UseEndpoint              bool `yaml:"useEndpoint"`
	EnableL2Redemption       bool `yaml:"enableL2Redemption"`
	SupportsRevealDepositAPI bool `yaml:"supportsRevealDepositAPI"`

	// EVM
	PrivateKey string `yaml:"privateKey,omitempty"`
	L2ChainID  int64  `yaml:"l2ChainId,omitempty"` // EIP-155 chain id the gateway bridging call is signed for

	// Solana
	SolanaPrivateKey      string `yaml:"solanaPrivateKey,omitempty"`
	SolanaCommitment      string `yaml:"solanaCommitment,omitempty"` // processed|confirmed|finalized
	SolanaWrappedTbtcMint string `yaml:"solanaWrappedTbtcMint,omitempty"`

	// Sui
	SuiPrivateKey     string `yaml:"suiPrivateKey,omitempty"` // base64 only; the Bech32 "suiprivkey1..." form is not accepted
	ReceiverStateID   string `yaml:"receiverStateId,omitempty"`
	GatewayStateID    string `yaml:"gatewayStateId,omitempty"`
	CapabilitiesID    string `yaml:"capabilitiesId,omitempty"`
	TreasuryID        string `yaml:"treasuryId,omitempty"`
	WormholeCoreID    string `yaml:"wormholeCoreId,omitempty"`
	TokenBridgeID     string `yaml:"tokenBridgeId,omitempty"`
	TokenStateID      string `yaml:"tokenStateId,omitempty"`
	WrappedTbtcType   string `yaml:"wrappedTbtcType,omitempty"`
	SuiGasObjectID    string `yaml:"suiGasObjectId,omitempty"`

	// Starknet
	StarknetPrivateKey string `yaml:"starknetPrivateKey,omitempty"`
	L1FeeAmountWei     string `yaml:"l1FeeAmountWei,omitempty"` // decimal string, default "0"
}

// Validate checks the common and platform-specific fields of a
// ChainConfig, collecting every failure into one joined error.
func (c *ChainConfig) Validate() error {
	var errs []string

	if c.ChainName == "" {
		errs = append(errs, "chainName is required")
	}
	if !c.Platform.IsValid() {
		errs = append(errs, fmt.Sprintf("platform %q is not a supported chain platform", c.Platform))
	}
	if c.L1Rpc == "" {
		errs = append(errs, "l1Rpc is required")
	}
	if c.L2Rpc == "" && !c.UseEndpoint {
		errs = append(errs, "l2Rpc is required unless useEndpoint is set")
	}
	if c.L1BitcoinDepositorAddress == "" {
		errs = append(errs, "l1BitcoinDepositorAddress is required")
	}
	if c.L1Confirmations <= 0 {
		errs = append(errs, "l1Confirmations must be positive")
	}

	switch c.Platform {
	case ChainPlatformEVM:
		if c.PrivateKey == "" {
			errs = append(errs, "privateKey is required for evm chains")
		}
		if c.L2WormholeGatewayAddress != "" && c.L2ChainID == 0 {
			errs = append(errs, "l2ChainId is required for evm chains with l2WormholeGatewayAddress set")
		}
	case ChainPlatformSolana:
		if c.SolanaPrivateKey == "" {
			errs = append(errs, "solanaPrivateKey is required for solana chains")
		}
		switch c.SolanaCommitment {
		case "", "processed", "confirmed", "finalized":
		default:
			errs = append(errs, fmt.Sprintf("solanaCommitment %q is not one of processed|confirmed|finalized", c.SolanaCommitment))
		}
	case ChainPlatformSui:
		if c.SuiPrivateKey == "" {
			errs = append(errs, "suiPrivateKey is required for sui chains")
		}
		if c.ReceiverStateID == "" || c.GatewayStateID == "" {
			errs = append(errs, "receiverStateId and gatewayStateId are required for sui chains")
		}
	case ChainPlatformStarknet:
		if c.StarknetPrivateKey == "" {
			errs = append(errs, "starknetPrivateKey is required for starknet chains")
		}
		if c.L1FeeAmountWei == "" {
			c.L1FeeAmountWei = "0"
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("chain config %q: %s", c.ChainName, strings.Join(errs, "; "))
	}
	return nil
}

// LoadChainConfigs reads one YAML ChainConfig per *.yaml/*.yml file under
// dir. If only is non-empty, only chains whose ChainName appears in only
// are returned; the rest of dir is ignored.
func LoadChainConfigs(dir string, only []string) (map[string]*ChainConfig, error) {
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading chain config dir %q: %w", dir, err)
	}

	result := make(map[string]*ChainConfig)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading chain config %q: %w", path, err)
		}

		var cc ChainConfig
		if err := yaml.Unmarshal(data, &cc); err != nil {
			return nil, fmt.Errorf("parsing chain config %q: %w", path, err)
		}

		if len(wanted) > 0 && !wanted[cc.ChainName] {
			continue
		}
		if err := cc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := result[cc.ChainName]; dup {
			return nil, fmt.Errorf("duplicate chain config for chainName %q (file %q)", cc.ChainName, path)
		}
		result[cc.ChainName] = &cc
	}

	return result, nil
}
