// Package contracts holds the minimal ABI fragments the relayer needs
// for the L1 BitcoinDepositor/TBTCVault contracts and the L2 redeemer
// contracts, scoped to exactly the methods and events pkg/l1client,
// pkg/chainhandler and pkg/redemption call or decode. A production
// deployment would instead vendor the full tbtc-v2 contract ABIs; these
// fragments are sufficient for go-ethereum's abi.JSON to build the
// method/event selectors this relayer actually uses.
package contracts

// DepositorABI covers the shared L1 BitcoinDepositor surface: the
// initialize/finalize/redemption state machine plus the
// DepositInitialized and TBTCBridgedToStarkNet events destination
// chains listen for.
const DepositorABI = `[
  {
    "name": "deposits",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "depositKey", "type": "uint256"}],
    "outputs": [{"name": "status", "type": "uint8"}]
  },
  {
    "name": "quoteFinalizeDeposit",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "value", "type": "uint256"}]
  },
  {
    "name": "initializeDeposit",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "fundingTx", "type": "bytes"},
      {"name": "reveal", "type": "tuple", "components": [
        {"name": "fundingOutputIndex", "type": "uint32"},
        {"name": "blindingFactor", "type": "bytes8"},
        {"name": "walletPubKeyHash", "type": "bytes20"},
        {"name": "refundPubKeyHash", "type": "bytes20"},
        {"name": "refundLocktime", "type": "bytes4"},
        {"name": "vault", "type": "address"}
      ]},
      {"name": "l2DepositOwner", "type": "bytes"}
    ],
    "outputs": []
  },
  {
    "name": "finalizeDeposit",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [{"name": "depositKey", "type": "uint256"}],
    "outputs": []
  },
  {
    "name": "finalizeL2Redemption",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "depositKey", "type": "uint256"},
      {"name": "walletPubKeyHash", "type": "bytes32"},
      {"name": "redeemerOutputScript", "type": "bytes"},
      {"name": "amount", "type": "uint256"},
      {"name": "treasuryFee", "type": "uint256"},
      {"name": "txMaxFee", "type": "uint256"},
      {"name": "redeemer", "type": "address"}
    ],
    "outputs": []
  },
  {
    "name": "DepositInitialized",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "fundingTx", "type": "bytes", "indexed": false},
      {"name": "reveal", "type": "tuple", "indexed": false, "components": [
        {"name": "fundingOutputIndex", "type": "uint32"},
        {"name": "blindingFactor", "type": "bytes8"},
        {"name": "walletPubKeyHash", "type": "bytes20"},
        {"name": "refundPubKeyHash", "type": "bytes20"},
        {"name": "refundLocktime", "type": "bytes4"},
        {"name": "vault", "type": "address"}
      ]},
      {"name": "l2DepositOwner", "type": "address", "indexed": false},
      {"name": "l2Sender", "type": "address", "indexed": false}
    ]
  },
  {
    "name": "TBTCBridgedToStarkNet",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "depositKey", "type": "uint256", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "starkNetRecipient", "type": "uint256", "indexed": false}
    ]
  },
  {
    "name": "TokensTransferredWithPayload",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "receiver", "type": "bytes32", "indexed": false},
      {"name": "transferSequence", "type": "uint64", "indexed": false}
    ]
  }
]`

// GatewayABI covers the destination-chain Wormhole gateway's receiveTbtc
// entry point, the call an EVM L2 bridging pass makes once a VAA has
// been fetched for a Finalized deposit (the Solana/Sui equivalents of
// this call use their own native transaction formats instead).
const GatewayABI = `[
  {
    "name": "receiveTbtc",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "vaa", "type": "bytes"}],
    "outputs": []
  }
]`

// VaultABI covers TBTCVault's OptimisticMintingFinalized event, the
// event l1client.Client.WatchOptimisticMintingFinalized subscribes to.
const VaultABI = `[
  {
    "name": "OptimisticMintingFinalized",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "minter", "type": "address", "indexed": true},
      {"name": "depositKey", "type": "uint256", "indexed": true},
      {"name": "depositor", "type": "address", "indexed": true},
      {"name": "mintedAmount", "type": "uint256", "indexed": false}
    ]
  }
]`

// RedeemerABI covers the L2 redeemer contract's RedemptionRequested
// event, the entry point into the redemption pipeline.
const RedeemerABI = `[
  {
    "name": "RedemptionRequested",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "redeemer", "type": "address", "indexed": false},
      {"name": "walletPubKeyHash", "type": "bytes32", "indexed": false},
      {"name": "mainUtxoTxHash", "type": "bytes32", "indexed": false},
      {"name": "mainUtxoOutputIndex", "type": "uint32", "indexed": false},
      {"name": "mainUtxoValue", "type": "uint64", "indexed": false},
      {"name": "redeemerOutputScript", "type": "bytes", "indexed": false},
      {"name": "amount", "type": "uint64", "indexed": false}
    ]
  }
]`
