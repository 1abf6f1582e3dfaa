// Package store defines the durable repository of deposit and
// redemption lifecycle records (DepositStore / RedemptionStore) and
// ships a Postgres-backed implementation alongside an in-memory one
// used by tests and single-process dev deployments.
package store

import "time"

// DepositStatus is the lifecycle state of a Deposit record.
type DepositStatus string

const (
	DepositQueued              DepositStatus = "Queued"
	DepositInitialized         DepositStatus = "Initialized"
	DepositFinalized           DepositStatus = "Finalized"
	DepositAwaitingAttestation DepositStatus = "AwaitingAttestation"
	DepositBridged             DepositStatus = "Bridged"
	DepositError               DepositStatus = "Error"
)

// RedemptionStatus is the lifecycle state of a Redemption record.
type RedemptionStatus string

const (
	RedemptionPending    RedemptionStatus = "Pending"
	RedemptionVaaFetched RedemptionStatus = "VaaFetched"
	RedemptionVaaFailed  RedemptionStatus = "VaaFailed"
	RedemptionCompleted  RedemptionStatus = "Completed"
	RedemptionFailed     RedemptionStatus = "Failed"
)

// L1OutputEvent is the data required to call L1 initialize for a
// deposit: the Bitcoin funding transaction, the reveal payload and the
// L2 identities that requested it.
type L1OutputEvent struct {
	FundingTx      []byte
	Reveal         Reveal
	L2DepositOwner string
	L2Sender       string
}

// Reveal is the Bitcoin-specific payload proving deposit intent.
type Reveal struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              string
}

// DepositHashes records the transaction hash observed at each pipeline
// step, any of which may be empty until that step runs.
type DepositHashes struct {
	BtcFundingTxHash string
	L1InitializeTx   string
	L1FinalizeTx     string
	L2BridgeTx       string
}

// AttestationInfo is populated once a deposit has been finalized on L1
// and its cross-chain transfer sequence extracted.
type AttestationInfo struct {
	TransferSequence uint64
	L1TxHash         string
}

// DepositDates tracks the monotonically non-decreasing timestamps for
// each step of a deposit's lifecycle.
type DepositDates struct {
	CreatedAt      time.Time
	InitializedAt  time.Time
	FinalizedAt    time.Time
	BridgedAt      time.Time
	LastActivityAt time.Time
}

// Deposit is the durable record of a single Bitcoin-to-tBTC deposit.
type Deposit struct {
	ID              string
	ChainName       string
	Status          DepositStatus
	L1OutputEvent   L1OutputEvent
	Hashes          DepositHashes
	AttestationInfo AttestationInfo
	Dates           DepositDates
	LastError       string
}

// RedemptionEvent is the payload that created a redemption request.
type RedemptionEvent struct {
	WalletPubKeyHash     [20]byte
	MainUtxoTxHash       string
	MainUtxoOutputIndex  uint32
	MainUtxoValue        uint64
	RedeemerOutputScript []byte
	Amount               uint64
	Redeemer             string // L1 address credited on successful finalize
}

// RedemptionDates tracks timestamps across the redemption pipeline.
type RedemptionDates struct {
	CreatedAt      time.Time
	VaaFetchedAt   time.Time
	CompletedAt    time.Time
	LastActivityAt time.Time
}

// Redemption is the durable record of a single tBTC-to-Bitcoin
// redemption request.
type Redemption struct {
	ID                 string
	ChainName          string
	Event              RedemptionEvent
	Status             RedemptionStatus
	TransferSequence    uint64 // Wormhole sequence extracted from the L2 request tx; 0 until known
	Vaa                []byte
	L1SubmissionTxHash string
	LastError          string
	Dates              RedemptionDates
	Logs               []string
}
