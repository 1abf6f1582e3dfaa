// Package chainhandler defines the per-destination-chain capability set
// and the shared initialize/finalize state machine that every concrete
// handler (EVM, Solana, Sui, Starknet) composes rather than inherits.
package chainhandler

import (
	"context"
	"time"
)

// Handler is the capability set every destination-chain implementation
// exposes. The registry calls these; handlers never call back into the
// registry.
type Handler interface {
	ChainName() string
	Initialize(ctx context.Context) error
	StartListening(ctx context.Context) error
	ProcessInitializeDeposits(ctx context.Context) error
	ProcessFinalizeDeposits(ctx context.Context) error
	GetLatestBlock(ctx context.Context) (uint64, error)
	CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error
	CheckDepositStatus(ctx context.Context, depositID string) error
	SupportsPastDepositCheck() bool
}

// DefaultRetryInterval is the default lastActivityAt filter window: a
// record touched more recently than this is skipped by batch passes.
const DefaultRetryInterval = 5 * time.Minute
