package chainhandler

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/tbtc-relayer/pkg/audit"
	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/store"
)

// L1InitializeFinalizer is the subset of l1client.Client the shared
// state machine needs. Declaring it here, at the point of use, lets
// tests substitute a fake signer without touching the RPC layer.
type L1InitializeFinalizer interface {
	DepositStatusOf(ctx context.Context, depositKey *big.Int) (l1client.DepositStatus, error)
	InitializeDeposit(ctx context.Context, fundingTx []byte, reveal l1client.Reveal, l2DepositOwner []byte) (*l1client.Receipt, error)
	FinalizeDeposit(ctx context.Context, depositKey *big.Int) (*l1client.Receipt, error)

	// TransferSequenceOf decodes the Wormhole transfer sequence out of an
	// already-mined L1 finalize transaction's receipt logs. Every chain
	// variant's bridging pass needs this to fetch the matching VAA.
	TransferSequenceOf(ctx context.Context, l1TxHash string) (uint64, error)
}

// Common implements the §4.4.1 initialize/finalize state machine shared
// by every chain variant. Concrete handlers embed a *Common and provide
// the rest of the Handler capability set themselves; Common never
// implements Handler on its own and holds no registry reference.
type Common struct {
	ChainNameValue string
	Deposits       store.DepositStore
	L1             L1InitializeFinalizer
	Clock          clock.Clock
	RetryInterval  time.Duration
	Logger         *log.Logger

	// Audit is optional; when nil, lifecycle transitions are not mirrored
	// to the audit trail.
	Audit *audit.Recorder
}

// recordAudit is a nil-safe helper so every call site can unconditionally
// invoke it regardless of whether an Audit recorder was configured.
func (c *Common) recordAudit(fn func(r *audit.Recorder)) {
	if c.Audit == nil {
		return
	}
	fn(c.Audit)
}

// NewCommon constructs a Common with sensible defaults; callers
// typically override Logger with a per-chain prefix.
func NewCommon(chainName string, deposits store.DepositStore, l1 L1InitializeFinalizer) *Common {
	return &Common{
		ChainNameValue: chainName,
		Deposits:       deposits,
		L1:             l1,
		Clock:          clock.Real{},
		RetryInterval:  DefaultRetryInterval,
		Logger:         log.New(os.Stderr, fmt.Sprintf("[%s] ", chainName), log.LstdFlags),
	}
}

func (c *Common) ChainName() string { return c.ChainNameValue }

// dueForRetry reports whether a record's lastActivityAt is old enough
// (or unset) to be picked up by this pass.
func (c *Common) dueForRetry(lastActivityAt time.Time) bool {
	if lastActivityAt.IsZero() {
		return true
	}
	return c.Clock.Since(lastActivityAt) >= c.RetryInterval
}

// ProcessInitializeDeposits implements §4.4.1's initialize pass: for
// every Queued deposit owned by this chain whose lastActivityAt is
// stale, reconcile against on-chain status or attempt initializeDeposit.
func (c *Common) ProcessInitializeDeposits(ctx context.Context) error {
	deposits, err := c.Deposits.GetByStatus(ctx, store.DepositQueued, c.ChainNameValue)
	if err != nil {
		return fmt.Errorf("chainhandler[%s]: list queued deposits: %w", c.ChainNameValue, err)
	}

	for _, d := range deposits {
		if !c.dueForRetry(d.Dates.LastActivityAt) {
			continue
		}
		if err := c.processInitializeOne(ctx, d); err != nil {
			c.Logger.Printf("initialize pass: deposit %s: %v", d.ID, err)
		}
	}
	return nil
}

func (c *Common) processInitializeOne(ctx context.Context, d *store.Deposit) error {
	depositKey, ok := new(big.Int).SetString(d.ID, 16)
	if !ok {
		c.Logger.Printf("invariant violation: deposit %s has a non-hex id, skipping", d.ID)
		return nil
	}

	onChain, err := c.L1.DepositStatusOf(ctx, depositKey)
	if err != nil {
		return fmt.Errorf("read on-chain status: %w", err)
	}

	switch onChain {
	case l1client.DepositStatusInitialized:
		d.Status = store.DepositInitialized
		d.Dates.InitializedAt = c.Clock.Now()
		d.Dates.LastActivityAt = c.Clock.Now()
		return c.Deposits.Update(ctx, d)
	case l1client.DepositStatusFinalized:
		d.Status = store.DepositFinalized
		d.Dates.FinalizedAt = c.Clock.Now()
		d.Dates.LastActivityAt = c.Clock.Now()
		return c.Deposits.Update(ctx, d)
	}

	receipt, err := c.L1.InitializeDeposit(ctx, d.L1OutputEvent.FundingTx, toL1Reveal(d.L1OutputEvent.Reveal), []byte(d.L1OutputEvent.L2DepositOwner))
	d.Dates.LastActivityAt = c.Clock.Now()
	if err != nil {
		d.LastError = err.Error()
		if updateErr := c.Deposits.Update(ctx, d); updateErr != nil {
			return fmt.Errorf("persist initialize revert: %w", updateErr)
		}
		return nil
	}
	if !receipt.Success {
		// Post-send revert: mined with status=0. Walked back to Queued
		// per spec so the next initialize pass attempts a clean retry.
		d.Status = store.DepositQueued
		d.LastError = fmt.Sprintf("initializeDeposit tx %s reverted on-chain", receipt.TxHash)
		c.Logger.Printf("deposit %s: %s", d.ID, d.LastError)
		return c.Deposits.Update(ctx, d)
	}

	d.Status = store.DepositInitialized
	d.Hashes.L1InitializeTx = receipt.TxHash
	d.Dates.InitializedAt = c.Clock.Now()
	d.LastError = ""
	c.recordAudit(func(r *audit.Recorder) {
		if err := r.RecordDepositInitialized(ctx, c.ChainNameValue, d.ID, receipt.TxHash); err != nil {
			c.Logger.Printf("audit: record deposit initialized: %v", err)
		}
	})
	return c.Deposits.Update(ctx, d)
}

// ProcessFinalizeDeposits implements §4.4.1's finalize pass, including
// the "Deposit not finalized by the bridge" sentinel handling.
func (c *Common) ProcessFinalizeDeposits(ctx context.Context) error {
	deposits, err := c.Deposits.GetByStatus(ctx, store.DepositInitialized, c.ChainNameValue)
	if err != nil {
		return fmt.Errorf("chainhandler[%s]: list initialized deposits: %w", c.ChainNameValue, err)
	}

	for _, d := range deposits {
		if !c.dueForRetry(d.Dates.LastActivityAt) {
			continue
		}
		if err := c.processFinalizeOne(ctx, d); err != nil {
			c.Logger.Printf("finalize pass: deposit %s: %v", d.ID, err)
		}
	}
	return nil
}

func (c *Common) processFinalizeOne(ctx context.Context, d *store.Deposit) error {
	depositKey, ok := new(big.Int).SetString(d.ID, 16)
	if !ok {
		c.Logger.Printf("invariant violation: deposit %s has a non-hex id, skipping", d.ID)
		return nil
	}

	onChain, err := c.L1.DepositStatusOf(ctx, depositKey)
	if err != nil {
		return fmt.Errorf("read on-chain status: %w", err)
	}
	if onChain == l1client.DepositStatusFinalized {
		d.Status = store.DepositFinalized
		d.Dates.FinalizedAt = c.Clock.Now()
		d.Dates.LastActivityAt = c.Clock.Now()
		return c.Deposits.Update(ctx, d)
	}

	receipt, err := c.L1.FinalizeDeposit(ctx, depositKey)
	d.Dates.LastActivityAt = c.Clock.Now()
	if err != nil {
		if l1client.IsSentinelRevert(err) {
			c.Logger.Printf("deposit %s not finalized by the bridge yet, will retry", d.ID)
			return c.Deposits.Update(ctx, d)
		}
		d.LastError = err.Error()
		if updateErr := c.Deposits.Update(ctx, d); updateErr != nil {
			return fmt.Errorf("persist finalize revert: %w", updateErr)
		}
		return nil
	}
	if !receipt.Success {
		// Post-send revert: mined with status=0. Unlike initialize, the
		// spec does not walk finalize back a stage; the deposit stays
		// Initialized and the next finalize pass retries.
		d.LastError = fmt.Sprintf("finalizeDeposit tx %s reverted on-chain", receipt.TxHash)
		c.Logger.Printf("deposit %s: %s", d.ID, d.LastError)
		return c.Deposits.Update(ctx, d)
	}

	d.Status = store.DepositFinalized
	d.Hashes.L1FinalizeTx = receipt.TxHash
	d.Dates.FinalizedAt = c.Clock.Now()
	d.LastError = ""
	c.recordAudit(func(r *audit.Recorder) {
		if err := r.RecordDepositFinalized(ctx, c.ChainNameValue, d.ID, receipt.TxHash); err != nil {
			c.Logger.Printf("audit: record deposit finalized: %v", err)
		}
	})
	return c.Deposits.Update(ctx, d)
}

// toL1Reveal adapts the store's chain-agnostic Reveal shape to the
// l1client Reveal expected on the wire.
func toL1Reveal(r store.Reveal) l1client.Reveal {
	return l1client.Reveal{
		FundingOutputIndex: r.FundingOutputIndex,
		BlindingFactor:     r.BlindingFactor,
		WalletPubKeyHash:   r.WalletPubKeyHash,
		RefundPubKeyHash:   r.RefundPubKeyHash,
		RefundLocktime:     r.RefundLocktime,
		Vault:              common.HexToAddress(r.Vault),
	}
}
