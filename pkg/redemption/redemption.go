// Package redemption implements the tBTC-to-Bitcoin redemption pipeline
// (spec §4.6): an L2 listener enqueues Pending redemptions, a VAA-fetch
// pass promotes them to VaaFetched (or VaaFailed), and an L1-submit pass
// finalizes them on L1.
package redemption

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/tbtc-relayer/pkg/audit"
	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/store"
)

// logMessagePublishedABI is the Wormhole core bridge event a redeemer
// contract's publishMessage call emits, keyed by the topic hash of
// LogMessagePublished(address,uint64,uint32,bytes,uint8).
const logMessagePublishedABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"sequence","type":"uint64"},{"indexed":false,"name":"nonce","type":"uint32"},{"indexed":false,"name":"payload","type":"bytes"},{"indexed":false,"name":"consistencyLevel","type":"uint8"}],"name":"LogMessagePublished","type":"event"}]`

// L1RedemptionFinalizer is the narrow slice of l1client.Client the
// redemption pipeline needs, declared at the point of use so tests can
// substitute a fake without touching the RPC layer.
type L1RedemptionFinalizer interface {
	FinalizeL2Redemption(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*l1client.Receipt, error)
}

// AttestationFetcher is the narrow slice of vaaclient.Client this
// pipeline needs.
type AttestationFetcher interface {
	FetchVaa(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error)
}

// DefaultRetryInterval mirrors chainhandler.Common's lastActivityAt
// filtering window.
const DefaultRetryInterval = chainhandler.DefaultRetryInterval

// Config carries everything needed to construct a Pipeline.
type Config struct {
	ChainName                string
	L2RpcURL                 string
	RedeemerAddress          common.Address
	RedeemerABIJSON          string
	L2WormholeGatewayAddress common.Address
	L2WormholeChainID        uint16

	Redemptions store.RedemptionStore
	L1          L1RedemptionFinalizer
	Attestation AttestationFetcher

	RetryInterval time.Duration
	Clock         clock.Clock

	// Audit is optional; when nil, redemption transitions are not
	// mirrored to the audit trail.
	Audit *audit.Recorder
}

// Pipeline drives a single chain's redemption lifecycle.
type Pipeline struct {
	chainName       string
	l2Client        *ethclient.Client
	redeemerAddr    common.Address
	redeemerABI     abi.ABI
	gatewayAddr     common.Address
	wormholeChainID uint16

	redemptions store.RedemptionStore
	l1          L1RedemptionFinalizer
	attestation AttestationFetcher

	retryInterval time.Duration
	clock         clock.Clock
	logger        *log.Logger
	audit         *audit.Recorder

	messagePublishedABI abi.ABI
}

// recordAudit is a nil-safe helper; Audit is optional so every call
// site can invoke it unconditionally.
func (p *Pipeline) recordAudit(fn func(r *audit.Recorder)) {
	if p.audit == nil {
		return
	}
	fn(p.audit)
}

// NewPipeline dials the L2 RPC endpoint and constructs a Pipeline.
func NewPipeline(ctx context.Context, cfg Config) (*Pipeline, error) {
	l2Client, err := ethclient.DialContext(ctx, cfg.L2RpcURL)
	if err != nil {
		return nil, fmt.Errorf("redemption[%s]: dial l2 rpc: %w", cfg.ChainName, err)
	}

	redeemerABI, err := abi.JSON(strings.NewReader(cfg.RedeemerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("redemption[%s]: parse redeemer abi: %w", cfg.ChainName, err)
	}

	messagePublishedABI, err := abi.JSON(strings.NewReader(logMessagePublishedABI))
	if err != nil {
		return nil, fmt.Errorf("redemption[%s]: parse LogMessagePublished abi: %w", cfg.ChainName, err)
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}

	return &Pipeline{
		chainName:           cfg.ChainName,
		l2Client:            l2Client,
		redeemerAddr:        cfg.RedeemerAddress,
		redeemerABI:         redeemerABI,
		gatewayAddr:         cfg.L2WormholeGatewayAddress,
		wormholeChainID:     cfg.L2WormholeChainID,
		redemptions:         cfg.Redemptions,
		l1:                  cfg.L1,
		attestation:         cfg.Attestation,
		retryInterval:       retryInterval,
		clock:               c,
		logger:              log.New(os.Stderr, fmt.Sprintf("[redemption:%s] ", cfg.ChainName), log.LstdFlags),
		audit:               cfg.Audit,
		messagePublishedABI: messagePublishedABI,
	}, nil
}

// ChainName returns the chain this pipeline drives redemptions for.
func (p *Pipeline) ChainName() string { return p.chainName }

// StartListening subscribes to RedemptionRequested(redeemer,
// walletPubKeyHash, mainUtxo, redeemerOutputScript, amount) on the L2
// redeemer contract.
// Each request is keyed by its L2 transaction hash; duplicate keys are
// silently dropped.
func (p *Pipeline) StartListening(ctx context.Context) error {
	event, ok := p.redeemerABI.Events["RedemptionRequested"]
	if !ok {
		return fmt.Errorf("redemption[%s]: redeemer ABI missing RedemptionRequested event", p.chainName)
	}

	logsCh := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{p.redeemerAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	sub, err := p.l2Client.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return fmt.Errorf("redemption[%s]: subscribe RedemptionRequested: %w", p.chainName, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("redemption[%s]: RedemptionRequested subscription error: %w", p.chainName, err)
		case vLog := <-logsCh:
			if err := p.handleRedemptionRequestedLog(ctx, vLog); err != nil {
				p.logger.Printf("discarding RedemptionRequested log in tx %s: %v", vLog.TxHash.Hex(), err)
			}
		}
	}
}

type redemptionRequestedPayload struct {
	Redeemer             common.Address
	WalletPubKeyHash     [32]byte
	MainUtxoTxHash       [32]byte
	MainUtxoOutputIndex  uint32
	MainUtxoValue        uint64
	RedeemerOutputScript []byte
	Amount               uint64
}

func (p *Pipeline) handleRedemptionRequestedLog(ctx context.Context, vLog types.Log) error {
	var payload redemptionRequestedPayload
	if err := p.redeemerABI.UnpackIntoInterface(&payload, "RedemptionRequested", vLog.Data); err != nil {
		return fmt.Errorf("unpack RedemptionRequested: %w", err)
	}

	id := vLog.TxHash.Hex()
	if _, err := p.redemptions.GetByID(ctx, id); err == nil {
		return nil // duplicate key; silently dropped per spec §4.6
	}

	var walletPubKeyHash20 [20]byte
	copy(walletPubKeyHash20[:], payload.WalletPubKeyHash[12:])

	now := p.clock.Now()
	r := &store.Redemption{
		ID:        id,
		ChainName: p.chainName,
		Status:    store.RedemptionPending,
		Event: store.RedemptionEvent{
			WalletPubKeyHash:     walletPubKeyHash20,
			MainUtxoTxHash:       common.Hash(payload.MainUtxoTxHash).Hex(),
			MainUtxoOutputIndex:  payload.MainUtxoOutputIndex,
			MainUtxoValue:        payload.MainUtxoValue,
			RedeemerOutputScript: payload.RedeemerOutputScript,
			Amount:               payload.Amount,
			Redeemer:             payload.Redeemer.Hex(),
		},
		Dates: store.RedemptionDates{
			CreatedAt:      now,
			LastActivityAt: now,
		},
	}

	if err := p.redemptions.Create(ctx, r); err != nil {
		if err == store.ErrAlreadyExists {
			return nil
		}
		return fmt.Errorf("create redemption %s: %w", id, err)
	}
	return nil
}

func (p *Pipeline) dueForRetry(lastActivityAt time.Time) bool {
	if lastActivityAt.IsZero() {
		return true
	}
	return p.clock.Now().Sub(lastActivityAt) >= p.retryInterval
}

// ProcessPendingRedemptions fetches the Wormhole VAA for every Pending
// or VaaFailed redemption whose lastActivityAt is outside the retry
// window, deriving the sequence from the L2 request transaction's
// LogMessagePublished event the first time it is needed.
func (p *Pipeline) ProcessPendingRedemptions(ctx context.Context) error {
	pending, err := p.redemptions.GetByStatus(ctx, store.RedemptionPending, p.chainName)
	if err != nil {
		return fmt.Errorf("redemption[%s]: list pending: %w", p.chainName, err)
	}
	failed, err := p.redemptions.GetByStatus(ctx, store.RedemptionVaaFailed, p.chainName)
	if err != nil {
		return fmt.Errorf("redemption[%s]: list vaa-failed: %w", p.chainName, err)
	}

	for _, r := range append(pending, failed...) {
		if !p.dueForRetry(r.Dates.LastActivityAt) {
			continue
		}
		if err := p.processPendingOne(ctx, r); err != nil {
			p.logger.Printf("redemption %s: %v", r.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) processPendingOne(ctx context.Context, r *store.Redemption) error {
	if r.TransferSequence == 0 {
		seq, err := p.sequenceFromL2Tx(ctx, r.ID)
		if err != nil {
			return p.markVaaFailed(ctx, r, fmt.Sprintf("derive transfer sequence: %v", err))
		}
		r.TransferSequence = seq
	}

	vaa, err := p.attestation.FetchVaa(ctx, p.wormholeChainID, p.gatewayAddr.Hex(), r.TransferSequence)
	if err != nil {
		return p.markVaaFailed(ctx, r, err.Error())
	}

	r.Status = store.RedemptionVaaFetched
	r.Vaa = vaa
	r.LastError = ""
	r.Dates.VaaFetchedAt = p.clock.Now()
	r.Dates.LastActivityAt = p.clock.Now()
	p.recordAudit(func(rec *audit.Recorder) {
		if err := rec.RecordRedemptionVaaFetched(ctx, p.chainName, r.ID, r.TransferSequence); err != nil {
			p.logger.Printf("audit: record redemption vaa fetched: %v", err)
		}
	})
	return p.redemptions.Update(ctx, r)
}

func (p *Pipeline) markVaaFailed(ctx context.Context, r *store.Redemption, reason string) error {
	r.Status = store.RedemptionVaaFailed
	r.LastError = reason
	r.Dates.LastActivityAt = p.clock.Now()
	return p.redemptions.Update(ctx, r)
}

// sequenceFromL2Tx recovers the Wormhole transfer sequence by scanning
// the request transaction's receipt for a LogMessagePublished event
// whose indexed sender is the gateway contract.
func (p *Pipeline) sequenceFromL2Tx(ctx context.Context, l2TxHash string) (uint64, error) {
	receipt, err := p.l2Client.TransactionReceipt(ctx, common.HexToHash(l2TxHash))
	if err != nil {
		return 0, fmt.Errorf("fetch l2 receipt: %w", err)
	}

	event, ok := p.messagePublishedABI.Events["LogMessagePublished"]
	if !ok {
		return 0, fmt.Errorf("missing LogMessagePublished event definition")
	}

	for _, vLog := range receipt.Logs {
		if len(vLog.Topics) < 2 || vLog.Topics[0] != event.ID {
			continue
		}
		sender := common.BytesToAddress(vLog.Topics[1].Bytes())
		if sender != p.gatewayAddr {
			continue
		}

		var decoded struct {
			Sequence         uint64
			Nonce            uint32
			Payload          []byte
			ConsistencyLevel uint8
		}
		if err := p.messagePublishedABI.UnpackIntoInterface(&decoded, "LogMessagePublished", vLog.Data); err != nil {
			return 0, fmt.Errorf("unpack LogMessagePublished: %w", err)
		}
		return decoded.Sequence, nil
	}

	return 0, fmt.Errorf("no LogMessagePublished event from gateway %s in tx %s", p.gatewayAddr.Hex(), l2TxHash)
}

// ProcessVaaFetchedRedemptions submits finalizeL2Redemption for every
// VaaFetched redemption, left-zero-padding walletPubKeyHash to 32
// bytes; the 1.2x gas-estimate multiplier and default confirmation
// count are applied inside l1client.Client.FinalizeL2Redemption.
func (p *Pipeline) ProcessVaaFetchedRedemptions(ctx context.Context) error {
	fetched, err := p.redemptions.GetByStatus(ctx, store.RedemptionVaaFetched, p.chainName)
	if err != nil {
		return fmt.Errorf("redemption[%s]: list vaa-fetched: %w", p.chainName, err)
	}

	for _, r := range fetched {
		if !p.dueForRetry(r.Dates.LastActivityAt) {
			continue
		}
		if err := p.processVaaFetchedOne(ctx, r); err != nil {
			p.logger.Printf("redemption %s: %v", r.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) processVaaFetchedOne(ctx context.Context, r *store.Redemption) error {
	var walletPubKeyHash32 [32]byte
	copy(walletPubKeyHash32[12:], r.Event.WalletPubKeyHash[:])

	depositKey := store.RedemptionKeyBigInt(r.Event.WalletPubKeyHash, r.Event.RedeemerOutputScript)
	amount := new(big.Int).SetUint64(r.Event.Amount)
	treasuryFee := big.NewInt(0)
	txMaxFee := big.NewInt(0)
	redeemer := common.HexToAddress(r.Event.Redeemer)

	receipt, err := p.l1.FinalizeL2Redemption(ctx, depositKey, walletPubKeyHash32, r.Event.RedeemerOutputScript, amount, treasuryFee, txMaxFee, redeemer)
	if err != nil {
		r.Status = store.RedemptionFailed
		r.LastError = err.Error()
		r.Dates.LastActivityAt = p.clock.Now()
		return p.redemptions.Update(ctx, r)
	}

	r.Status = store.RedemptionCompleted
	r.L1SubmissionTxHash = receipt.TxHash
	r.LastError = ""
	r.Dates.CompletedAt = p.clock.Now()
	r.Dates.LastActivityAt = p.clock.Now()
	p.recordAudit(func(rec *audit.Recorder) {
		if err := rec.RecordRedemptionCompleted(ctx, p.chainName, r.ID, receipt.TxHash); err != nil {
			p.logger.Printf("audit: record redemption completed: %v", err)
		}
	})
	return p.redemptions.Update(ctx, r)
}
