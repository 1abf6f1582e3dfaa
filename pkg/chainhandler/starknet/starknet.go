// Package starknet implements the ChainHandler capability set for
// Starknet. Unlike the other variants, Starknet needs no chain-specific
// SDK: both the bridging event and the finalize fee live on L1, so this
// handler is built entirely on go-ethereum.
package starknet

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/store"
)

// historicalScanChunkBlocks is the chunk size used when scanning
// [l2StartBlock, latest] for TBTCBridgedToStarkNet at startup.
const historicalScanChunkBlocks = 500

// Handler implements chainhandler.Handler for Starknet.
type Handler struct {
	*chainhandler.Common

	l1Client        *ethclient.Client
	depositorAddr   common.Address
	depositorABI    abi.ABI
	l2StartBlock    uint64
	logger          *log.Logger
}

// Config carries everything needed to construct a Handler.
type Config struct {
	ChainName        string
	L1RpcURL         string
	DepositorAddress common.Address
	DepositorABIJSON string
	L2StartBlock     uint64
	Deposits         store.DepositStore
	L1               chainhandler.L1InitializeFinalizer
}

// NewHandler dials the L1 RPC endpoint and constructs a Handler. The
// bridging event it listens to (TBTCBridgedToStarkNet) is emitted by
// the same L1 depositor contract the shared initialize/finalize state
// machine calls, so this handler reuses that connection rather than
// opening a second one.
func NewHandler(ctx context.Context, cfg Config) (*Handler, error) {
	l1Client, err := ethclient.DialContext(ctx, cfg.L1RpcURL)
	if err != nil {
		return nil, fmt.Errorf("starknet[%s]: dial l1 rpc: %w", cfg.ChainName, err)
	}

	depositorABI, err := abi.JSON(strings.NewReader(cfg.DepositorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("starknet[%s]: parse depositor abi: %w", cfg.ChainName, err)
	}

	return &Handler{
		Common:        chainhandler.NewCommon(cfg.ChainName, cfg.Deposits, cfg.L1),
		l1Client:      l1Client,
		depositorAddr: cfg.DepositorAddress,
		depositorABI:  depositorABI,
		l2StartBlock:  cfg.L2StartBlock,
		logger:        log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.ChainName), log.LstdFlags),
	}, nil
}

func (h *Handler) Initialize(ctx context.Context) error {
	if _, err := h.l1Client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("starknet[%s]: l1 rpc health check: %w", h.ChainName(), err)
	}
	return h.scanHistoricalBridged(ctx)
}

func (h *Handler) SupportsPastDepositCheck() bool { return false }

func (h *Handler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	return nil
}

func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return h.l1Client.BlockNumber(ctx)
}

// StartListening subscribes to TBTCBridgedToStarkNet(depositKey, amount,
// starkNetRecipient) on the L1 depositor contract, idempotently
// transitioning matching records to Bridged.
func (h *Handler) StartListening(ctx context.Context) error {
	event, ok := h.depositorABI.Events["TBTCBridgedToStarkNet"]
	if !ok {
		return fmt.Errorf("starknet[%s]: depositor ABI missing TBTCBridgedToStarkNet event", h.ChainName())
	}

	logsCh := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{h.depositorAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	sub, err := h.l1Client.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return fmt.Errorf("starknet[%s]: subscribe TBTCBridgedToStarkNet: %w", h.ChainName(), err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("starknet[%s]: TBTCBridgedToStarkNet subscription error: %w", h.ChainName(), err)
		case vLog := <-logsCh:
			if err := h.handleBridgedLog(ctx, vLog); err != nil {
				h.logger.Printf("discarding TBTCBridgedToStarkNet log in tx %s: %v", vLog.TxHash.Hex(), err)
			}
		}
	}
}

type bridgedPayload struct {
	DepositKey        *big.Int
	Amount            *big.Int
	StarkNetRecipient *big.Int
}

func (h *Handler) handleBridgedLog(ctx context.Context, vLog types.Log) error {
	var payload bridgedPayload
	if err := h.depositorABI.UnpackIntoInterface(&payload, "TBTCBridgedToStarkNet", vLog.Data); err != nil {
		return fmt.Errorf("unpack TBTCBridgedToStarkNet: %w", err)
	}
	return h.applyBridgedPayload(ctx, payload, vLog.TxHash.Hex())
}

// applyBridgedPayload transitions the local record matching
// payload.DepositKey to Bridged; it is a no-op if there is no matching
// record, or the record is already Bridged (idempotent re-delivery).
func (h *Handler) applyBridgedPayload(ctx context.Context, payload bridgedPayload, txHash string) error {
	depositID := fmt.Sprintf("%064x", payload.DepositKey)
	d, err := h.Deposits.GetByID(ctx, depositID)
	if err != nil {
		return nil // no matching local record; nothing to do
	}
	if d.Status == store.DepositBridged {
		return nil // already transitioned, idempotent
	}

	d.Status = store.DepositBridged
	d.Hashes.L2BridgeTx = txHash
	d.Dates.BridgedAt = h.Clock.Now()
	d.Dates.LastActivityAt = h.Clock.Now()
	return h.Deposits.Update(ctx, d)
}

// scanHistoricalBridged scans [l2StartBlock, latest] in chunks of
// historicalScanChunkBlocks at startup, idempotently transitioning
// matching records to Bridged.
func (h *Handler) scanHistoricalBridged(ctx context.Context) error {
	event, ok := h.depositorABI.Events["TBTCBridgedToStarkNet"]
	if !ok {
		return fmt.Errorf("starknet[%s]: depositor ABI missing TBTCBridgedToStarkNet event", h.ChainName())
	}

	latest, err := h.l1Client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("starknet[%s]: fetch latest block: %w", h.ChainName(), err)
	}

	for from := h.l2StartBlock; from <= latest; from += historicalScanChunkBlocks {
		to := from + historicalScanChunkBlocks - 1
		if to > latest {
			to = latest
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{h.depositorAddr},
			Topics:    [][]common.Hash{{event.ID}},
		}
		logs, err := h.l1Client.FilterLogs(ctx, query)
		if err != nil {
			return fmt.Errorf("starknet[%s]: filter logs [%d,%d]: %w", h.ChainName(), from, to, err)
		}
		for _, vLog := range logs {
			if err := h.handleBridgedLog(ctx, vLog); err != nil {
				h.logger.Printf("discarding historical TBTCBridgedToStarkNet log in tx %s: %v", vLog.TxHash.Hex(), err)
			}
		}
	}
	return nil
}

func (h *Handler) CheckDepositStatus(ctx context.Context, depositID string) error {
	d, err := h.Deposits.GetByID(ctx, depositID)
	if err != nil {
		return fmt.Errorf("starknet[%s]: lookup deposit %s: %w", h.ChainName(), depositID, err)
	}
	switch d.Status {
	case store.DepositQueued:
		return h.ProcessInitializeDeposits(ctx)
	case store.DepositInitialized:
		return h.ProcessFinalizeDeposits(ctx)
	default:
		return nil
	}
}
