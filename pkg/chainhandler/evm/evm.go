// Package evm implements the ChainHandler capability set for EVM L2
// destination chains: a live DepositInitialized listener plus a
// binary-search historical back-fill over block timestamps.
package evm

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

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/store"
	"github.com/certen/tbtc-relayer/pkg/vaaclient"
)

// Handler implements chainhandler.Handler for an EVM destination chain.
type Handler struct {
	*chainhandler.Common

	l2Client      *ethclient.Client
	depositorAddr common.Address
	depositorABI  abi.ABI
	l2StartBlock  uint64

	// gateway is nil when the chain config carries no gateway address,
	// in which case ProcessBridging/ProcessFinalizeDeposits fall back to
	// Common's default (no bridging pass at all).
	gateway         *l1client.Client
	gatewayAddr     common.Address
	gatewayABI      abi.ABI
	attestation     *vaaclient.Client
	ethereumChainID uint16
	l1DepositorAddr string

	logger *log.Logger
}

// Config carries everything needed to construct a Handler.
type Config struct {
	ChainName        string
	L2RpcURL         string
	L2ChainID        int64
	DepositorAddress common.Address
	DepositorABIJSON string
	L2StartBlock     uint64

	// Gateway* are only required when this EVM chain bridges through a
	// Wormhole gateway after finalize (spec §4.4.6's default flow); a
	// chain with no GatewayAddress skips the bridging pass entirely.
	GatewayAddress  common.Address
	GatewayABIJSON  string
	PrivateKey      string
	L1Confirmations uint64
	EthereumChainID uint16
	L1DepositorAddr string
	Attestation     *vaaclient.Client

	Deposits store.DepositStore
	L1       chainhandler.L1InitializeFinalizer
}

// NewHandler dials the L2 RPC endpoint and constructs a Handler.
func NewHandler(ctx context.Context, cfg Config) (*Handler, error) {
	l2Client, err := ethclient.DialContext(ctx, cfg.L2RpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm[%s]: dial l2 rpc: %w", cfg.ChainName, err)
	}

	depositorABI, err := abi.JSON(strings.NewReader(cfg.DepositorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("evm[%s]: parse depositor abi: %w", cfg.ChainName, err)
	}

	h := &Handler{
		Common:          chainhandler.NewCommon(cfg.ChainName, cfg.Deposits, cfg.L1),
		l2Client:        l2Client,
		depositorAddr:   cfg.DepositorAddress,
		depositorABI:    depositorABI,
		l2StartBlock:    cfg.L2StartBlock,
		gatewayAddr:     cfg.GatewayAddress,
		attestation:     cfg.Attestation,
		ethereumChainID: cfg.EthereumChainID,
		l1DepositorAddr: cfg.L1DepositorAddr,
		logger:          log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.ChainName), log.LstdFlags),
	}

	var zero common.Address
	if cfg.GatewayAddress != zero {
		gatewayABI, err := abi.JSON(strings.NewReader(cfg.GatewayABIJSON))
		if err != nil {
			return nil, fmt.Errorf("evm[%s]: parse gateway abi: %w", cfg.ChainName, err)
		}
		h.gatewayABI = gatewayABI

		// Reuse l1client.Client purely for its signer/nonce/send/wait
		// machinery against a second contract on a second chain: the L2
		// gateway instead of the L1 depositor/vault.
		gateway, err := l1client.NewClient(ctx, cfg.L2RpcURL, cfg.L2ChainID, cfg.GatewayAddress, cfg.GatewayAddress, cfg.GatewayABIJSON, cfg.GatewayABIJSON, cfg.PrivateKey, cfg.L1Confirmations, l1client.WithLogger(h.logger))
		if err != nil {
			return nil, fmt.Errorf("evm[%s]: construct gateway signer: %w", cfg.ChainName, err)
		}
		h.gateway = gateway
	}

	return h, nil
}

func (h *Handler) Initialize(ctx context.Context) error {
	if _, err := h.l2Client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("evm[%s]: l2 rpc health check: %w", h.ChainName(), err)
	}
	return nil
}

func (h *Handler) SupportsPastDepositCheck() bool { return true }

func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return h.l2Client.BlockNumber(ctx)
}

// StartListening subscribes to DepositInitialized on the L2 depositor
// contract and creates a Queued deposit (and triggers initialize) for
// every previously-unknown event.
func (h *Handler) StartListening(ctx context.Context) error {
	event, ok := h.depositorABI.Events["DepositInitialized"]
	if !ok {
		return fmt.Errorf("evm[%s]: depositor ABI missing DepositInitialized event", h.ChainName())
	}

	logsCh := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{h.depositorAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	sub, err := h.l2Client.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return fmt.Errorf("evm[%s]: subscribe DepositInitialized: %w", h.ChainName(), err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("evm[%s]: DepositInitialized subscription error: %w", h.ChainName(), err)
		case vLog := <-logsCh:
			if err := h.handleDepositInitializedLog(ctx, vLog); err != nil {
				h.logger.Printf("discarding DepositInitialized log in tx %s: %v", vLog.TxHash.Hex(), err)
			}
		}
	}
}

type depositInitializedPayload struct {
	FundingTx      []byte
	Reveal         l1client.Reveal
	L2DepositOwner common.Address
	L2Sender       common.Address
}

func (h *Handler) handleDepositInitializedLog(ctx context.Context, vLog types.Log) error {
	var payload depositInitializedPayload
	if err := h.depositorABI.UnpackIntoInterface(&payload, "DepositInitialized", vLog.Data); err != nil {
		return fmt.Errorf("unpack DepositInitialized: %w", err)
	}

	depositID := store.DepositID(payload.FundingTx, payload.Reveal.FundingOutputIndex)

	if _, err := h.Deposits.GetByID(ctx, depositID); err == nil {
		return nil // already known, ignore
	}

	d := &store.Deposit{
		ID:        depositID,
		ChainName: h.ChainName(),
		Status:    store.DepositQueued,
		L1OutputEvent: store.L1OutputEvent{
			FundingTx:      payload.FundingTx,
			L2DepositOwner: payload.L2DepositOwner.Hex(),
			L2Sender:       payload.L2Sender.Hex(),
			Reveal: store.Reveal{
				FundingOutputIndex: payload.Reveal.FundingOutputIndex,
				BlindingFactor:     payload.Reveal.BlindingFactor,
				WalletPubKeyHash:   payload.Reveal.WalletPubKeyHash,
				RefundPubKeyHash:   payload.Reveal.RefundPubKeyHash,
				RefundLocktime:     payload.Reveal.RefundLocktime,
				Vault:              payload.Reveal.Vault.Hex(),
			},
		},
	}

	if err := h.Deposits.Create(ctx, d); err != nil {
		return fmt.Errorf("create queued deposit %s: %w", depositID, err)
	}

	if err := h.processInitializeImmediately(ctx, d); err != nil {
		h.logger.Printf("immediate initialize for deposit %s failed, will retry on next pass: %v", depositID, err)
	}
	return nil
}

func (h *Handler) processInitializeImmediately(ctx context.Context, d *store.Deposit) error {
	return h.ProcessInitializeDeposits(ctx)
}

// CheckForPastDeposits maps [now-pastMinutes, now] to a block range via
// binary search on block timestamps, then replays DepositInitialized
// events in that range exactly as the live listener would.
func (h *Handler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	event, ok := h.depositorABI.Events["DepositInitialized"]
	if !ok {
		return fmt.Errorf("evm[%s]: depositor ABI missing DepositInitialized event", h.ChainName())
	}

	cutoff := time.Now().Unix() - int64(pastMinutes)*60
	fromBlock, err := h.binarySearchBlockByTimestamp(ctx, h.l2StartBlock, latestBlock, cutoff)
	if err != nil {
		return fmt.Errorf("evm[%s]: locate start block: %w", h.ChainName(), err)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(latestBlock),
		Addresses: []common.Address{h.depositorAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	logs, err := h.l2Client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("evm[%s]: filter historical logs: %w", h.ChainName(), err)
	}

	for _, vLog := range logs {
		if err := h.handleDepositInitializedLog(ctx, vLog); err != nil {
			h.logger.Printf("discarding historical DepositInitialized log in tx %s: %v", vLog.TxHash.Hex(), err)
		}
	}
	return nil
}

// binarySearchBlockByTimestamp returns the earliest block number in
// [lo, hi] whose timestamp is >= cutoff.
func (h *Handler) binarySearchBlockByTimestamp(ctx context.Context, lo, hi uint64, cutoff int64) (uint64, error) {
	result := hi
	for lo <= hi {
		mid := lo + (hi-lo)/2
		header, err := h.l2Client.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return 0, fmt.Errorf("fetch header at block %d: %w", mid, err)
		}
		if int64(header.Time) >= cutoff {
			result = mid
			if mid == 0 {
				break
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return result, nil
}

// CheckDepositStatus looks up a single record and runs the pass that
// matches its status (initialize, finalize or bridging). That pass
// covers every eligible deposit of this chain and may send transactions.
func (h *Handler) CheckDepositStatus(ctx context.Context, depositID string) error {
	d, err := h.Deposits.GetByID(ctx, depositID)
	if err != nil {
		return fmt.Errorf("evm[%s]: lookup deposit %s: %w", h.ChainName(), depositID, err)
	}
	switch d.Status {
	case store.DepositQueued:
		return h.ProcessInitializeDeposits(ctx)
	case store.DepositInitialized:
		return h.ProcessFinalizeDeposits(ctx)
	case store.DepositAwaitingAttestation:
		return h.ProcessBridging(ctx)
	default:
		return nil
	}
}

// ProcessFinalizeDeposits wraps the common finalize pass, then — on
// chains configured with a Wormhole gateway — parses the L1 finalize
// receipt for TokensTransferredWithPayload on every deposit that just
// became Finalized, deriving the transfer sequence and moving it to
// AwaitingAttestation per spec §4.4.6's default Finalized -> Bridged
// flow (§8 scenario S1). Chains with no gateway configured (h.gateway
// == nil) keep Common's Finalized-is-terminal behavior.
func (h *Handler) ProcessFinalizeDeposits(ctx context.Context) error {
	if err := h.Common.ProcessFinalizeDeposits(ctx); err != nil {
		return err
	}
	if h.gateway == nil {
		return nil
	}

	finalized, err := h.Deposits.GetByStatus(ctx, store.DepositFinalized, h.ChainName())
	if err != nil {
		return fmt.Errorf("evm[%s]: list finalized deposits: %w", h.ChainName(), err)
	}

	for _, d := range finalized {
		if d.Hashes.L1FinalizeTx == "" || d.AttestationInfo.TransferSequence != 0 {
			continue
		}
		sequence, err := h.L1.TransferSequenceOf(ctx, d.Hashes.L1FinalizeTx)
		if err != nil {
			h.logger.Printf("deposit %s: could not derive transfer sequence: %v", d.ID, err)
			continue
		}
		d.AttestationInfo = store.AttestationInfo{TransferSequence: sequence, L1TxHash: d.Hashes.L1FinalizeTx}
		d.Status = store.DepositAwaitingAttestation
		d.Dates.LastActivityAt = h.Clock.Now()
		if err := h.Deposits.Update(ctx, d); err != nil {
			h.logger.Printf("deposit %s: persist AwaitingAttestation: %v", d.ID, err)
		}
	}
	return nil
}

// ProcessBridging fetches the VAA for every AwaitingAttestation deposit
// and submits it to this chain's Wormhole gateway's receiveTbtc entry
// point, mirroring the Solana/Sui bridging passes.
func (h *Handler) ProcessBridging(ctx context.Context) error {
	if h.gateway == nil {
		return nil
	}

	awaiting, err := h.Deposits.GetByStatus(ctx, store.DepositAwaitingAttestation, h.ChainName())
	if err != nil {
		return fmt.Errorf("evm[%s]: list awaiting-attestation deposits: %w", h.ChainName(), err)
	}

	for _, d := range awaiting {
		if err := h.bridgeOne(ctx, d); err != nil {
			h.logger.Printf("bridging pass: deposit %s: %v", d.ID, err)
		}
	}
	return nil
}

func (h *Handler) bridgeOne(ctx context.Context, d *store.Deposit) error {
	vaa, err := h.attestation.FetchVaa(ctx, h.ethereumChainID, h.l1DepositorAddr, d.AttestationInfo.TransferSequence)
	if err != nil {
		d.LastError = err.Error()
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}

	receipt, err := h.gateway.SendContractTx(ctx, h.gatewayAddr, h.gatewayABI, "receiveTbtc", nil, vaa)
	if err != nil || !receipt.Success {
		if err == nil {
			err = fmt.Errorf("receiveTbtc tx %s reverted on-chain", receipt.TxHash)
		}
		d.LastError = err.Error()
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}

	d.Status = store.DepositBridged
	d.Hashes.L2BridgeTx = receipt.TxHash
	d.Dates.BridgedAt = h.Clock.Now()
	d.Dates.LastActivityAt = h.Clock.Now()
	d.LastError = ""
	return h.Deposits.Update(ctx, d)
}
