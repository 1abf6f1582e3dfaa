// Package sui implements the ChainHandler capability set for the Sui
// destination chain. No Go SDK for Sui exists among this relayer's
// dependencies, so the handler talks to the Sui JSON-RPC endpoint
// directly over net/http and encoding/json, the one ambient concern in
// this repo built on the standard library rather than a third-party
// client.
package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/store"
	"github.com/certen/tbtc-relayer/pkg/vaaclient"
)

// clockObjectID is the Sui well-known shared clock object.
const clockObjectID = "0x6"

// suiGasBudget is the fixed gas budget (in MIST) attached to every
// receiveWormholeMessages call.
const suiGasBudget = 50_000_000

// Sui signs the intent-wrapped message {scope, version, app_id} ||
// txBytes; TransactionData/V0/Sui is (0, 0, 0).
var suiTransactionDataIntent = [3]byte{0, 0, 0}

// Handler implements chainhandler.Handler for Sui.
type Handler struct {
	*chainhandler.Common

	rpcURL     string
	httpClient *http.Client

	l2PackageID string // package id the BitcoinDepositor module is published under
	vaultAddr   string // injected into every reveal; Sui events carry no vault field

	receiverStateID string
	gatewayStateID  string
	capabilitiesID  string
	treasuryID      string
	wormholeCoreID  string
	tokenBridgeID   string
	tokenStateID    string
	wrappedTbtcType string

	attestation     *vaaclient.Client
	ethereumChainID uint16
	l1DepositorAddr string

	signer     ed25519.PrivateKey
	suiAddress string

	cursor string // opaque event-API pagination cursor, persisted between polls
	logger *log.Logger
}

// Config carries everything needed to construct a Handler.
type Config struct {
	ChainName       string
	RPCURL          string
	L2PackageID     string
	VaultAddress    string
	ReceiverStateID string
	GatewayStateID  string
	CapabilitiesID  string
	TreasuryID      string
	WormholeCoreID  string
	TokenBridgeID   string
	TokenStateID    string
	WrappedTbtcType string
	EthereumChainID uint16
	L1DepositorAddr string
	SuiPrivateKey   string
	Deposits        store.DepositStore
	L1              chainhandler.L1InitializeFinalizer
	Attestation     *vaaclient.Client
}

// decodeSuiPrivateKey accepts the base64-encoded Sui key export format:
// either a bare 32-byte ed25519 seed, or a 33-byte flag-prefixed seed
// (flag 0x00 selects the ed25519 scheme). The Bech32 "suiprivkey1..."
// export format is not supported.
func decodeSuiPrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("sui private key must be base64-encoded (bech32 suiprivkey1... is not supported): %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.SeedSize + 1:
		if raw[0] != 0x00 {
			return nil, fmt.Errorf("unsupported sui key scheme flag 0x%02x (only ed25519/0x00 supported)", raw[0])
		}
		return ed25519.NewKeyFromSeed(raw[1:]), nil
	default:
		return nil, fmt.Errorf("unexpected sui private key length %d", len(raw))
	}
}

// suiAddressFromPublicKey derives a Sui address: blake2b-256(flag ||
// pubkey), hex-encoded with a 0x prefix.
func suiAddressFromPublicKey(pub ed25519.PublicKey) string {
	data := make([]byte, 0, 1+len(pub))
	data = append(data, 0x00)
	data = append(data, pub...)
	sum := blake2b.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// NewHandler constructs a Sui Handler from Config. SuiPrivateKey may be
// empty when the handler is only used for read-only listening (tests,
// or a deployment where bridging runs out-of-process); ProcessBridging
// then fails loudly instead of signing with a nil key.
func NewHandler(cfg Config) *Handler {
	var signer ed25519.PrivateKey
	var suiAddress string
	if cfg.SuiPrivateKey != "" {
		if key, err := decodeSuiPrivateKey(cfg.SuiPrivateKey); err == nil {
			signer = key
			suiAddress = suiAddressFromPublicKey(key.Public().(ed25519.PublicKey))
		} else {
			log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.ChainName), log.LstdFlags).Printf("sui private key not usable, bridging will fail until corrected: %v", err)
		}
	}

	return &Handler{
		Common:          chainhandler.NewCommon(cfg.ChainName, cfg.Deposits, cfg.L1),
		rpcURL:          cfg.RPCURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		l2PackageID:     cfg.L2PackageID,
		vaultAddr:       cfg.VaultAddress,
		receiverStateID: cfg.ReceiverStateID,
		gatewayStateID:  cfg.GatewayStateID,
		capabilitiesID:  cfg.CapabilitiesID,
		treasuryID:      cfg.TreasuryID,
		wormholeCoreID:  cfg.WormholeCoreID,
		tokenBridgeID:   cfg.TokenBridgeID,
		tokenStateID:    cfg.TokenStateID,
		wrappedTbtcType: cfg.WrappedTbtcType,
		attestation:     cfg.Attestation,
		ethereumChainID: cfg.EthereumChainID,
		l1DepositorAddr: cfg.L1DepositorAddr,
		signer:          signer,
		suiAddress:      suiAddress,
		logger:          log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.ChainName), log.LstdFlags),
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (h *Handler) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("sui[%s]: marshal request %s: %w", h.ChainName(), method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("sui[%s]: build request %s: %w", h.ChainName(), method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sui[%s]: request %s failed: %w", h.ChainName(), method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sui[%s]: read response for %s: %w", h.ChainName(), method, err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("sui[%s]: decode response for %s: %w", h.ChainName(), method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("sui[%s]: %s returned error %d: %s", h.ChainName(), method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (h *Handler) Initialize(ctx context.Context) error {
	var checkpoint string
	return h.call(ctx, "sui_getLatestCheckpointSequenceNumber", nil, &checkpoint)
}

func (h *Handler) SupportsPastDepositCheck() bool { return false }

func (h *Handler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	return nil
}

func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return 0, fmt.Errorf("sui[%s]: block numbers do not apply; use checkpoint sequence numbers", h.ChainName())
}

type suiEventQuery struct {
	MoveEventModule moveEventModuleFilter `json:"MoveEventModule"`
}

type moveEventModuleFilter struct {
	Package string `json:"package"`
	Module  string `json:"module"`
}

type suiEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	ParsedJSON struct {
		FundingTx     string `json:"funding_tx"`
		DepositReveal string `json:"deposit_reveal"`
		DepositOwner  string `json:"deposit_owner"`
		Sender        string `json:"sender"`
	} `json:"parsedJson"`
}

type queryEventsResult struct {
	Data        []suiEvent `json:"data"`
	NextCursor  json.RawMessage `json:"nextCursor"`
	HasNextPage bool            `json:"hasNextPage"`
}

// StartListening polls the events API every 5 seconds with a durable
// cursor over (package=l2PackageId, module="BitcoinDepositor"), batch
// size 50, ascending order.
func (h *Handler) StartListening(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.pollEventsOnce(ctx); err != nil {
				h.logger.Printf("event poll failed: %v", err)
			}
		}
	}
}

func (h *Handler) pollEventsOnce(ctx context.Context) error {
	query := suiEventQuery{MoveEventModule: moveEventModuleFilter{Package: h.l2PackageID, Module: "BitcoinDepositor"}}

	var cursorParam interface{}
	if h.cursor != "" {
		cursorParam = h.cursor
	}

	var result queryEventsResult
	if err := h.call(ctx, "suix_queryEvents", []interface{}{query, cursorParam, 50, false}, &result); err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	for _, ev := range result.Data {
		if err := h.handleDepositInitializedEvent(ctx, ev); err != nil {
			h.logger.Printf("discarding DepositInitialized event in tx %s: %v", ev.ID.TxDigest, err)
		}
	}

	if len(result.NextCursor) > 0 && string(result.NextCursor) != "null" {
		h.cursor = string(result.NextCursor)
	}
	return nil
}

// depositReveal mirrors the Sui-specific 56-byte deposit_reveal layout:
// fundingOutputIndex(4, big-endian) || blindingFactor(8) ||
// walletPubKeyHash(20) || refundPubKeyHash(20) || refundLocktime(4).
type depositReveal struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
}

func decodeDepositReveal(raw []byte) (depositReveal, error) {
	var r depositReveal
	if len(raw) != 56 {
		return r, fmt.Errorf("deposit_reveal must be 56 bytes, got %d", len(raw))
	}
	r.FundingOutputIndex = binary.BigEndian.Uint32(raw[0:4])
	copy(r.BlindingFactor[:], raw[4:12])
	copy(r.WalletPubKeyHash[:], raw[12:32])
	copy(r.RefundPubKeyHash[:], raw[32:52])
	copy(r.RefundLocktime[:], raw[52:56])
	return r, nil
}

func (h *Handler) handleDepositInitializedEvent(ctx context.Context, ev suiEvent) error {
	fundingTx, err := hexOrBase64Decode(ev.ParsedJSON.FundingTx)
	if err != nil {
		return fmt.Errorf("decode funding_tx: %w", err)
	}
	revealBytes, err := hexOrBase64Decode(ev.ParsedJSON.DepositReveal)
	if err != nil {
		return fmt.Errorf("decode deposit_reveal: %w", err)
	}
	reveal, err := decodeDepositReveal(revealBytes)
	if err != nil {
		return err
	}

	depositID := store.DepositID(fundingTx, reveal.FundingOutputIndex)
	if _, err := h.Deposits.GetByID(ctx, depositID); err == nil {
		return nil
	}

	d := &store.Deposit{
		ID:        depositID,
		ChainName: h.ChainName(),
		Status:    store.DepositQueued,
		L1OutputEvent: store.L1OutputEvent{
			FundingTx:      fundingTx,
			L2DepositOwner: ev.ParsedJSON.DepositOwner,
			L2Sender:       ev.ParsedJSON.Sender,
			Reveal: store.Reveal{
				FundingOutputIndex: reveal.FundingOutputIndex,
				BlindingFactor:     reveal.BlindingFactor,
				WalletPubKeyHash:   reveal.WalletPubKeyHash,
				RefundPubKeyHash:   reveal.RefundPubKeyHash,
				RefundLocktime:     reveal.RefundLocktime,
				Vault:              h.vaultAddr,
			},
		},
	}

	if err := h.Deposits.Create(ctx, d); err != nil {
		return fmt.Errorf("create queued deposit %s: %w", depositID, err)
	}
	if err := h.Common.ProcessInitializeDeposits(ctx); err != nil {
		h.logger.Printf("immediate initialize for deposit %s failed, will retry on next pass: %v", depositID, err)
	}
	return nil
}

// hexOrBase64Decode decodes a Sui event byte-vector field, which the
// JSON-RPC layer renders as either a "0x"-prefixed hex string or plain
// base64 depending on the node's serialization config.
func hexOrBase64Decode(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(strings.TrimPrefix(s, "0x"))
	}
	return base64.StdEncoding.DecodeString(s)
}

// ProcessFinalizeDeposits wraps the common finalize pass, then parses
// the L1 receipt logs for TokensTransferredWithPayload on every deposit
// that just became Finalized, deriving the Wormhole transfer sequence
// and moving it to AwaitingAttestation — mirroring the Solana handler,
// since Sui's L1 depositor emits the same event.
func (h *Handler) ProcessFinalizeDeposits(ctx context.Context) error {
	if err := h.Common.ProcessFinalizeDeposits(ctx); err != nil {
		return err
	}

	finalized, err := h.Deposits.GetByStatus(ctx, store.DepositFinalized, h.ChainName())
	if err != nil {
		return fmt.Errorf("sui[%s]: list finalized deposits: %w", h.ChainName(), err)
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

func (h *Handler) CheckDepositStatus(ctx context.Context, depositID string) error {
	d, err := h.Deposits.GetByID(ctx, depositID)
	if err != nil {
		return fmt.Errorf("sui[%s]: lookup deposit %s: %w", h.ChainName(), depositID, err)
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

// ProcessBridging fetches the VAA and invokes
// BitcoinDepositor::receiveWormholeMessages as a single Sui transaction
// referencing the configured shared objects.
func (h *Handler) ProcessBridging(ctx context.Context) error {
	awaiting, err := h.Deposits.GetByStatus(ctx, store.DepositAwaitingAttestation, h.ChainName())
	if err != nil {
		return fmt.Errorf("sui[%s]: list awaiting-attestation deposits: %w", h.ChainName(), err)
	}

	for _, d := range awaiting {
		if err := h.bridgeOne(ctx, d); err != nil {
			h.logger.Printf("bridging pass: deposit %s: %v", d.ID, err)
		}
	}
	return nil
}

type executeTransactionResult struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
		} `json:"status"`
	} `json:"effects"`
}

func (h *Handler) bridgeOne(ctx context.Context, d *store.Deposit) error {
	vaa, err := h.attestation.FetchVaa(ctx, h.ethereumChainID, h.l1DepositorAddr, d.AttestationInfo.TransferSequence)
	if err != nil {
		d.LastError = err.Error()
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}

	result, err := h.receiveWormholeMessages(ctx, vaa)
	if err != nil {
		d.LastError = err.Error()
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}
	if result.Effects.Status.Status != "success" || result.Digest == "" {
		d.LastError = fmt.Sprintf("receiveWormholeMessages transaction %s did not succeed (status=%s)", result.Digest, result.Effects.Status.Status)
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}

	d.Status = store.DepositBridged
	d.Hashes.L2BridgeTx = result.Digest
	d.Dates.BridgedAt = h.Clock.Now()
	d.Dates.LastActivityAt = h.Clock.Now()
	d.LastError = ""
	return h.Deposits.Update(ctx, d)
}

type moveCallResult struct {
	TxBytes string `json:"txBytes"`
}

// buildReceiveWormholeMessagesTx asks the node to build (not sign) a
// call to BitcoinDepositor::receiveWormholeMessages via the dev-inspect
// move-call builder, returning the unsigned BCS transaction bytes that
// signTransactionBytes signs and sui_executeTransactionBlock submits.
func (h *Handler) buildReceiveWormholeMessagesTx(ctx context.Context, vaa []byte) ([]byte, error) {
	params := []interface{}{
		h.suiAddress,
		h.l2PackageID,
		"BitcoinDepositor",
		"receiveWormholeMessages",
		[]string{},
		[]interface{}{
			h.receiverStateID, h.gatewayStateID, h.capabilitiesID, h.treasuryID,
			h.wormholeCoreID, h.tokenBridgeID, h.tokenStateID,
			base64.StdEncoding.EncodeToString(vaa),
			clockObjectID,
		},
		nil,
		fmt.Sprintf("%d", suiGasBudget),
	}

	var result moveCallResult
	if err := h.call(ctx, "unsafe_moveCall", params, &result); err != nil {
		return nil, fmt.Errorf("unsafe_moveCall: %w", err)
	}
	return base64.StdEncoding.DecodeString(result.TxBytes)
}

// signTransactionBytes signs Sui's intent-wrapped message (intent ||
// txBytes, blake2b-256 digest) and returns the flag||signature||pubkey
// signature, base64-encoded the way sui_executeTransactionBlock expects.
func (h *Handler) signTransactionBytes(txBytes []byte) (string, error) {
	if h.signer == nil {
		return "", fmt.Errorf("no sui private key configured for this handler")
	}

	message := make([]byte, 0, len(suiTransactionDataIntent)+len(txBytes))
	message = append(message, suiTransactionDataIntent[:]...)
	message = append(message, txBytes...)
	digest := blake2b.Sum256(message)

	sig := ed25519.Sign(h.signer, digest[:])

	out := make([]byte, 0, 1+len(sig)+ed25519.PublicKeySize)
	out = append(out, 0x00) // ed25519 scheme flag
	out = append(out, sig...)
	out = append(out, h.signer.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// receiveWormholeMessages builds, signs and submits a call to
// BitcoinDepositor::receiveWormholeMessages(receiverState, gatewayState,
// capabilities, treasury, wormholeCore, tokenBridge, tokenState,
// vaaBytes, clock) as a single Sui transaction.
func (h *Handler) receiveWormholeMessages(ctx context.Context, vaa []byte) (*executeTransactionResult, error) {
	txBytes, err := h.buildReceiveWormholeMessagesTx(ctx, vaa)
	if err != nil {
		return nil, fmt.Errorf("build receiveWormholeMessages tx: %w", err)
	}

	sig, err := h.signTransactionBytes(txBytes)
	if err != nil {
		return nil, fmt.Errorf("sign receiveWormholeMessages tx: %w", err)
	}

	params := []interface{}{
		base64.StdEncoding.EncodeToString(txBytes),
		[]string{sig},
		map[string]interface{}{"showEffects": true},
		"WaitForLocalExecution",
	}

	var result executeTransactionResult
	if err := h.call(ctx, "sui_executeTransactionBlock", params, &result); err != nil {
		return nil, fmt.Errorf("execute transaction block: %w", err)
	}
	return &result, nil
}
