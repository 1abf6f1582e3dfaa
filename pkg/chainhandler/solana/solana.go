// Package solana implements the ChainHandler capability set for the
// Solana destination chain. Solana has no L2 listener in this relayer:
// deposits are ingested exclusively via the HTTP reveal endpoint
// (useEndpoint=true), and bridging posts a fetched VAA to Wormhole's
// core bridge before invoking the gateway's receiveTbtc instruction.
package solana

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/store"
	"github.com/certen/tbtc-relayer/pkg/vaaclient"
)

// Wormhole core-bridge/gateway native instruction tags. The core
// bridge's PostVAA instruction index is fixed by the deployed program;
// the gateway's receiveTbtc tag is assigned by that program's IDL.
const (
	wormholePostVAAInstruction    byte = 2
	wormholeReceiveTbtcInstruction byte = 10
)

// Handler implements chainhandler.Handler for Solana.
type Handler struct {
	*chainhandler.Common

	rpcClient        *rpc.Client
	commitment       rpc.CommitmentType
	signer           solana.PrivateKey
	coreBridgeAddr   solana.PublicKey
	gatewayAddr      solana.PublicKey
	wrappedTbtcMint  solana.PublicKey
	attestation      *vaaclient.Client
	ethereumChainID  uint16
	l1DepositorAddr  string
	logger           *log.Logger
}

// Config carries everything needed to construct a Handler.
type Config struct {
	ChainName       string
	RPCURL          string
	Commitment      string // processed|confirmed|finalized
	PrivateKeyBase58 string
	CoreBridgeAddr  string
	GatewayAddr     string
	WrappedTbtcMint string
	EthereumChainID uint16
	L1DepositorAddr string
	Deposits        store.DepositStore
	L1              chainhandler.L1InitializeFinalizer
	Attestation     *vaaclient.Client
}

// NewHandler constructs a Solana Handler from Config.
func NewHandler(cfg Config) (*Handler, error) {
	signer, err := solana.PrivateKeyFromBase58(cfg.PrivateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("solana[%s]: parse private key: %w", cfg.ChainName, err)
	}

	coreBridgeAddr, err := solana.PublicKeyFromBase58(cfg.CoreBridgeAddr)
	if err != nil {
		return nil, fmt.Errorf("solana[%s]: parse core bridge address: %w", cfg.ChainName, err)
	}
	gatewayAddr, err := solana.PublicKeyFromBase58(cfg.GatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("solana[%s]: parse gateway address: %w", cfg.ChainName, err)
	}
	wrappedTbtcMint, err := solana.PublicKeyFromBase58(cfg.WrappedTbtcMint)
	if err != nil {
		return nil, fmt.Errorf("solana[%s]: parse wrapped tBTC mint: %w", cfg.ChainName, err)
	}

	commitment := rpc.CommitmentFinalized
	switch cfg.Commitment {
	case "processed":
		commitment = rpc.CommitmentProcessed
	case "confirmed":
		commitment = rpc.CommitmentConfirmed
	case "finalized", "":
		commitment = rpc.CommitmentFinalized
	}

	h := &Handler{
		Common:          chainhandler.NewCommon(cfg.ChainName, cfg.Deposits, cfg.L1),
		rpcClient:       rpc.New(cfg.RPCURL),
		commitment:      commitment,
		signer:          signer,
		coreBridgeAddr:  coreBridgeAddr,
		gatewayAddr:     gatewayAddr,
		wrappedTbtcMint: wrappedTbtcMint,
		attestation:     cfg.Attestation,
		ethereumChainID: cfg.EthereumChainID,
		l1DepositorAddr: cfg.L1DepositorAddr,
		logger:          log.New(os.Stderr, fmt.Sprintf("[%s] ", cfg.ChainName), log.LstdFlags),
	}
	return h, nil
}

func (h *Handler) Initialize(ctx context.Context) error {
	_, err := h.rpcClient.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("solana[%s]: rpc health check: %w", h.ChainName(), err)
	}
	return nil
}

// StartListening opens no subscription for Solana: the flow originates
// via the HTTP reveal endpoint, not a live L2 subscription. It blocks
// until ctx is done and returns ctx.Err().
func (h *Handler) StartListening(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *Handler) SupportsPastDepositCheck() bool { return false }

func (h *Handler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	return nil
}

func (h *Handler) GetLatestBlock(ctx context.Context) (uint64, error) {
	slot, err := h.rpcClient.GetSlot(ctx, h.commitment)
	if err != nil {
		return 0, fmt.Errorf("solana[%s]: get slot: %w", h.ChainName(), err)
	}
	return slot, nil
}

func (h *Handler) CheckDepositStatus(ctx context.Context, depositID string) error {
	d, err := h.Deposits.GetByID(ctx, depositID)
	if err != nil {
		return fmt.Errorf("solana[%s]: lookup deposit %s: %w", h.ChainName(), depositID, err)
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

// ProcessFinalizeDeposits wraps the common finalize pass, then parses
// the L1 receipt logs for TokensTransferredWithPayload on every deposit
// that just became Finalized, deriving the Wormhole transfer sequence
// and moving it to AwaitingAttestation.
func (h *Handler) ProcessFinalizeDeposits(ctx context.Context) error {
	if err := h.Common.ProcessFinalizeDeposits(ctx); err != nil {
		return err
	}

	finalized, err := h.Deposits.GetByStatus(ctx, store.DepositFinalized, h.ChainName())
	if err != nil {
		return fmt.Errorf("solana[%s]: list finalized deposits: %w", h.ChainName(), err)
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

// ProcessBridging drives the §4.4.3 bridging pass: fetch the VAA, post
// it to Wormhole's Solana core bridge (skipped if already posted), then
// invoke the gateway's receiveTbtc instruction.
func (h *Handler) ProcessBridging(ctx context.Context) error {
	awaiting, err := h.Deposits.GetByStatus(ctx, store.DepositAwaitingAttestation, h.ChainName())
	if err != nil {
		return fmt.Errorf("solana[%s]: list awaiting-attestation deposits: %w", h.ChainName(), err)
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

	postedVAAAddr, alreadyPosted, err := h.postedVaaAddress(ctx, vaa)
	if err != nil {
		return fmt.Errorf("derive posted-vaa pda: %w", err)
	}
	if !alreadyPosted {
		if err := h.postVaaToBridge(ctx, vaa, postedVAAAddr); err != nil {
			return fmt.Errorf("post vaa to core bridge: %w", err)
		}
	}

	txSig, err := h.receiveTbtc(ctx, d, postedVAAAddr)
	if err != nil {
		d.LastError = err.Error()
		d.Dates.LastActivityAt = h.Clock.Now()
		return h.Deposits.Update(ctx, d)
	}

	d.Status = store.DepositBridged
	d.Hashes.L2BridgeTx = txSig
	d.Dates.BridgedAt = h.Clock.Now()
	d.Dates.LastActivityAt = h.Clock.Now()
	d.LastError = ""
	return h.Deposits.Update(ctx, d)
}

// postedVaaAddress derives the PDA Wormhole uses to mark a VAA as
// posted, and reports whether that account already exists (idempotent
// posting: a second post for the same VAA is a no-op).
func (h *Handler) postedVaaAddress(ctx context.Context, vaa []byte) (solana.PublicKey, bool, error) {
	hash := vaaDigest(vaa)
	seeds := [][]byte{[]byte("PostedVAA"), hash[:]}
	pda, _, err := solana.FindProgramAddress(seeds, h.coreBridgeAddr)
	if err != nil {
		return solana.PublicKey{}, false, fmt.Errorf("find posted-vaa pda: %w", err)
	}

	info, err := h.rpcClient.GetAccountInfo(ctx, pda)
	if err != nil {
		return pda, false, nil
	}
	return pda, info != nil && info.Value != nil, nil
}

// vaaDigest hashes the VAA body the same way the core bridge does when
// deriving the PostedVAA PDA, so postedVaaAddress agrees with the
// address the on-chain program will check.
func vaaDigest(vaa []byte) [32]byte {
	// Header: version(1) guardianSetIndex(4) numSignatures(1), then 66
	// bytes per signature; the body follows.
	body := vaa
	if len(vaa) >= 6 {
		if start := 6 + int(vaa[5])*66; start <= len(vaa) {
			body = vaa[start:]
		}
	}
	return crypto.Keccak256Hash(body)
}

// sendTransaction builds, signs and submits a transaction carrying
// instructions, reusing the Handler's signer for both fee payer and
// any instruction-level signer checks.
func (h *Handler) sendTransaction(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error) {
	recent, err := h.rpcClient.GetLatestBlockhash(ctx, h.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(h.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(h.signer.PublicKey()) {
			return &h.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := h.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: h.commitment})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (h *Handler) postVaaToBridge(ctx context.Context, vaa []byte, postedVAAAddr solana.PublicKey) error {
	guardianSetAddr, _, err := solana.FindProgramAddress([][]byte{[]byte("GuardianSet"), {0, 0, 0, 0}}, h.coreBridgeAddr)
	if err != nil {
		return fmt.Errorf("derive guardian set pda: %w", err)
	}
	bridgeConfigAddr, _, err := solana.FindProgramAddress([][]byte{[]byte("Bridge")}, h.coreBridgeAddr)
	if err != nil {
		return fmt.Errorf("derive bridge config pda: %w", err)
	}

	data := append([]byte{wormholePostVAAInstruction}, vaa...)
	ix := solana.NewInstruction(h.coreBridgeAddr, solana.AccountMetaSlice{
		solana.NewAccountMeta(guardianSetAddr, false, false),
		solana.NewAccountMeta(bridgeConfigAddr, true, false),
		solana.NewAccountMeta(postedVAAAddr, true, false),
		solana.NewAccountMeta(h.signer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)

	if _, err := h.sendTransaction(ctx, ix); err != nil {
		return fmt.Errorf("post vaa transaction: %w", err)
	}
	return nil
}

func (h *Handler) receiveTbtc(ctx context.Context, d *store.Deposit, postedVAAAddr solana.PublicKey) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(d.L1OutputEvent.L2DepositOwner)
	if err != nil {
		return "", fmt.Errorf("parse l2 deposit owner %q: %w", d.L1OutputEvent.L2DepositOwner, err)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(recipient, h.wrappedTbtcMint)
	if err != nil {
		return "", fmt.Errorf("derive associated token account: %w", err)
	}

	instructions := make([]solana.Instruction, 0, 2)
	if _, err := h.rpcClient.GetAccountInfo(ctx, ata); err != nil {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(h.signer.PublicKey(), recipient, h.wrappedTbtcMint).Build())
	}

	instructions = append(instructions, solana.NewInstruction(h.gatewayAddr, solana.AccountMetaSlice{
		solana.NewAccountMeta(postedVAAAddr, false, false),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(h.wrappedTbtcMint, true, false),
		solana.NewAccountMeta(recipient, false, false),
		solana.NewAccountMeta(h.signer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, []byte{wormholeReceiveTbtcInstruction}))

	sig, err := h.sendTransaction(ctx, instructions...)
	if err != nil {
		return "", fmt.Errorf("receiveTbtc transaction: %w", err)
	}
	return sig.String(), nil
}

// DecodeBase58Address is a small helper the reveal-endpoint handler
// uses to validate a Solana recipient address before persisting it.
func DecodeBase58Address(s string) ([]byte, error) {
	return base58.Decode(s)
}
