// Package l1client encapsulates read/write access to the L1 (Ethereum
// hub) bridge and vault contracts: initializing and finalizing deposits,
// reading deposit status, finalizing L2 redemptions, and subscribing to
// mint-confirmation events.
package l1client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/tbtc-relayer/pkg/clock"
)

// DepositStatus mirrors the bridge contract's on-chain deposits() enum.
type DepositStatus uint8

const (
	DepositStatusUnknown DepositStatus = iota
	DepositStatusQueued
	DepositStatusInitialized
	DepositStatusFinalized
)

// RevertSentinel is the specific finalize-revert substring that is not
// treated as an error: it signals the bridge hasn't yet observed the
// deposit's SPV proof, so the caller should bump lastActivityAt and
// retry on the next pass rather than recording a failure.
const RevertSentinel = "Deposit not finalized by the bridge"

// ErrReverted wraps a pre-flight static-call revert reason.
type ErrReverted struct {
	Method string
	Reason string
}

func (e *ErrReverted) Error() string {
	return fmt.Sprintf("l1client: %s reverted: %s", e.Method, e.Reason)
}

// IsSentinelRevert reports whether err is the "not finalized by the
// bridge" sentinel, which callers must not treat as a hard failure.
func IsSentinelRevert(err error) bool {
	var reverted *ErrReverted
	if e, ok := err.(*ErrReverted); ok {
		reverted = e
	} else {
		return false
	}
	return strings.Contains(reverted.Reason, RevertSentinel)
}

// Reveal is the Bitcoin-specific deposit-intent payload.
type Reveal struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              common.Address
}

// Receipt is the minimal transaction outcome the relayer persists.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	GasUsed     uint64
}

// Client talks to the L1 depositor/bridge and vault contracts for a
// single signer. Every handler that shares this signer must serialize
// its writes through the client's nonce counter.
type Client struct {
	ethClient      *ethclient.Client
	chainID        *big.Int
	depositorAddr  common.Address
	vaultAddr      common.Address
	depositorABI   abi.ABI
	vaultABI       abi.ABI
	privateKey     *ecdsa.PrivateKey
	fromAddress    common.Address
	l1Confirmations uint64
	confirmTimeout time.Duration
	clock          clock.Clock
	logger         *log.Logger

	nonceMu  sync.Mutex
	nonceSet bool
	nonce    uint64
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithLogger overrides the client's logger (default: stderr, "[L1Client] " prefix).
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the client's time source; tests use clock.Fake.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithConfirmationTimeout overrides the hard wall-clock timeout that
// races the confirmation wait (spec default: 5 minutes).
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

// NewClient dials rpcURL and constructs a Client bound to the given
// depositor and vault contracts, signing with privateKeyHex.
func NewClient(ctx context.Context, rpcURL string, chainID int64, depositorAddr, vaultAddr common.Address, depositorABIJSON, vaultABIJSON, privateKeyHex string, l1Confirmations uint64, opts ...Option) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("l1client: dial %q: %w", rpcURL, err)
	}

	depositorABI, err := abi.JSON(strings.NewReader(depositorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("l1client: parse depositor ABI: %w", err)
	}
	vaultABI, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("l1client: parse vault ABI: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("l1client: parse private key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("l1client: failed to cast public key to ECDSA")
	}

	c := &Client{
		ethClient:       ethClient,
		chainID:         big.NewInt(chainID),
		depositorAddr:   depositorAddr,
		vaultAddr:       vaultAddr,
		depositorABI:    depositorABI,
		vaultABI:        vaultABI,
		privateKey:      privateKey,
		fromAddress:     crypto.PubkeyToAddress(*publicKeyECDSA),
		l1Confirmations: l1Confirmations,
		confirmTimeout:  5 * time.Minute,
		clock:           clock.Real{},
		logger:          log.New(os.Stderr, "[L1Client] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(c)
	}

	if l1Confirmations == 0 {
		c.l1Confirmations = 1
	}

	return c, nil
}

// FromAddress returns the signer's public address.
func (c *Client) FromAddress() common.Address {
	return c.fromAddress
}

// nextNonce returns the next nonce to use, refreshing from chain state
// the first time it's called and incrementing locally thereafter. This
// is the sole contended mutable state per signer. Only nonce allocation
// is serialized: concurrent writes from one signer get distinct,
// increasing nonces, and may be in flight at the same time.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if !c.nonceSet {
		n, err := c.ethClient.PendingNonceAt(ctx, c.fromAddress)
		if err != nil {
			return 0, fmt.Errorf("l1client: fetch initial nonce: %w", err)
		}
		c.nonce = n
		c.nonceSet = true
	}

	n := c.nonce
	c.nonce++
	return n, nil
}

// releaseNonce rolls the local nonce counter back by one after a send
// failure that never reached the mempool, so the next write doesn't
// skip a nonce and stall forever.
func (c *Client) releaseNonce() {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	if c.nonceSet && c.nonce > 0 {
		c.nonce--
	}
}

// QuoteFinalizeDeposit reads the current finalize fee, in wei, that
// must be sent as msg.value with finalizeDeposit.
func (c *Client) QuoteFinalizeDeposit(ctx context.Context) (*big.Int, error) {
	out, err := c.staticCall(ctx, c.depositorAddr, c.depositorABI, "quoteFinalizeDeposit")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("l1client: quoteFinalizeDeposit returned no data")
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("l1client: quoteFinalizeDeposit returned unexpected type %T", out[0])
	}
	return fee, nil
}

// DepositStatusOf reads the on-chain lifecycle status for depositKey.
func (c *Client) DepositStatusOf(ctx context.Context, depositKey *big.Int) (DepositStatus, error) {
	out, err := c.staticCall(ctx, c.depositorAddr, c.depositorABI, "deposits", depositKey)
	if err != nil {
		return DepositStatusUnknown, err
	}
	if len(out) == 0 {
		return DepositStatusUnknown, fmt.Errorf("l1client: deposits() returned no data")
	}
	switch v := out[0].(type) {
	case uint8:
		return DepositStatus(v), nil
	case *big.Int:
		return DepositStatus(v.Uint64()), nil
	default:
		return DepositStatusUnknown, fmt.Errorf("l1client: deposits() returned unexpected type %T", out[0])
	}
}

// InitializeDeposit submits the L1 initializeDeposit call, preceded by
// a pre-flight static call with the same arguments.
func (c *Client) InitializeDeposit(ctx context.Context, fundingTx []byte, reveal Reveal, l2DepositOwner []byte) (*Receipt, error) {
	args := []interface{}{fundingTx, reveal, l2DepositOwner}
	if _, err := c.staticCall(ctx, c.depositorAddr, c.depositorABI, "initializeDeposit", args...); err != nil {
		return nil, err
	}
	return c.sendAndWait(ctx, c.depositorAddr, c.depositorABI, "initializeDeposit", nil, args...)
}

// FinalizeDeposit submits the payable finalizeDeposit call with
// value=quoteFinalizeDeposit(), preceded by a pre-flight static call.
// The RevertSentinel substring is surfaced to callers via ErrReverted
// so they can distinguish it from a genuine failure.
func (c *Client) FinalizeDeposit(ctx context.Context, depositKey *big.Int) (*Receipt, error) {
	value, err := c.QuoteFinalizeDeposit(ctx)
	if err != nil {
		return nil, err
	}

	args := []interface{}{depositKey}
	if _, err := c.staticCallWithValue(ctx, c.depositorAddr, c.depositorABI, "finalizeDeposit", value, args...); err != nil {
		return nil, err
	}
	return c.sendAndWait(ctx, c.depositorAddr, c.depositorABI, "finalizeDeposit", value, args...)
}

// redemptionGasLimitMultiplier is the spec §4.6 1.2x gas-estimate
// multiplier applied to redemption finalize calls.
const redemptionGasLimitMultiplier = 1.2

// FinalizeL2Redemption submits a redemption finalize call; on revert it
// returns an *ErrReverted rather than failing the caller's whole pass.
func (c *Client) FinalizeL2Redemption(ctx context.Context, depositKey *big.Int, walletPubKeyHash32 [32]byte, redeemerOutputScript []byte, amount, treasuryFee, txMaxFee *big.Int, redeemer common.Address) (*Receipt, error) {
	args := []interface{}{depositKey, walletPubKeyHash32, redeemerOutputScript, amount, treasuryFee, txMaxFee, redeemer}
	if _, err := c.staticCall(ctx, c.depositorAddr, c.depositorABI, "finalizeL2Redemption", args...); err != nil {
		return nil, err
	}
	return c.sendAndWaitWithGasMultiplier(ctx, c.depositorAddr, c.depositorABI, "finalizeL2Redemption", nil, redemptionGasLimitMultiplier, args...)
}

// staticCall performs a read-only pre-flight call; a revert is wrapped
// in *ErrReverted with the decoded reason, if go-ethereum could extract one.
func (c *Client) staticCall(ctx context.Context, to common.Address, contractABI abi.ABI, method string, params ...interface{}) ([]interface{}, error) {
	return c.staticCallWithValue(ctx, to, contractABI, method, nil, params...)
}

func (c *Client) staticCallWithValue(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, params ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("l1client: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{From: c.fromAddress, To: &to, Data: data, Value: value}
	result, err := c.ethClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, &ErrReverted{Method: method, Reason: revertReason(err)}
	}

	if len(result) == 0 {
		return nil, nil
	}
	outputs, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("l1client: unpack %s result: %w", method, err)
	}
	return outputs, nil
}

func revertReason(err error) string {
	return err.Error()
}

// sendAndWait signs and sends a write transaction under the signer's
// nonce counter, then waits l1Confirmations confirmations, racing a
// hard wall-clock timeout.
func (c *Client) sendAndWait(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, params ...interface{}) (*Receipt, error) {
	return c.sendAndWaitWithGasMultiplier(ctx, to, contractABI, method, value, 1.0, params...)
}

// sendAndWaitWithGasMultiplier is sendAndWait with the estimated gas
// limit scaled by gasLimitMultiplier before signing, to absorb
// estimation drift on calls known to be gas-sensitive (e.g. redemption
// finalize, which spec §4.6 requires a 1.2x multiplier for).
func (c *Client) sendAndWaitWithGasMultiplier(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, gasLimitMultiplier float64, params ...interface{}) (*Receipt, error) {
	data, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("l1client: pack %s: %w", method, err)
	}

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		c.releaseNonce()
		return nil, fmt.Errorf("l1client: suggest gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	estimatedGas, err := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{From: c.fromAddress, To: &to, Data: data, Value: value})
	if err != nil {
		c.releaseNonce()
		return nil, fmt.Errorf("l1client: estimate gas for %s: %w", method, err)
	}
	gasLimit := uint64(float64(estimatedGas) * gasLimitMultiplier)

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		c.releaseNonce()
		return nil, fmt.Errorf("l1client: sign %s: %w", method, err)
	}

	if err := c.ethClient.SendTransaction(ctx, signedTx); err != nil {
		c.releaseNonce()
		return nil, fmt.Errorf("l1client: send %s: %w", method, err)
	}

	receipt, err := c.waitForConfirmations(ctx, signedTx)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:     receipt.GasUsed,
	}, nil
}

// waitForConfirmations blocks until signedTx has l1Confirmations
// confirmations or the confirmation timeout elapses, whichever first.
func (c *Client) waitForConfirmations(ctx context.Context, signedTx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.ethClient, signedTx)
	if err != nil {
		return nil, fmt.Errorf("l1client: wait mined %s: %w", signedTx.Hash().Hex(), err)
	}

	for {
		latest, err := c.ethClient.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("l1client: fetch latest block: %w", err)
		}
		if latest >= receipt.BlockNumber.Uint64()+c.l1Confirmations-1 {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("l1client: confirmation wait for %s timed out: %w", signedTx.Hash().Hex(), ctx.Err())
		case <-c.clock.After(2 * time.Second):
		}
	}
}

// WatchOptimisticMintingFinalized subscribes to the vault's
// OptimisticMintingFinalized(address,uint256,address,uint256) event and
// invokes onEvent(depositKey) for each log until ctx is canceled.
func (c *Client) WatchOptimisticMintingFinalized(ctx context.Context, onEvent func(depositKey *big.Int)) error {
	event, ok := c.vaultABI.Events["OptimisticMintingFinalized"]
	if !ok {
		return fmt.Errorf("l1client: vault ABI missing OptimisticMintingFinalized event")
	}

	logsCh := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.vaultAddr},
		Topics:    [][]common.Hash{{event.ID}},
	}
	sub, err := c.ethClient.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return fmt.Errorf("l1client: subscribe OptimisticMintingFinalized: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("l1client: OptimisticMintingFinalized subscription error: %w", err)
		case vLog := <-logsCh:
			unpacked, err := c.vaultABI.Unpack("OptimisticMintingFinalized", vLog.Data)
			if err != nil {
				c.logger.Printf("discarding unparseable OptimisticMintingFinalized log in tx %s: %v", vLog.TxHash.Hex(), err)
				continue
			}
			if len(vLog.Topics) < 3 {
				continue
			}
			depositKey := new(big.Int).SetBytes(vLog.Topics[2].Bytes())
			_ = unpacked
			onEvent(depositKey)
		}
	}
}

// TransferSequenceOf fetches the receipt of an already-mined L1 finalize
// transaction and decodes the depositor's TokensTransferredWithPayload
// (amount, receiver, transferSequence) log. Every destination chain's
// bridging pass needs this sequence number to fetch the matching VAA
// from the attestation service.
func (c *Client) TransferSequenceOf(ctx context.Context, l1TxHash string) (uint64, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, common.HexToHash(l1TxHash))
	if err != nil {
		return 0, fmt.Errorf("l1client: fetch receipt for %s: %w", l1TxHash, err)
	}

	event, ok := c.depositorABI.Events["TokensTransferredWithPayload"]
	if !ok {
		return 0, fmt.Errorf("l1client: depositor ABI missing TokensTransferredWithPayload event")
	}

	for _, vLog := range receipt.Logs {
		if vLog.Address != c.depositorAddr || len(vLog.Topics) == 0 || vLog.Topics[0] != event.ID {
			continue
		}
		unpacked, err := c.depositorABI.Unpack("TokensTransferredWithPayload", vLog.Data)
		if err != nil {
			continue
		}
		if len(unpacked) < 3 {
			continue
		}
		switch seq := unpacked[2].(type) {
		case uint64:
			return seq, nil
		case *big.Int:
			return seq.Uint64(), nil
		}
	}
	return 0, fmt.Errorf("l1client: no TokensTransferredWithPayload log found in receipt %s", l1TxHash)
}

// SendContractTx signs and sends a write call against an arbitrary
// contract, reusing this client's signer and nonce counter. It lets a
// caller that already holds a Client for one contract (the depositor)
// drive a second contract (e.g. a destination chain's Wormhole gateway)
// without duplicating the nonce/gas-estimate/sign/send/wait machinery.
func (c *Client) SendContractTx(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, params ...interface{}) (*Receipt, error) {
	return c.sendAndWait(ctx, to, contractABI, method, value, params...)
}

// GetLatestBlock returns the current L1 block number.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ethClient.Close()
}
