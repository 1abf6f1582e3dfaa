package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/store"
)

func newTestServer(deposits store.DepositStore) *Server {
	return New(Config{Addr: ":0", Deposits: deposits})
}

func TestHealthReportsServiceUnavailableWhenL1Disconnected(t *testing.T) {
	health := NewHealthStatus()
	health.SetL1("disconnected")
	health.SetStore("connected")
	srv := New(Config{Addr: ":0", Health: health})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusError, body.Status)
}

func TestHealthDegradedWhenOneChainDisconnected(t *testing.T) {
	health := NewHealthStatus()
	health.SetL1("connected")
	health.SetStore("connected")
	health.SetChain("base-sepolia", "connected")
	health.SetChain("starknet-sepolia", "disconnected")

	assert.Equal(t, StatusDegraded, health.overallStatus())
}

func TestRevealHandlerCreatesQueuedDeposit(t *testing.T) {
	deposits := store.NewMemoryDepositStore()
	srv := newTestServer(deposits)

	payload := RevealRequest{
		FundingTxHash:      bytes.Repeat([]byte{0xAB}, 32),
		FundingTx:          []byte{0x01, 0x02},
		FundingOutputIndex: 0,
		Vault:              "0xvault",
		L2DepositOwner:     "0xowner",
		L2Sender:           "0xsender",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/reveal/solana-devnet", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	wantID := store.DepositID(payload.FundingTxHash, payload.FundingOutputIndex)
	d, err := deposits.GetByID(req.Context(), wantID)
	require.NoError(t, err)
	assert.Equal(t, "solana-devnet", d.ChainName)
	assert.Equal(t, store.DepositQueued, d.Status)
}

func TestRevealHandlerIsIdempotentOnDuplicateID(t *testing.T) {
	deposits := store.NewMemoryDepositStore()
	srv := newTestServer(deposits)

	payload := RevealRequest{FundingTxHash: []byte{0x01}, FundingOutputIndex: 3}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reveal/solana-devnet", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}
}

func TestRevealHandlerRejectsNonPost(t *testing.T) {
	deposits := store.NewMemoryDepositStore()
	srv := newTestServer(deposits)

	req := httptest.NewRequest(http.MethodGet, "/reveal/solana-devnet", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
