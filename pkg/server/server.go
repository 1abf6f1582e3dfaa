// Package server exposes the relayer's HTTP surface: liveness/health
// checks, the Prometheus scrape endpoint, and the deposit-reveal
// ingestion endpoint used by chains with no L2 listener (Solana) or
// that otherwise run in endpoint mode (config.ChainConfig.UseEndpoint).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/tbtc-relayer/pkg/metrics"
	"github.com/certen/tbtc-relayer/pkg/store"
)

// RevealRequest is the JSON body accepted by POST /reveal/{chain}. It
// mirrors store.L1OutputEvent/store.Reveal directly rather than
// introducing a separate wire type.
type RevealRequest struct {
	FundingTxHash      []byte   `json:"fundingTxHash"`
	FundingTx          []byte   `json:"fundingTx"`
	FundingOutputIndex uint32   `json:"fundingOutputIndex"`
	BlindingFactor     [8]byte  `json:"blindingFactor"`
	WalletPubKeyHash   [20]byte `json:"walletPubKeyHash"`
	RefundPubKeyHash   [20]byte `json:"refundPubKeyHash"`
	RefundLocktime     [4]byte  `json:"refundLocktime"`
	Vault              string   `json:"vault"`
	L2DepositOwner     string   `json:"l2DepositOwner"`
	L2Sender           string   `json:"l2Sender"`
}

// Config configures the Server.
type Config struct {
	Addr     string
	Health   *HealthStatus
	Metrics  *metrics.Registry
	Deposits store.DepositStore // optional; nil disables /reveal/{chain}
	Logger   *log.Logger
}

// Server wraps an *http.Server exposing /health, /health/detailed,
// /metrics, and (when Deposits is configured) /reveal/{chain}.
type Server struct {
	httpServer *http.Server
	health     *HealthStatus
	logger     *log.Logger
}

// New builds a Server; it does not start listening until Start is called.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthStatus()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := cfg.Health.overallStatus()
		if status == StatusError {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Write(cfg.Health.toJSON())
	})

	mux.HandleFunc("/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := cfg.Health.snapshot()
		if snap.Status == StatusError {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(snap)
	})

	if cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	if cfg.Deposits != nil {
		mux.HandleFunc("/reveal/", revealHandler(cfg.Deposits, cfg.Logger))
	}

	return &Server{
		httpServer: &http.Server{Addr: cfg.Addr, Handler: mux},
		health:     cfg.Health,
		logger:     cfg.Logger,
	}
}

// Start runs ListenAndServe in a background goroutine and returns
// immediately; use Shutdown for graceful termination.
func (s *Server) Start() {
	go func() {
		s.logger.Printf("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("http server error: %v", err)
		}
	}()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// revealHandler parses "/reveal/{chain}" and creates a Queued deposit
// from the posted reveal payload, deduplicating on the deterministic
// deposit id the same way an L2 listener would.
func revealHandler(deposits store.DepositStore, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		chainName := r.URL.Path[len("/reveal/"):]
		if chainName == "" {
			http.Error(w, "chain name is required in path", http.StatusBadRequest)
			return
		}

		var req RevealRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid reveal payload: %v", err), http.StatusBadRequest)
			return
		}

		id := store.DepositID(req.FundingTxHash, req.FundingOutputIndex)
		now := time.Now()
		deposit := &store.Deposit{
			ID:        id,
			ChainName: chainName,
			Status:    store.DepositQueued,
			L1OutputEvent: store.L1OutputEvent{
				FundingTx: req.FundingTx,
				Reveal: store.Reveal{
					FundingOutputIndex: req.FundingOutputIndex,
					BlindingFactor:     req.BlindingFactor,
					WalletPubKeyHash:   req.WalletPubKeyHash,
					RefundPubKeyHash:   req.RefundPubKeyHash,
					RefundLocktime:     req.RefundLocktime,
					Vault:              req.Vault,
				},
				L2DepositOwner: req.L2DepositOwner,
				L2Sender:       req.L2Sender,
			},
			Dates: store.DepositDates{CreatedAt: now, LastActivityAt: now},
		}

		err := deposits.Create(r.Context(), deposit)
		if err != nil && err != store.ErrAlreadyExists {
			logger.Printf("reveal[%s]: create deposit %s: %v", chainName, id, err)
			http.Error(w, "failed to record deposit", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"depositId": id, "status": string(store.DepositQueued)})
	}
}
