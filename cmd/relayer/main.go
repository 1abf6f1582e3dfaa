// Command relayer runs the tBTC cross-chain relayer service: it dials
// every configured destination chain and the Ethereum L1 hub, starts
// each chain's event listener, and drives the deposit/redemption
// lifecycle state machines on the Orchestrator's cadence until told to
// shut down.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/tbtc-relayer/pkg/audit"
	"github.com/certen/tbtc-relayer/pkg/audit/firestoremirror"
	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/chainhandler/evm"
	"github.com/certen/tbtc-relayer/pkg/chainhandler/solana"
	"github.com/certen/tbtc-relayer/pkg/chainhandler/starknet"
	"github.com/certen/tbtc-relayer/pkg/chainhandler/sui"
	"github.com/certen/tbtc-relayer/pkg/config"
	"github.com/certen/tbtc-relayer/pkg/contracts"
	"github.com/certen/tbtc-relayer/pkg/l1client"
	"github.com/certen/tbtc-relayer/pkg/metrics"
	"github.com/certen/tbtc-relayer/pkg/redemption"
	"github.com/certen/tbtc-relayer/pkg/scheduler"
	"github.com/certen/tbtc-relayer/pkg/server"
	"github.com/certen/tbtc-relayer/pkg/store"
	"github.com/certen/tbtc-relayer/pkg/vaaclient"
)

func main() {
	logger := log.New(os.Stderr, "[relayer] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := server.NewHealthStatus()

	db, err := store.NewDB(store.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DatabaseMaxConns,
		MaxIdleConns:    cfg.DatabaseMinConns,
		ConnMaxIdleTime: cfg.DatabaseMaxIdleTime,
		ConnMaxLifetime: cfg.DatabaseMaxLifetime,
	}, store.WithLogger(logger))
	if err != nil {
		logger.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(ctx); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}
	health.SetStore("connected")

	deposits := store.NewPostgresDepositStore(db)
	redemptions := store.NewPostgresRedemptionStore(db)

	metricsRegistry := metrics.New()

	var auditSink audit.Sink
	if cfg.FirestoreEnabled {
		fsSink, err := firestoremirror.New(ctx, firestoremirror.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			Enabled:         true,
			Logger:          logger,
		})
		if err != nil {
			logger.Fatalf("initialize firestore audit mirror: %v", err)
		}
		defer fsSink.Close()
		auditSink = fsSink
	}
	auditRecorder := audit.NewRecorder(audit.Config{Sink: auditSink, Source: "relayer", Logger: logger})

	attestationClient := vaaclient.NewClient(cfg.AttestationAPIBase,
		vaaclient.WithHTTPClient(&http.Client{Timeout: cfg.AttestationTimeout}),
		vaaclient.WithLogger(logger),
	)
	health.SetAttestation("connected")

	chainConfigs, err := config.LoadChainConfigs(cfg.ChainConfigDir, cfg.SupportedChains)
	if err != nil {
		logger.Fatalf("load chain configs: %v", err)
	}
	if len(chainConfigs) == 0 {
		logger.Fatalf("no chain configs found under %s", cfg.ChainConfigDir)
	}

	handlerRegistry := chainhandler.NewRegistry()
	redemptionRegistry := redemption.NewRegistry()

	for _, cc := range chainConfigs {
		l1, err := l1client.NewClient(ctx, cc.L1Rpc, 0,
			common.HexToAddress(cc.L1BitcoinDepositorAddress),
			common.HexToAddress(cc.VaultAddress),
			contracts.DepositorABI, contracts.VaultABI,
			privateKeyFor(cc), uint64(cc.L1Confirmations),
			l1client.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("chain %s: construct l1 client: %v", cc.ChainName, err)
		}

		h, err := newChainHandler(ctx, cc, deposits, l1, attestationClient, auditRecorder)
		if err != nil {
			logger.Fatalf("chain %s: construct handler: %v", cc.ChainName, err)
		}
		if err := h.Initialize(ctx); err != nil {
			logger.Fatalf("chain %s: initialize handler: %v", cc.ChainName, err)
		}
		if err := handlerRegistry.Register(h); err != nil {
			logger.Fatalf("chain %s: register handler: %v", cc.ChainName, err)
		}
		go func() {
			if err := h.StartListening(ctx); err != nil && ctx.Err() == nil {
				logger.Fatalf("chain %s: start listening: %v", cc.ChainName, err)
			}
		}()
		health.SetChain(cc.ChainName, "connected")

		if cc.EnableL2Redemption {
			pipeline, err := redemption.NewPipeline(ctx, redemption.Config{
				ChainName:                cc.ChainName,
				L2RpcURL:                 cc.L2Rpc,
				RedeemerAddress:          common.HexToAddress(cc.L2BitcoinDepositorAddress),
				RedeemerABIJSON:          contracts.RedeemerABI,
				L2WormholeGatewayAddress: common.HexToAddress(cc.L2WormholeGatewayAddress),
				L2WormholeChainID:        cc.L2WormholeChainID,
				Redemptions:              redemptions,
				L1:                       l1,
				Attestation:              attestationClient,
				Audit:                    auditRecorder,
			})
			if err != nil {
				logger.Fatalf("chain %s: construct redemption pipeline: %v", cc.ChainName, err)
			}
			if err := redemptionRegistry.Register(pipeline); err != nil {
				logger.Fatalf("chain %s: register redemption pipeline: %v", cc.ChainName, err)
			}
			go func() {
				if err := pipeline.StartListening(ctx); err != nil && ctx.Err() == nil {
					logger.Fatalf("chain %s: start redemption listening: %v", cc.ChainName, err)
				}
			}()
		}
	}
	health.SetL1("connected")

	orchestrator := scheduler.New(handlerRegistry, scheduler.Config{
		InitializeInterval:       cfg.InitializePassInterval,
		FinalizeInterval:         cfg.FinalizePassInterval,
		BridgingInterval:         cfg.BridgingPassInterval,
		RedemptionVaaInterval:    cfg.RedemptionVaaInterval,
		RedemptionSubmitInterval: cfg.RedemptionL1Interval,
		PastDepositInterval:      cfg.PastDepositScanInterval,
		PastDepositLookback:      scheduler.DefaultPastDepositLookback,
		WorkerPoolSize:           cfg.WorkerPoolSize,
		Logger:                   logger,
		Redemptions:              redemptionRegistry,
		Metrics:                  metricsRegistry,
	})
	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatalf("start orchestrator: %v", err)
	}

	httpServer := server.New(server.Config{
		Addr:     cfg.ListenAddr,
		Health:   health,
		Metrics:  metricsRegistry,
		Deposits: deposits,
		Logger:   logger,
	})
	httpServer.Start()

	logger.Printf("relayer running: %d chain(s) registered", handlerRegistry.Len())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	orchestrator.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown: %v", err)
	}
}

// newChainHandler dispatches to the platform-specific constructor for cc.
func newChainHandler(ctx context.Context, cc *config.ChainConfig, deposits store.DepositStore, l1 chainhandler.L1InitializeFinalizer, attestation *vaaclient.Client, auditRecorder *audit.Recorder) (chainhandler.Handler, error) {
	switch cc.Platform {
	case config.ChainPlatformEVM:
		h, err := evm.NewHandler(ctx, evm.Config{
			ChainName:        cc.ChainName,
			L2RpcURL:         cc.L2Rpc,
			L2ChainID:        cc.L2ChainID,
			DepositorAddress: common.HexToAddress(cc.L2BitcoinDepositorAddress),
			DepositorABIJSON: contracts.DepositorABI,
			L2StartBlock:     cc.L2StartBlock,
			GatewayAddress:   common.HexToAddress(cc.L2WormholeGatewayAddress),
			GatewayABIJSON:   contracts.GatewayABI,
			PrivateKey:       cc.PrivateKey,
			L1Confirmations:  uint64(cc.L1Confirmations),
			EthereumChainID:  cc.L2WormholeChainID,
			L1DepositorAddr:  cc.L1BitcoinDepositorAddress,
			Attestation:      attestationClient,
			Deposits:         deposits,
			L1:               l1,
		})
		if h != nil {
			h.Common.Audit = auditRecorder
		}
		return h, err
	case config.ChainPlatformStarknet:
		h, err := starknet.NewHandler(ctx, starknet.Config{
			ChainName:        cc.ChainName,
			L1RpcURL:         cc.L1Rpc,
			DepositorAddress: common.HexToAddress(cc.L1BitcoinDepositorAddress),
			DepositorABIJSON: contracts.DepositorABI,
			L2StartBlock:     cc.L2StartBlock,
			Deposits:         deposits,
			L1:               l1,
		})
		if h != nil {
			h.Common.Audit = auditRecorder
		}
		return h, err
	case config.ChainPlatformSolana:
		h, err := solana.NewHandler(solana.Config{
			ChainName:        cc.ChainName,
			RPCURL:           cc.L2Rpc,
			Commitment:       cc.SolanaCommitment,
			PrivateKeyBase58: cc.SolanaPrivateKey,
			CoreBridgeAddr:   cc.WormholeCoreBridgeAddress,
			GatewayAddr:      cc.L2WormholeGatewayAddress,
			WrappedTbtcMint:  cc.SolanaWrappedTbtcMint,
			EthereumChainID:  cc.L2WormholeChainID,
			L1DepositorAddr:  cc.L1BitcoinDepositorAddress,
			Deposits:         deposits,
			L1:               l1,
			Attestation:      attestation,
		})
		if h != nil {
			h.Common.Audit = auditRecorder
		}
		return h, err
	case config.ChainPlatformSui:
		h := sui.NewHandler(sui.Config{
			ChainName:       cc.ChainName,
			RPCURL:          cc.L2Rpc,
			L2PackageID:     cc.L2BitcoinDepositorAddress,
			VaultAddress:    cc.VaultAddress,
			ReceiverStateID: cc.ReceiverStateID,
			GatewayStateID:  cc.GatewayStateID,
			CapabilitiesID:  cc.CapabilitiesID,
			TreasuryID:      cc.TreasuryID,
			WormholeCoreID:  cc.WormholeCoreID,
			TokenBridgeID:   cc.TokenBridgeID,
			TokenStateID:    cc.TokenStateID,
			WrappedTbtcType: cc.WrappedTbtcType,
			EthereumChainID: cc.L2WormholeChainID,
			L1DepositorAddr: cc.L1BitcoinDepositorAddress,
			SuiPrivateKey:   cc.SuiPrivateKey,
			Deposits:        deposits,
			L1:              l1,
			Attestation:     attestation,
		})
		h.Common.Audit = auditRecorder
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported chain platform %q for chain %q", cc.Platform, cc.ChainName)
	}
}

// privateKeyFor returns the hex-encoded L1 signing key for cc's
// platform; every platform signs its own L1 initialize/finalize calls
// with the same depositor-owner key regardless of destination-chain
// signing scheme.
func privateKeyFor(cc *config.ChainConfig) string {
	switch cc.Platform {
	case config.ChainPlatformEVM:
		return cc.PrivateKey
	case config.ChainPlatformStarknet:
		return cc.StarknetPrivateKey
	default:
		return cc.PrivateKey
	}
}
