// Package scheduler implements the Orchestrator: a cadence-driven loop
// that drives every registered chain handler through its initialize,
// finalize, bridging, and past-deposit-scan passes, backed by a single
// bounded worker pool.
package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/metrics"
	"github.com/certen/tbtc-relayer/pkg/redemption"
)

// Default cadences per spec §4.5.
const (
	DefaultInitializeInterval     = 30 * time.Second
	DefaultFinalizeInterval       = 30 * time.Second
	DefaultBridgingInterval       = 60 * time.Second
	DefaultRedemptionVaaInterval  = 60 * time.Second
	DefaultRedemptionSubmitInterval = 60 * time.Second
	DefaultPastDepositInterval    = 10 * time.Minute
	DefaultPastDepositLookback    = 60 // minutes
)

// Config controls the Orchestrator's tick cadence and worker pool size.
type Config struct {
	InitializeInterval       time.Duration
	FinalizeInterval         time.Duration
	BridgingInterval         time.Duration
	RedemptionVaaInterval    time.Duration
	RedemptionSubmitInterval time.Duration
	PastDepositInterval      time.Duration
	PastDepositLookback      int
	WorkerPoolSize           int
	Clock                    clock.Clock
	Logger                   *log.Logger

	// Redemptions is optional; when nil, the Orchestrator drives only
	// the deposit-side passes.
	Redemptions *redemption.Registry

	// Metrics is optional; when nil, passes run unobserved.
	Metrics *metrics.Registry
}

// DefaultConfig returns the spec's default cadence.
func DefaultConfig() Config {
	return Config{
		InitializeInterval:       DefaultInitializeInterval,
		FinalizeInterval:         DefaultFinalizeInterval,
		BridgingInterval:         DefaultBridgingInterval,
		RedemptionVaaInterval:    DefaultRedemptionVaaInterval,
		RedemptionSubmitInterval: DefaultRedemptionSubmitInterval,
		PastDepositInterval:      DefaultPastDepositInterval,
		PastDepositLookback:      DefaultPastDepositLookback,
		WorkerPoolSize:           8,
	}
}

// passKind identifies one of the serialized, per-chain activities the
// Orchestrator drives.
type passKind int

const (
	passInitialize passKind = iota
	passFinalize
	passBridging
	passPastDeposit
	passRedemptionVaaFetch
	passRedemptionL1Submit
)

func (k passKind) String() string {
	switch k {
	case passInitialize:
		return "initialize"
	case passFinalize:
		return "finalize"
	case passBridging:
		return "bridging"
	case passPastDeposit:
		return "past_deposit_scan"
	case passRedemptionVaaFetch:
		return "redemption_vaa_fetch"
	case passRedemptionL1Submit:
		return "redemption_l1_submit"
	default:
		return "unknown"
	}
}

// Orchestrator ticks every registered chain handler at the configured
// cadence. Passes for distinct chains run concurrently; passes for the
// same chain are serialized per pass-kind by an in-flight flag guarded
// by inFlightMu, mirroring the teacher's per-queue sync.RWMutex texture.
type Orchestrator struct {
	registry *chainhandler.Registry
	config   Config
	clock    clock.Clock
	logger   *log.Logger

	pool chan struct{} // bounded worker pool: size WorkerPoolSize

	inFlightMu sync.Mutex
	inFlight   map[string]map[passKind]bool

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	runMu    sync.Mutex
}

// New constructs an Orchestrator over the given handler registry.
func New(registry *chainhandler.Registry, cfg Config) *Orchestrator {
	if cfg.InitializeInterval <= 0 {
		cfg.InitializeInterval = DefaultInitializeInterval
	}
	if cfg.FinalizeInterval <= 0 {
		cfg.FinalizeInterval = DefaultFinalizeInterval
	}
	if cfg.BridgingInterval <= 0 {
		cfg.BridgingInterval = DefaultBridgingInterval
	}
	if cfg.RedemptionVaaInterval <= 0 {
		cfg.RedemptionVaaInterval = DefaultRedemptionVaaInterval
	}
	if cfg.RedemptionSubmitInterval <= 0 {
		cfg.RedemptionSubmitInterval = DefaultRedemptionSubmitInterval
	}
	if cfg.PastDepositInterval <= 0 {
		cfg.PastDepositInterval = DefaultPastDepositInterval
	}
	if cfg.PastDepositLookback <= 0 {
		cfg.PastDepositLookback = DefaultPastDepositLookback
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}

	return &Orchestrator{
		registry: registry,
		config:   cfg,
		clock:    c,
		logger:   logger,
		pool:     make(chan struct{}, cfg.WorkerPoolSize),
		inFlight: make(map[string]map[passKind]bool),
		stopChan: make(chan struct{}),
	}
}

// Start launches one ticking goroutine per pass-kind. It returns
// immediately; call Stop (or cancel ctx) to shut down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return nil
	}
	o.running = true
	o.runMu.Unlock()

	o.wg.Add(4)
	go o.tickLoop(ctx, passInitialize, o.config.InitializeInterval, o.runInitializePass)
	go o.tickLoop(ctx, passFinalize, o.config.FinalizeInterval, o.runFinalizePass)
	go o.tickLoop(ctx, passBridging, o.config.BridgingInterval, o.runBridgingPass)
	go o.tickLoop(ctx, passPastDeposit, o.config.PastDepositInterval, o.runPastDepositPass)

	if o.config.Redemptions != nil {
		o.wg.Add(2)
		go o.tickLoop(ctx, passRedemptionVaaFetch, o.config.RedemptionVaaInterval, o.runRedemptionVaaFetchPass)
		go o.tickLoop(ctx, passRedemptionL1Submit, o.config.RedemptionSubmitInterval, o.runRedemptionL1SubmitPass)
	}

	return nil
}

// Stop signals all tick loops to exit and waits for in-flight passes to
// return.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return
	}
	o.running = false
	o.runMu.Unlock()

	close(o.stopChan)
	o.wg.Wait()

	for {
		o.inFlightMu.Lock()
		busy := false
		for _, kinds := range o.inFlight {
			for _, running := range kinds {
				busy = busy || running
			}
		}
		o.inFlightMu.Unlock()
		if !busy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// tickLoop fires run on every tick of interval until ctx is cancelled
// or Stop is called.
func (o *Orchestrator) tickLoop(ctx context.Context, kind passKind, interval time.Duration, run func(ctx context.Context)) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// tryBeginPass marks (chainName, kind) in-flight and returns true if it
// was not already in flight; a tick that finds the previous pass for
// that (chain, kind) still running is skipped entirely.
func (o *Orchestrator) tryBeginPass(chainName string, kind passKind) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()

	kinds, ok := o.inFlight[chainName]
	if !ok {
		kinds = make(map[passKind]bool)
		o.inFlight[chainName] = kinds
	}
	if kinds[kind] {
		return false
	}
	kinds[kind] = true
	return true
}

func (o *Orchestrator) endPass(chainName string, kind passKind) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	if kinds, ok := o.inFlight[chainName]; ok {
		kinds[kind] = false
	}
}

// acquire/release gate outbound RPC work through the bounded worker
// pool shared across all chains and pass kinds.
func (o *Orchestrator) acquire(ctx context.Context) bool {
	select {
	case o.pool <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) release() {
	<-o.pool
}

// runForEachChain runs fn for every registered handler concurrently,
// serialized per (chain, kind) via tryBeginPass/endPass and bounded by
// the worker pool.
func (o *Orchestrator) runForEachChain(ctx context.Context, kind passKind, fn func(ctx context.Context, h chainhandler.Handler) error) {
	for _, h := range o.registry.All() {
		h := h
		if !o.tryBeginPass(h.ChainName(), kind) {
			continue
		}

		go func() {
			defer o.endPass(h.ChainName(), kind)

			if !o.acquire(ctx) {
				return
			}
			defer o.release()

			started := time.Now()
			err := fn(ctx, h)
			if o.config.Metrics != nil {
				o.config.Metrics.ObservePass(h.ChainName(), kind.String(), time.Since(started), err)
			}
			if err != nil {
				o.logger.Printf("chain %s pass failed: %v", h.ChainName(), err)
			}
		}()
	}
}

func (o *Orchestrator) runInitializePass(ctx context.Context) {
	o.runForEachChain(ctx, passInitialize, func(ctx context.Context, h chainhandler.Handler) error {
		return h.ProcessInitializeDeposits(ctx)
	})
}

func (o *Orchestrator) runFinalizePass(ctx context.Context) {
	o.runForEachChain(ctx, passFinalize, func(ctx context.Context, h chainhandler.Handler) error {
		return h.ProcessFinalizeDeposits(ctx)
	})
}

// bridgingHandler is implemented by chain handlers that have a bridging
// pass: Solana and Sui always, and EVM when its chain config carries a
// Wormhole gateway address. Starknet is the only variant with no
// bridging step at all — its L1 depositor emits a direct
// TBTCBridgedToStarkNet event and the handler transitions straight from
// Finalized to Bridged.
type bridgingHandler interface {
	ProcessBridging(ctx context.Context) error
}

func (o *Orchestrator) runBridgingPass(ctx context.Context) {
	o.runForEachChain(ctx, passBridging, func(ctx context.Context, h chainhandler.Handler) error {
		b, ok := h.(bridgingHandler)
		if !ok {
			return nil
		}
		return b.ProcessBridging(ctx)
	})
}

// runForEachRedemptionPipeline mirrors runForEachChain for the
// redemption registry.
func (o *Orchestrator) runForEachRedemptionPipeline(ctx context.Context, kind passKind, fn func(ctx context.Context, p *redemption.Pipeline) error) {
	for _, p := range o.config.Redemptions.All() {
		p := p
		if !o.tryBeginPass(p.ChainName(), kind) {
			continue
		}

		go func() {
			defer o.endPass(p.ChainName(), kind)

			if !o.acquire(ctx) {
				return
			}
			defer o.release()

			started := time.Now()
			err := fn(ctx, p)
			if o.config.Metrics != nil {
				o.config.Metrics.ObservePass(p.ChainName(), kind.String(), time.Since(started), err)
			}
			if err != nil {
				o.logger.Printf("redemption chain %s pass failed: %v", p.ChainName(), err)
			}
		}()
	}
}

func (o *Orchestrator) runRedemptionVaaFetchPass(ctx context.Context) {
	o.runForEachRedemptionPipeline(ctx, passRedemptionVaaFetch, func(ctx context.Context, p *redemption.Pipeline) error {
		return p.ProcessPendingRedemptions(ctx)
	})
}

func (o *Orchestrator) runRedemptionL1SubmitPass(ctx context.Context) {
	o.runForEachRedemptionPipeline(ctx, passRedemptionL1Submit, func(ctx context.Context, p *redemption.Pipeline) error {
		return p.ProcessVaaFetchedRedemptions(ctx)
	})
}

func (o *Orchestrator) runPastDepositPass(ctx context.Context) {
	o.runForEachChain(ctx, passPastDeposit, func(ctx context.Context, h chainhandler.Handler) error {
		if !h.SupportsPastDepositCheck() {
			return nil
		}
		latest, err := h.GetLatestBlock(ctx)
		if err != nil {
			return err
		}
		return h.CheckForPastDeposits(ctx, o.config.PastDepositLookback, latest)
	})
}
