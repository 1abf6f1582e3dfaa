package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/chainhandler"
)

// blockingHandler blocks ProcessInitializeDeposits until release is
// closed, and counts concurrent/ total invocations, so tests can assert
// on serialization and concurrency without relying on wall-clock races.
type blockingHandler struct {
	name string

	release     chan struct{}
	started     chan struct{}
	calls       int32
	inFlight    *int32 // shared across handlers sharing one worker pool
	maxInFlight *int32
}

func newBlockingHandler(name string, shared *int32, sharedMax *int32) *blockingHandler {
	return &blockingHandler{
		name:        name,
		release:     make(chan struct{}),
		started:     make(chan struct{}, 16),
		inFlight:    shared,
		maxInFlight: sharedMax,
	}
}

func (h *blockingHandler) ChainName() string                       { return h.name }
func (h *blockingHandler) Initialize(ctx context.Context) error     { return nil }
func (h *blockingHandler) StartListening(ctx context.Context) error { return nil }

func (h *blockingHandler) ProcessInitializeDeposits(ctx context.Context) error {
	n := atomic.AddInt32(h.inFlight, 1)
	for {
		old := atomic.LoadInt32(h.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(h.maxInFlight, old, n) {
			break
		}
	}
	atomic.AddInt32(&h.calls, 1)
	select {
	case h.started <- struct{}{}:
	default:
	}
	<-h.release
	atomic.AddInt32(h.inFlight, -1)
	return nil
}

func (h *blockingHandler) ProcessFinalizeDeposits(ctx context.Context) error { return nil }
func (h *blockingHandler) GetLatestBlock(ctx context.Context) (uint64, error) {
	return 0, nil
}
func (h *blockingHandler) CheckForPastDeposits(ctx context.Context, pastMinutes int, latestBlock uint64) error {
	return nil
}
func (h *blockingHandler) CheckDepositStatus(ctx context.Context, depositID string) error {
	return nil
}
func (h *blockingHandler) SupportsPastDepositCheck() bool { return true }

func (h *blockingHandler) callCount() int32 {
	return atomic.LoadInt32(&h.calls)
}

func TestOrchestratorSkipsTickWhileSamePassInFlight(t *testing.T) {
	registry := chainhandler.NewRegistry()
	var inFlight, maxInFlight int32
	h := newBlockingHandler("base-sepolia", &inFlight, &maxInFlight)
	require.NoError(t, registry.Register(h))

	cfg := DefaultConfig()
	cfg.InitializeInterval = 5 * time.Millisecond
	o := New(registry, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	select {
	case <-h.started:
	case <-time.After(time.Second):
		t.Fatal("first pass never started")
	}

	// Let several more ticks fire while the first pass is still
	// blocked; none of them should start a second call.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), h.callCount())

	close(h.release)
	cancel()
	o.Stop()
}

func TestOrchestratorRunsDistinctChainsConcurrently(t *testing.T) {
	registry := chainhandler.NewRegistry()
	var inFlightA, maxA, inFlightB, maxB int32
	a := newBlockingHandler("chain-a", &inFlightA, &maxA)
	b := newBlockingHandler("chain-b", &inFlightB, &maxB)
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))

	cfg := DefaultConfig()
	cfg.InitializeInterval = 5 * time.Millisecond
	cfg.WorkerPoolSize = 4
	o := New(registry, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	for _, h := range []*blockingHandler{a, b} {
		select {
		case <-h.started:
		case <-time.After(time.Second):
			t.Fatalf("chain %s pass never started", h.name)
		}
	}

	close(a.release)
	close(b.release)
	cancel()
	o.Stop()

	assert.GreaterOrEqual(t, a.callCount(), int32(1))
	assert.GreaterOrEqual(t, b.callCount(), int32(1))
}

func TestOrchestratorWorkerPoolBoundsConcurrency(t *testing.T) {
	registry := chainhandler.NewRegistry()
	var inFlight, maxInFlight int32
	handlers := make([]*blockingHandler, 0, 4)
	for i := 0; i < 4; i++ {
		h := newBlockingHandler("chain-"+string(rune('a'+i)), &inFlight, &maxInFlight)
		handlers = append(handlers, h)
		require.NoError(t, registry.Register(h))
	}

	cfg := DefaultConfig()
	cfg.InitializeInterval = 5 * time.Millisecond
	cfg.WorkerPoolSize = 2
	o := New(registry, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	for _, h := range handlers {
		close(h.release)
	}
	cancel()
	o.Stop()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(cfg.WorkerPoolSize))
	assert.Positive(t, atomic.LoadInt32(&maxInFlight))
}
