package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	latest map[string]string
}

func newMemSink() *memSink {
	return &memSink{latest: make(map[string]string)}
}

func (m *memSink) Write(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.latest[event.EntityID] = event.EntryHash
	return nil
}

func (m *memSink) LatestEntryHash(_ context.Context, entityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest[entityID], nil
}

func TestRecordDepositLifecycleChainsHashes(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(Config{Sink: sink, Source: "relayer-test"})
	ctx := context.Background()

	require.NoError(t, r.RecordDepositQueued(ctx, "base-sepolia", "0xdeadbeef", "btc-tx-1"))
	require.NoError(t, r.RecordDepositInitialized(ctx, "base-sepolia", "0xdeadbeef", "0xl1init"))
	require.NoError(t, r.RecordDepositFinalized(ctx, "base-sepolia", "0xdeadbeef", "0xl1fin"))

	require.Len(t, sink.events, 3)
	assert.Equal(t, "", sink.events[0].PreviousHash)
	assert.Equal(t, sink.events[0].EntryHash, sink.events[1].PreviousHash)
	assert.Equal(t, sink.events[1].EntryHash, sink.events[2].PreviousHash)
	assert.NotEmpty(t, sink.events[2].EntryHash)
}

func TestRecordErrorCapturesIsErrorDetail(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(Config{Sink: sink})
	ctx := context.Background()

	require.NoError(t, r.RecordError(ctx, EntityRedemption, "redemption-1", "arbitrum-sepolia", "vaa_fetch", errors.New("attestation not ready")))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "vaa_fetch", sink.events[0].Phase)
	assert.Equal(t, true, sink.events[0].Details["isError"])
}

func TestNewRecorderDefaultsToLogSink(t *testing.T) {
	r := NewRecorder(Config{})
	_, ok := r.sink.(*LogSink)
	assert.True(t, ok)
}
