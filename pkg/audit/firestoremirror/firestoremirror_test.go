package firestoremirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/audit"
)

func TestDisabledSinkIsNoOp(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	err = s.Write(context.Background(), audit.Event{EntityID: "0xdeadbeef", Phase: "queued"})
	require.NoError(t, err)

	hash, err := s.LatestEntryHash(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, "", hash)
}

func TestEnabledWithoutProjectIDFails(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true})
	require.Error(t, err)
}
