package vaaclient

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/tbtc-relayer/pkg/clock"
)

func TestFetchVaaSuccess(t *testing.T) {
	want := []byte("signed-vaa-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/vaas/2/0xabc/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"vaa":"` + base64.StdEncoding.EncodeToString(want) + `"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithMinPollInterval(0))
	got, err := c.FetchVaa(context.Background(), 2, "0xabc", 7)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFetchVaaNotReadyThenSuccess(t *testing.T) {
	var calls int
	want := []byte("signed-vaa-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":{"vaa":"` + base64.StdEncoding.EncodeToString(want) + `"}}`))
	}))
	defer server.Close()

	fake := clock.NewFake(time.Unix(0, 0))
	c := NewClient(server.URL, WithMinPollInterval(0), WithClock(fake))

	got, err := c.FetchVaa(context.Background(), 2, "0xabc", 7)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 3, calls)
}

func TestFetchVaaNonRecoverableFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithMinPollInterval(0))
	_, err := c.FetchVaa(context.Background(), 2, "0xabc", 7)

	require.Error(t, err)
	var failed *ErrFailed
	assert.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, calls)
}
