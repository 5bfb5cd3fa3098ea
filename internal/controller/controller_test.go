package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/datasource"
	"github.com/vercel/flags-go/internal/usagetracker"
)

func writeDatafile(t *testing.T, w http.ResponseWriter, updatedAt int) {
	t.Helper()
	df := internal.Datafile{
		Environment:     "production",
		Definitions:     map[string]internal.FlagDefinition{},
		ConfigUpdatedAt: json.RawMessage(assertMarshal(t, updatedAt)),
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(df))
}

func assertMarshal(t *testing.T, v int) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestControllerPollingPrimaryReachesSteadyState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDatafile(t, w, 1)
	}))
	defer server.Close()

	c := New(Options{
		SDKKey:          "vf_test",
		Host:            server.URL,
		UserAgent:       "flags-go-test",
		PollEnabled:     true,
		PollInterval:    30 * time.Second,
		PollInitTimeout: 2 * time.Second,
	})
	defer c.Shutdown()

	err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePolling, c.Status().State)

	result, err := c.Read(context.Background(), usagetracker.RequestContext{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, internal.CacheHit, result.Metrics.CacheStatus)
	assert.Equal(t, internal.ModePolling, result.Metrics.Mode)
}

func TestControllerFallsBackToBundledWhenNoSourceEnabled(t *testing.T) {
	loader := fakeLoaderFunc(func(key string) (internal.Datafile, bool) {
		if key == "vf_test" {
			return internal.Datafile{Environment: "production"}, true
		}
		return internal.Datafile{}, false
	})

	c := New(Options{
		SDKKey:        "vf_test",
		Host:          "http://unused.invalid",
		BundledLoader: loader,
	})
	defer c.Shutdown()

	err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, c.Status().State)

	result, err := c.Read(context.Background(), usagetracker.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, internal.SourceEmbedded, result.Metrics.Source)
}

func TestControllerNoSourcesReturnsNoDataAvailable(t *testing.T) {
	c := New(Options{SDKKey: "vf_test", Host: "http://unused.invalid"})
	defer c.Shutdown()

	err := c.Initialize(context.Background())
	assert.Error(t, err)
	assert.IsType(t, &internal.NoDataAvailableError{}, err)
}

func TestControllerInitializeIsIdempotentAndConcurrencySafe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDatafile(t, w, 1)
	}))
	defer server.Close()

	c := New(Options{
		SDKKey:          "vf_test",
		Host:            server.URL,
		PollEnabled:     true,
		PollInitTimeout: 2 * time.Second,
	})
	defer c.Shutdown()

	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() { done <- c.Initialize(context.Background()) }()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-done)
	}
}

func TestControllerBuildStepNeverStartsBackgroundSources(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeDatafile(t, w, 1)
	}))
	defer server.Close()

	c := New(Options{
		SDKKey:      "vf_test",
		Host:        server.URL,
		BuildStep:   true,
		PollEnabled: true,
	})
	defer c.Shutdown()

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, StateBuildReady, c.Status().State)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, calls, "build step must perform exactly one fetch and never arm a ticker")
}

// TestControllerBuildStepReadResolvesInlineOnFirstCall exercises Read in
// build-step mode without a prior Initialize call: the first read must
// resolve the datafile itself (bundled/fetch chain) and report CacheMiss,
// the second read must find it already cached and report CacheHit.
func TestControllerBuildStepReadResolvesInlineOnFirstCall(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeDatafile(t, w, 1)
	}))
	defer server.Close()

	c := New(Options{
		SDKKey:    "vf_test",
		Host:      server.URL,
		BuildStep: true,
	})
	defer c.Shutdown()

	first, err := c.Read(context.Background(), usagetracker.RequestContext{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, internal.CacheMiss, first.Metrics.CacheStatus)

	second, err := c.Read(context.Background(), usagetracker.RequestContext{ID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, internal.CacheHit, second.Metrics.CacheStatus)

	assert.Equal(t, 1, calls, "the second read must not re-fetch")
}

type fakeLoaderFunc func(key string) (internal.Datafile, bool)

func (f fakeLoaderFunc) Get(key string) (internal.Datafile, bool) { return f(key) }

// TestControllerStreamReconnectStopsSecondaryPolling exercises the
// stream-disconnect -> secondary-poll -> stream-reconnect cycle: the first
// stream connection delivers one datafile then closes, forcing a disconnect
// that starts polling as a secondary source; the second connection delivers
// another datafile and must tear the secondary poller back down.
func TestControllerStreamReconnectStopsSecondaryPolling(t *testing.T) {
	var connCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := atomic.AddInt32(&connCount, 1)
		w.Header().Set("Content-Type", "application/x-ndjson")
		df := internal.Datafile{
			Environment:     "production",
			Definitions:     map[string]internal.FlagDefinition{},
			ConfigUpdatedAt: json.RawMessage(assertMarshal(t, int(n))),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"type": "datafile", "data": df})
		w.(http.Flusher).Flush()
		if n == 1 {
			return // first connection: one message then close, forcing a disconnect
		}
		<-r.Context().Done() // later connections stay open
	}))
	defer server.Close()

	c := New(Options{
		SDKKey:            "vf_test",
		Host:              server.URL,
		StreamEnabled:     true,
		StreamInitTimeout: 2 * time.Second,
		PollEnabled:       true,
		PollInterval:      datasource.MinPollInterval,
		PollInitTimeout:   2 * time.Second,
	})
	defer c.Shutdown()

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, StateStreaming, c.Status().State)

	waitUntil(t, 5*time.Second, "expected secondary polling to start after a stream disconnect", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pollRunning && !c.pollPrimary
	})

	waitUntil(t, 5*time.Second, "expected stream reconnect to stop the secondary poller", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state == StateStreaming && !c.pollRunning
	})
}

func waitUntil(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
