package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vercel/flags-go/internal"
)

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer vf_test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"environment":"production","configUpdatedAt":5}`))
	}))
	defer server.Close()

	data, err := Fetch(context.Background(), FetchConfig{Host: server.URL, SDKKey: "vf_test", UserAgent: "test/1"})
	require.NoError(t, err)
	assert.Equal(t, "production", data.Environment)
}

func TestFetchDoesNotRetry401(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), FetchConfig{Host: server.URL, SDKKey: "vf_bad", UserAgent: "test/1"})
	require.Error(t, err)
	assert.IsType(t, &internal.UnauthorizedError{}, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryOtherNonRetryable4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), FetchConfig{Host: server.URL, SDKKey: "vf_test", UserAgent: "test/1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"environment":"production"}`))
	}))
	defer server.Close()

	data, err := Fetch(context.Background(), FetchConfig{Host: server.URL, SDKKey: "vf_test", UserAgent: "test/1"})
	require.NoError(t, err)
	assert.Equal(t, "production", data.Environment)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), FetchConfig{Host: server.URL, SDKKey: "vf_test", UserAgent: "test/1"})
	require.Error(t, err)
	assert.Equal(t, int32(FetchAttempts), atomic.LoadInt32(&calls))
}
