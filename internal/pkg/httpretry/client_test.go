package httpretry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flaky(t *testing.T, failures int32, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body), "body is replayed on every attempt")
		if atomic.AddInt32(&calls, 1) <= failures {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func put(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader("payload"))
	require.NoError(t, err)
	return req
}

func TestRetriesTransientStatus(t *testing.T) {
	srv, calls := flaky(t, 2, http.StatusServiceUnavailable)
	c := New(nil, 3, time.Millisecond)

	resp, err := c.Do(put(t, context.Background(), srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	srv, calls := flaky(t, 5, http.StatusBadRequest)
	c := New(nil, 3, time.Millisecond)

	resp, err := c.Do(put(t, context.Background(), srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestLastResponseReturnedWhenRetriesExhausted(t *testing.T) {
	srv, calls := flaky(t, 10, http.StatusBadGateway)
	c := New(nil, 2, time.Millisecond)

	resp, err := c.Do(put(t, context.Background(), srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	srv, _ := flaky(t, 10, http.StatusServiceUnavailable)
	c := New(nil, 5, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Do(put(t, ctx, srv.URL))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDelayBounds(t *testing.T) {
	c := New(nil, 3, 100*time.Millisecond)
	for attempt := 1; attempt <= 10; attempt++ {
		d := c.delay(attempt)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, c.maxDelay)
	}
}
