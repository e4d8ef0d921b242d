package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticToken is a test TokenSource that returns a fixed token.
type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", ErrNotLoggedIn
}

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// newTestClient creates a Client pointing at url with instant retry sleeps.
func newTestClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()

	c := NewClient(url, staticToken("test-token"), testLogger(t), opts)
	c.sleepFunc = noopSleep

	return c
}

func TestDo_SetsHeadersAndSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(body))

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL, Options{}).Do(context.Background(), http.MethodPost, "/x", []byte(`{"a":1}`))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, Options{}).Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServerError))
	assert.EqualValues(t, 1, calls.Load())
}

func TestDo_RetriesAndReplaysBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL, Options{MaxRetries: 3}).
		Do(context.Background(), http.MethodPost, "/x", []byte("payload"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, Options{MaxRetries: 2}).Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThrottled))
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-Request-Id", "req-1")
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, Options{}).Do(context.Background(), http.MethodGet, "/x", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Equal(t, "req-1", rerr.RequestID)
			assert.Equal(t, "nope", rerr.Message)
		})
	}
}

func TestDo_TokenFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, failingToken{}, testLogger(t), Options{MaxRetries: 5})
	c.sleepFunc = noopSleep

	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
	assert.True(t, IsAuthError(err))
	assert.EqualValues(t, 0, calls.Load())
}

func TestPing_WorksWithoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, failingToken{}, testLogger(t), Options{})
	require.NoError(t, c.Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, Options{})
	assert.Error(t, c.Ping(context.Background()))
}

func TestDo_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv.URL, Options{MaxRetries: 3}).Do(ctx, http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := NewClient("http://unused", nil, testLogger(t), Options{})

	for attempt := 0; attempt < 10; attempt++ {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestRetryBackoff_HonoursRetryAfter(t *testing.T) {
	c := NewClient("http://unused", nil, testLogger(t), Options{})

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")

	assert.Equal(t, 7*time.Second, c.retryBackoff(resp, 0))
}
