package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamz/internal/stream"
	"github.com/roach88/streamz/internal/testutil"
)

// stopAfter returns a sink that records values and cancels once n arrived.
func stopAfter[T any](n int, cancel context.CancelFunc) (*testutil.Recorder[T], func(T)) {
	rec := testutil.NewRecorder[T]()
	return rec, func(v T) {
		rec.Record(v)
		if rec.Len() == n {
			cancel()
		}
	}
}

func TestPoller_PollsRepeatedly(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, "tick-%d", n)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.NewSource[string]()
	rec, sink := stopAfter[string](3, cancel)
	src.Stream().Sink(sink)

	p, err := NewPoller(PollConfig{URL: srv.URL, Period: 10 * time.Millisecond}, src)
	require.NoError(t, err)

	err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"tick-1", "tick-2", "tick-3"}, rec.Values())
}

func TestPoller_FirstPollIsImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "now")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.NewSource[string]()
	rec, sink := stopAfter[string](1, cancel)
	src.Stream().Sink(sink)

	p, err := NewPoller(PollConfig{URL: srv.URL, Period: time.Hour}, src)
	require.NoError(t, err)

	start := time.Now()
	_ = p.Run(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"now"}, rec.Values())
}

func TestPoller_PostWithHeadersAndBody(t *testing.T) {
	type seen struct {
		method, auth, contentType, body string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		select {
		case got <- seen{r.Method, r.Header.Get("Authorization"), r.Header.Get("Content-Type"), string(body)}:
		default:
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.NewSource[string]()
	_, sink := stopAfter[string](1, cancel)
	src.Stream().Sink(sink)

	p, err := NewPoller(PollConfig{
		URL:    srv.URL,
		Period: time.Second,
		Method: "post",
		Headers: map[string]string{
			"Authorization": "Bearer token",
			"Content-Type":  "application/json",
		},
		Body: `{"q":1}`,
	}, src)
	require.NoError(t, err)

	_ = p.Run(ctx)
	assert.Equal(t, seen{http.MethodPost, "Bearer token", "application/json", `{"q":1}`}, <-got)
}

func TestPoller_NonSuccessBodyIsEmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "try later")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.NewSource[string]()
	rec, sink := stopAfter[string](1, cancel)
	src.Stream().Sink(sink)

	p, err := NewPoller(PollConfig{URL: srv.URL, Period: time.Second}, src)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
	assert.Equal(t, []string{"try later"}, rec.Values())
}

func TestPoller_DeadlineEndsAsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "tick")
	}))
	defer srv.Close()

	// The next poll is due after the deadline; pacing must not fail early.
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	src := stream.NewSource[string]()
	rec := testutil.NewRecorder[string]()
	src.Stream().Sink(rec.Record)

	p, err := NewPoller(PollConfig{URL: srv.URL, Period: 50 * time.Millisecond}, src)
	require.NoError(t, err)

	err = p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "rate")
	assert.GreaterOrEqual(t, rec.Len(), 2)
}

func TestPoller_TransportErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := NewPoller(PollConfig{URL: url, Period: time.Second}, stream.NewSource[string]())
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET "+url)
}

func TestNewPoller_Validation(t *testing.T) {
	out := stream.NewSource[string]()
	tests := []struct {
		name string
		cfg  PollConfig
		want string
	}{
		{name: "bad scheme", cfg: PollConfig{URL: "ws://example.com", Period: time.Second}, want: "unsupported scheme"},
		{name: "zero period", cfg: PollConfig{URL: "http://example.com"}, want: "must be positive"},
		{name: "bad method", cfg: PollConfig{URL: "http://example.com", Period: time.Second, Method: "DELETE"}, want: "only GET and POST"},
		{name: "bad header name", cfg: PollConfig{URL: "http://example.com", Period: time.Second, Headers: map[string]string{"Bad Header": "x"}}, want: "invalid header name"},
		{name: "bad header value", cfg: PollConfig{URL: "http://example.com", Period: time.Second, Headers: map[string]string{"X-Token": "a\nb"}}, want: "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoller(tt.cfg, out)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type ticker struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestJSONPoller_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"symbol":"BTC-PERPETUAL","price":64000.5}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.NewSource[ticker]()
	rec, sink := stopAfter[ticker](1, cancel)
	src.Stream().Sink(sink)

	p, err := NewJSONPoller(PollConfig{URL: srv.URL, Period: time.Second}, src)
	require.NoError(t, err)

	_ = p.Run(ctx)
	assert.Equal(t, []ticker{{Symbol: "BTC-PERPETUAL", Price: 64000.5}}, rec.Values())
}

func TestJSONPoller_DecodeErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>`)
	}))
	defer srv.Close()

	p, err := NewJSONPoller(PollConfig{URL: srv.URL, Period: time.Second}, stream.NewSource[ticker]())
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
