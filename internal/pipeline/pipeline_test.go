package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamz/internal/config"
	"github.com/roach88/streamz/internal/engine"
	"github.com/roach88/streamz/internal/metrics"
	"github.com/roach88/streamz/internal/store"
	"github.com/roach88/streamz/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countingServer(t *testing.T, format string) *httptest.Server {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, format, hits.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// stopAfter returns an OnBatch hook that keeps the first n batches and
// then cancels. Batches handled before the engine notices are ignored.
func stopAfter(n int, cancel context.CancelFunc) (*testutil.Recorder[[]Item], func([]Item)) {
	rec := testutil.NewRecorder[[]Item]()
	return rec, func(batch []Item) {
		if rec.Len() >= n {
			return
		}
		rec.Record(batch)
		if rec.Len() == n {
			cancel()
		}
	}
}

func TestPipeline_RecordsItemsUntilInterrupted(t *testing.T) {
	srv := countingServer(t, "tick-%d")
	db := openStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, onBatch := stopAfter(2, cancel)

	p, err := Build(&config.Pipeline{
		Name: "ticks",
		Sources: []config.Source{
			{Label: "ticker", Kind: config.KindHTTP, URL: srv.URL, Period: 5 * time.Millisecond},
		},
	}, Options{
		Store:   db,
		RunIDs:  engine.NewFixedGenerator("run-1"),
		OnBatch: onBatch,
	})
	require.NoError(t, err)

	state, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.Interrupted, state)
	assert.Equal(t, "run-1", p.RunID())

	assert.Equal(t, [][]Item{
		{{Source: "ticker", Payload: "tick-1"}},
		{{Source: "ticker", Payload: "tick-2"}},
	}, rec.Values())

	run, err := db.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ticks", run.Pipeline)
	assert.Equal(t, "interrupted", run.State)
	assert.True(t, run.Finished())

	batches, err := db.ReadBatches(context.Background(), "run-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(batches), 2)
	assert.Equal(t, []string{"tick-1"}, batches[0].Items)
	assert.Equal(t, []string{"tick-2"}, batches[1].Items)
}

func TestPipeline_FilterDropsNonMatching(t *testing.T) {
	srv := countingServer(t, "n=%d")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, onBatch := stopAfter(2, cancel)

	p, err := Build(&config.Pipeline{
		Name: "filtered",
		Sources: []config.Source{
			{Label: "counter", Kind: config.KindHTTP, URL: srv.URL, Period: time.Millisecond},
		},
		Filter: &config.Filter{Contains: "1"},
	}, Options{OnBatch: onBatch})
	require.NoError(t, err)

	_, err = p.Run(ctx)
	require.NoError(t, err)

	// n=1 and n=10 are the first two payloads containing "1".
	assert.Equal(t, [][]Item{
		{{Source: "counter", Payload: "n=1"}},
		{{Source: "counter", Payload: "n=10"}},
	}, rec.Values())
}

func TestPipeline_JSONSourceIsCanonicalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"z": 1, "a": {"y": true, "b": null}}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, onBatch := stopAfter(1, cancel)

	p, err := Build(&config.Pipeline{
		Name: "json",
		Sources: []config.Source{
			{Label: "doc", Kind: config.KindJSON, URL: srv.URL, Period: time.Second},
		},
	}, Options{OnBatch: onBatch})
	require.NoError(t, err)

	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]Item{{{Source: "doc", Payload: `{"a":{"b":null,"y":true},"z":1}`}}}, rec.Values())
}

func TestPipeline_TimedBatches(t *testing.T) {
	srv := countingServer(t, "%d")
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	collector := metrics.NewCollector("test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, onBatch := stopAfter(1, cancel)

	var polled atomic.Int32
	client := &http.Client{Transport: countingTransport{next: http.DefaultTransport, n: &polled}}

	p, err := Build(&config.Pipeline{
		Name: "batched",
		Sources: []config.Source{
			{Label: "n", Kind: config.KindHTTP, URL: srv.URL, Period: time.Millisecond},
		},
		Batch: &config.Batch{Period: 5 * time.Second},
	}, Options{Clock: clock, Metrics: collector, OnBatch: onBatch, HTTPClient: client})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return polled.Load() >= 3 }, 5*time.Second, time.Millisecond)
	clock.Advance(5 * time.Second)
	<-done

	require.Equal(t, 1, rec.Len())
	batch := rec.Values()[0]
	require.GreaterOrEqual(t, len(batch), 2)
	for i, it := range batch[:2] {
		assert.Equal(t, fmt.Sprint(i+1), it.Payload)
	}
}

type countingTransport struct {
	next http.RoundTripper
	n    *atomic.Int32
}

func (c countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := c.next.RoundTrip(r)
	c.n.Add(1)
	return resp, err
}

func TestPipeline_SourceFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	db := openStore(t)

	p, err := Build(&config.Pipeline{
		Name: "broken",
		Sources: []config.Source{
			{Label: "gone", Kind: config.KindHTTP, URL: url, Period: time.Second},
		},
	}, Options{Store: db, RunIDs: engine.NewFixedGenerator("run-x")})
	require.NoError(t, err)

	state, err := p.Run(context.Background())
	assert.Equal(t, engine.Failed, state)
	label, ok := engine.FailedSource(err)
	require.True(t, ok)
	assert.Equal(t, "gone", label)

	run, err := db.ReadRun(context.Background(), "run-x")
	require.NoError(t, err)
	assert.Equal(t, "failed", run.State)
	assert.Contains(t, run.Error, "gone source error")
}

func TestBuild_RejectsInvalidSource(t *testing.T) {
	_, err := Build(&config.Pipeline{
		Name: "bad",
		Sources: []config.Source{
			{Label: "h", Kind: config.KindHTTP, URL: "http://example.com", Period: time.Second,
				Headers: map[string]string{"Bad Header": "x"}},
		},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `source "h"`)

	_, err = Build(&config.Pipeline{
		Name:    "bad",
		Sources: []config.Source{{Label: "q", Kind: "carrier-pigeon"}},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source kind")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := string(make([]byte, 500))
	assert.Len(t, preview(long), previewLen+3)

	// Two-byte runes starting at odd offsets put byte previewLen mid-rune.
	multi := "a" + strings.Repeat("é", 100)
	got := preview(multi)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("é", 59)+"...", got)
}
