package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamz/internal/testutil"
)

// countingDispatcher runs fn inline and counts calls.
type countingDispatcher struct {
	calls int
}

func (d *countingDispatcher) Dispatch(_ context.Context, fn func()) error {
	d.calls++
	fn()
	return nil
}

// refusingDispatcher never runs fn.
type refusingDispatcher struct{}

func (refusingDispatcher) Dispatch(ctx context.Context, _ func()) error {
	return context.Canceled
}

func TestEmitContext_WithoutDispatcherRunsInline(t *testing.T) {
	src := NewSource[int]()
	rec := testutil.NewRecorder[int]()
	src.Stream().Sink(rec.Record)

	require.NoError(t, src.EmitContext(context.Background(), 5))
	assert.Equal(t, []int{5}, rec.Values())
}

func TestEmitContext_RoutesThroughDispatcher(t *testing.T) {
	src := NewSource[int]()
	rec := testutil.NewRecorder[int]()
	src.Stream().Sink(rec.Record)

	d := &countingDispatcher{}
	ctx := WithDispatcher(context.Background(), d)

	require.NoError(t, src.EmitContext(ctx, 1))
	require.NoError(t, src.EmitContext(ctx, 2))

	assert.Equal(t, 2, d.calls)
	assert.Equal(t, []int{1, 2}, rec.Values())
}

func TestEmitContext_DispatcherError(t *testing.T) {
	src := NewSource[int]()
	rec := testutil.NewRecorder[int]()
	src.Stream().Sink(rec.Record)

	ctx := WithDispatcher(context.Background(), refusingDispatcher{})
	err := src.EmitContext(ctx, 1)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, rec.Values())
}

func TestDispatcherFrom(t *testing.T) {
	_, ok := DispatcherFrom(context.Background())
	assert.False(t, ok)

	d := &countingDispatcher{}
	got, ok := DispatcherFrom(WithDispatcher(context.Background(), d))
	assert.True(t, ok)
	assert.Same(t, d, got)
}
