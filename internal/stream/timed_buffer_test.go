package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/streamz/internal/testutil"
)

func TestTimedBuffer_FlushEmitsOneBatch(t *testing.T) {
	src := NewSource[int]()
	buf := NewTimedBuffer(src.Stream(), time.Second)
	rec := testutil.NewRecorder[[]int]()
	buf.Stream().Sink(rec.Record)

	src.Emit(1)
	src.Emit(2)
	src.Emit(3)
	assert.Empty(t, rec.Values(), "items must not be forwarded before a flush")
	assert.Equal(t, 3, buf.Pending())

	buf.Flush()

	assert.Equal(t, [][]int{{1, 2, 3}}, rec.Values())
	assert.Equal(t, 0, buf.Pending())
}

func TestTimedBuffer_EmptyFlushIsNoop(t *testing.T) {
	src := NewSource[int]()
	buf := NewTimedBuffer(src.Stream(), time.Second)
	rec := testutil.NewRecorder[[]int]()
	buf.Stream().Sink(rec.Record)

	buf.Flush()
	assert.Empty(t, rec.Values())

	src.Emit(1)
	buf.Flush()
	buf.Flush()

	assert.Equal(t, [][]int{{1}}, rec.Values())
}

func TestTimedBuffer_BatchesAreIndependent(t *testing.T) {
	src := NewSource[string]()
	buf := NewTimedBuffer(src.Stream(), time.Second)
	rec := testutil.NewRecorder[[]string]()
	buf.Stream().Sink(rec.Record)

	src.Emit("a")
	buf.Flush()
	src.Emit("b")
	src.Emit("c")
	buf.Flush()

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, rec.Values())
}

func TestTimedBuffer_Period(t *testing.T) {
	src := NewSource[int]()
	buf := NewTimedBuffer(src.Stream(), 250*time.Millisecond)

	assert.Equal(t, 250*time.Millisecond, buf.Period())
	assert.Equal(t, 1, src.Stream().Subscribers())
}

func TestTimedBuffer_DownstreamOperators(t *testing.T) {
	src := NewSource[int]()
	buf := NewTimedBuffer(src.Stream(), time.Second)
	rec := testutil.NewRecorder[int]()

	Map(buf.Stream(), func(batch []int) int { return len(batch) }).Sink(rec.Record)

	src.Emit(1)
	src.Emit(1)
	buf.Flush()
	src.Emit(1)
	buf.Flush()

	assert.Equal(t, []int{2, 1}, rec.Values())
	assert.Equal(t, 1, buf.Subscribers())
}
