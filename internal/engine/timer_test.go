package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmitter struct {
	period  time.Duration
	flushes int
}

func (c *countingEmitter) Period() time.Duration { return c.period }
func (c *countingEmitter) Flush() { c.flushes++ }

// Subscribers lets countingEmitter register as a TimedBuffer.
func (c *countingEmitter) Subscribers() int { return 0 }

var _ TimedBuffer = (*countingEmitter)(nil)

func TestTimerList_Earliest(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := newTimerList(nil, epoch).earliest()
		assert.False(t, ok)
	})

	t.Run("picks nearest deadline", func(t *testing.T) {
		timers := newTimerList([]TimedEmitter{
			&countingEmitter{period: 5 * time.Second},
			&countingEmitter{period: 2 * time.Second},
			&countingEmitter{period: 3 * time.Second},
		}, epoch)

		next, ok := timers.earliest()
		require.True(t, ok)
		assert.Equal(t, epoch.Add(2*time.Second), next)
	})
}

func TestTimerList_FireOnlyDue(t *testing.T) {
	fast := &countingEmitter{period: time.Second}
	slow := &countingEmitter{period: 10 * time.Second}
	timers := newTimerList([]TimedEmitter{fast, slow}, epoch)

	assert.Empty(t, timers.fire(epoch.Add(999*time.Millisecond)))

	fired := timers.fire(epoch.Add(time.Second))
	assert.Equal(t, []firing{{timer: 0, skipped: 0}}, fired)
	assert.Equal(t, 1, fast.flushes)
	assert.Equal(t, 0, slow.flushes)

	next, _ := timers.earliest()
	assert.Equal(t, epoch.Add(2*time.Second), next)
}

func TestTimerList_TiesFlushTogether(t *testing.T) {
	a := &countingEmitter{period: time.Second}
	b := &countingEmitter{period: time.Second}
	timers := newTimerList([]TimedEmitter{a, b}, epoch)

	fired := timers.fire(epoch.Add(time.Second))

	assert.Len(t, fired, 2)
	assert.Equal(t, 1, a.flushes)
	assert.Equal(t, 1, b.flushes)
}

func TestTimerList_CatchUpSkipsMissedPeriods(t *testing.T) {
	tests := []struct {
		name        string
		now         time.Duration
		wantSkipped int
		wantNext    time.Duration
	}{
		{name: "exactly on deadline", now: time.Second, wantSkipped: 0, wantNext: 2 * time.Second},
		{name: "between deadlines", now: 1500 * time.Millisecond, wantSkipped: 0, wantNext: 2 * time.Second},
		{name: "three deadlines passed", now: 3500 * time.Millisecond, wantSkipped: 2, wantNext: 4 * time.Second},
		{name: "landed on later deadline", now: 5 * time.Second, wantSkipped: 4, wantNext: 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &countingEmitter{period: time.Second}
			timers := newTimerList([]TimedEmitter{em}, epoch)

			fired := timers.fire(epoch.Add(tt.now))

			require.Len(t, fired, 1)
			assert.Equal(t, tt.wantSkipped, fired[0].skipped)
			assert.Equal(t, 1, em.flushes, "flush runs once per wake-up")
			next, _ := timers.earliest()
			assert.Equal(t, epoch.Add(tt.wantNext), next)
		})
	}
}
