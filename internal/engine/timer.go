package engine

import "time"

// TimedEmitter is the capability a periodic buffer exposes to the engine.
//
// Period is read once, at Run start. Flush is always invoked from the Run
// goroutine.
type TimedEmitter interface {
	Period() time.Duration
	Flush()
}

// timerEntry tracks the next deadline of one TimedEmitter.
type timerEntry struct {
	index   int
	period  time.Duration
	next    time.Time
	emitter TimedEmitter
}

// timerList is owned by the Run loop; it is never shared.
type timerList []*timerEntry

func newTimerList(emitters []TimedEmitter, now time.Time) timerList {
	timers := make(timerList, 0, len(emitters))
	for i, em := range emitters {
		period := em.Period()
		timers = append(timers, &timerEntry{
			index:   i,
			period:  period,
			next:    now.Add(period),
			emitter: em,
		})
	}
	return timers
}

// earliest returns the nearest deadline, or false when there are no timers.
func (l timerList) earliest() (time.Time, bool) {
	var next time.Time
	found := false
	for _, t := range l {
		if !found || t.next.Before(next) {
			next = t.next
			found = true
		}
	}
	return next, found
}

// firing describes one timer flushed during a wake-up.
type firing struct {
	timer   int
	skipped int
}

// fire flushes every timer whose deadline is at or before now, once each,
// and moves its deadline past now.
func (l timerList) fire(now time.Time) []firing {
	var fired []firing
	for _, t := range l {
		if now.Before(t.next) {
			continue
		}
		t.emitter.Flush()
		skipped := t.advance(now)
		fired = append(fired, firing{timer: t.index, skipped: skipped})
	}
	return fired
}

// advance moves next forward by whole periods until it is strictly after
// now and returns how many of those periods were skipped (all but one).
func (t *timerEntry) advance(now time.Time) int {
	steps := int64(now.Sub(t.next)/t.period) + 1
	t.next = t.next.Add(time.Duration(steps) * t.period)
	return int(steps - 1)
}
