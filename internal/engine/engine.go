package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/streamz/internal/stream"
)

// Engine owns a stream graph's sources and timers and runs them.
//
// Thread-safety model:
//   - Run(): must be called exactly once, from the goroutine that will
//     execute all graph code
//   - State(), RunID(): safe from any goroutine
type Engine struct {
	nodes    []Node
	sources  []registration
	emitters []TimedEmitter

	clock    Clock
	observer Observer
	runIDs   RunIDGenerator
	logger   *slog.Logger

	// requests carries emissions from source goroutines into the Run loop.
	requests chan dispatchRequest

	state atomic.Int32
	runID atomic.Value // string
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RunID returns the id of the current or last run, or "" before Run.
func (e *Engine) RunID() string {
	id, _ := e.runID.Load().(string)
	return id
}

type sourceResult struct {
	label string
	err   error
}

// Run drives the engine until every source completes, one source fails, or
// ctx is cancelled.
//
// Returns (Completed, nil), (Interrupted, nil) or (Failed, *SourceError).
// Cancellation is not an error. When Run returns, the context passed to the
// sources is cancelled and sources still running are abandoned without
// being awaited; items still sitting in timed buffers are dropped.
func (e *Engine) Run(ctx context.Context) (State, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return e.State(), ErrAlreadyRun
	}

	runID := e.runIDs.Generate()
	e.runID.Store(runID)
	log := e.logger.With("run_id", runID)

	log.Info("engine starting",
		"sources", len(e.sources),
		"timers", len(e.emitters),
		"nodes", len(e.nodes),
		"periods", e.periods(),
	)
	if len(e.sources) == 0 {
		log.Info("no sources registered; waiting for interrupt")
	}

	e.observer.Started(runID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a finishing source never blocks after Run has returned.
	results := make(chan sourceResult, len(e.sources))
	for _, reg := range e.sources {
		e.observer.SourceStarted(reg.label)
		go e.runSource(runCtx, reg, results)
	}

	timers := newTimerList(e.emitters, e.clock.Now())
	remaining := len(e.sources)

	for {
		// Recomputed every iteration: flushing moves deadlines.
		var timerC <-chan time.Time
		if next, ok := timers.earliest(); ok {
			timerC = e.clock.After(next.Sub(e.clock.Now()))
		}

		// With no sources there is nothing to complete; only timers and
		// the interrupt can wake the loop.
		var resultC <-chan sourceResult
		if remaining > 0 {
			resultC = results
		}

		select {
		case req := <-e.requests:
			req.fn()
			close(req.done)
			e.observer.Emitted(req.label)

		case res := <-resultC:
			e.observer.SourceFinished(res.label, res.err)
			// A source stopping because of the interrupt can be picked
			// before ctx.Done(); the interrupt still decides the outcome.
			if ctx.Err() != nil {
				log.Info("received interrupt, shutting down engine", "source", res.label)
				return e.stop(log, Interrupted, nil)
			}
			if res.err != nil {
				log.Error("source failed", "source", res.label, "error", res.err)
				return e.stop(log, Failed, &SourceError{Label: res.label, Err: res.err})
			}
			remaining--
			log.Info("source completed", "source", res.label, "remaining", remaining)
			if remaining == 0 {
				log.Info("all sources completed")
				return e.stop(log, Completed, nil)
			}

		case <-timerC:
			for _, f := range timers.fire(e.clock.Now()) {
				if f.skipped > 0 {
					log.Debug("timer skipped missed periods", "timer", f.timer, "skipped", f.skipped)
				}
				e.observer.Flushed(f.timer, f.skipped)
			}

		case <-ctx.Done():
			log.Info("received interrupt, shutting down engine")
			return e.stop(log, Interrupted, nil)
		}
	}
}

func (e *Engine) stop(log *slog.Logger, state State, err error) (State, error) {
	e.state.Store(int32(state))
	e.observer.Stopped(state)
	log.Info("engine stopped", "state", state.String())
	return state, err
}

// runSource executes one source on its own goroutine and reports the
// outcome. A panic is reported as a failure rather than crashing the process.
func (e *Engine) runSource(ctx context.Context, reg registration, results chan<- sourceResult) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
		results <- sourceResult{label: reg.label, err: err}
	}()

	d := &sourceDispatcher{label: reg.label, requests: e.requests}
	err = reg.source.Run(stream.WithDispatcher(ctx, d))
}
