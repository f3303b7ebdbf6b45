package pipeline

import (
	"context"
	"log/slog"

	"github.com/roach88/streamz/internal/engine"
	"github.com/roach88/streamz/internal/store"
)

// recorder writes a run and its batches to the store.
//
// All methods run on the engine goroutine except finish, which runs after
// the engine stopped. A store failure disables recording for the rest of
// the run instead of stopping the engine.
type recorder struct {
	engine.NopObserver

	store    *store.Store
	pipeline string
	clock    engine.Clock
	logger   *slog.Logger

	runID    string
	seq      int64
	disabled bool
}

func newRecorder(s *store.Store, pipeline string, clock engine.Clock, logger *slog.Logger) *recorder {
	return &recorder{store: s, pipeline: pipeline, clock: clock, logger: logger}
}

// Started begins the run row.
func (r *recorder) Started(runID string) {
	r.runID = runID
	err := r.store.BeginRun(context.Background(), store.Run{
		ID:        runID,
		Pipeline:  r.pipeline,
		StartedAt: r.clock.Now(),
	})
	if err != nil {
		r.fail("begin run", err)
	}
}

func (r *recorder) write(batch []Item) {
	if r.disabled {
		return
	}
	r.seq++

	payloads := make([]string, len(batch))
	for i, it := range batch {
		payloads[i] = it.Payload
	}
	err := r.store.WriteBatch(context.Background(), store.Batch{
		RunID:     r.runID,
		Seq:       r.seq,
		FlushedAt: r.clock.Now(),
		Items:     payloads,
	})
	if err != nil {
		r.fail("write batch", err)
	}
}

func (r *recorder) finish(ctx context.Context, state engine.State, runErr error) {
	if r.disabled || r.runID == "" {
		return
	}
	if err := r.store.FinishRun(ctx, r.runID, state.String(), r.clock.Now(), runErr); err != nil {
		r.fail("finish run", err)
	}
}

func (r *recorder) fail(op string, err error) {
	r.disabled = true
	r.logger.Error("recording disabled", "op", op, "run_id", r.runID, "error", err)
}
