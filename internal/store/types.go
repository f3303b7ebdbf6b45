package store

import "time"

// Run is one recorded engine run.
type Run struct {
	ID         string
	Pipeline   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is still going
	State      string
	Error      string
	Batches    int
}

// Finished reports whether FinishRun was recorded for the run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Batch is one flushed batch.
type Batch struct {
	RunID     string
	Seq       int64
	FlushedAt time.Time
	Items     []string
}
