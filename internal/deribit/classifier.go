package deribit

import (
	"log/slog"
	"time"

	"github.com/roach88/streamz/internal/stream"
)

// DefaultBatchPeriod is how often classified trades are summarized.
const DefaultBatchPeriod = 5 * time.Second

// Classifier is the trade classification graph.
//
// Order book messages fold into a Snapshot. Each trades message is paired
// with the latest snapshot and classified; book updates alone never produce
// output. Classified messages are also collected and released as batches.
type Classifier struct {
	Book       *stream.Source[string]
	Trades     *stream.Source[string]
	Snapshots  stream.Stream[Snapshot]
	Classified stream.Stream[[]Trade]
	Batches    *stream.TimedBuffer[[]Trade]
}

// NewClassifier wires the graph. batchPeriod must be positive.
func NewClassifier(batchPeriod time.Duration) *Classifier {
	book := stream.NewSource[string]()
	trades := stream.NewSource[string]()

	snapshots := stream.Accumulate(book.Stream(), Snapshot{}, ApplyBook)
	pairs := stream.Zip(trades.Stream(), snapshots)
	classified := stream.Map(pairs, func(p stream.Pair[string, Snapshot]) []Trade {
		return ClassifyTrades(p.Left, p.Right)
	})

	return &Classifier{
		Book:       book,
		Trades:     trades,
		Snapshots:  snapshots,
		Classified: classified,
		Batches:    stream.NewTimedBuffer(classified, batchPeriod),
	}
}

// LogTo attaches log sinks for snapshot changes, trades and batches.
func (c *Classifier) LogTo(logger *slog.Logger) {
	var last Snapshot
	c.Snapshots.Sink(func(s Snapshot) {
		if s.HasBid && (!last.HasBid || s.BestBid != last.BestBid) {
			logger.Info("best bid updated", "bid", s.BestBid)
		}
		if s.HasAsk && (!last.HasAsk || s.BestAsk != last.BestAsk) {
			logger.Info("best ask updated", "ask", s.BestAsk)
		}
		last = s
	})
	c.Classified.Sink(func(trades []Trade) {
		for _, t := range trades {
			logger.Info(t.String())
		}
	})
	c.Batches.Stream().Sink(func(batch [][]Trade) {
		logger.Info("emitting batch", "messages", len(batch), "trades", CountTrades(batch))
	})
}

// CountTrades returns the number of trades in a batch.
func CountTrades(batch [][]Trade) int {
	n := 0
	for _, trades := range batch {
		n += len(trades)
	}
	return n
}
