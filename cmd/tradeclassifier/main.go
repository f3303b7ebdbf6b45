// Command tradeclassifier classifies Deribit trades as buys or sells
// against the live order book of one instrument.
//
//	tradeclassifier [instrument] [--batch-period 5s] [--metrics-addr :9090]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/streamz/internal/cli"
	"github.com/roach88/streamz/internal/deribit"
	"github.com/roach88/streamz/internal/engine"
	"github.com/roach88/streamz/internal/metrics"
	"github.com/roach88/streamz/internal/sources"
	"github.com/roach88/streamz/internal/stream"
)

const (
	defaultInstrument = "BTC-PERPETUAL"
	wsBufferSize      = 1024
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

func newCommand() *cobra.Command {
	var (
		batchPeriod time.Duration
		metricsAddr string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:           "tradeclassifier [instrument]",
		Short:         "Classify Deribit trades against the order book",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			instrument := defaultInstrument
			if len(args) == 1 {
				instrument = args[0]
			}
			if batchPeriod <= 0 {
				return cli.NewExitError(cli.ExitCommandError, "--batch-period must be positive")
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, logger, instrument, batchPeriod, metricsAddr)
		},
	}

	cmd.Flags().DurationVar(&batchPeriod, "batch-period", deribit.DefaultBatchPeriod, "how often classified trades are summarized")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func run(ctx context.Context, logger *slog.Logger, instrument string, batchPeriod time.Duration, metricsAddr string) error {
	logger = logger.With("instrument", instrument)
	c := deribit.NewClassifier(batchPeriod)
	c.LogTo(logger)

	book, err := subscribe(c.Book, deribit.BookRequestID, deribit.BookChannel(instrument), logger)
	if err != nil {
		return cli.WrapExitError(cli.ExitCommandError, "order book source", err)
	}
	trades, err := subscribe(c.Trades, deribit.TradesRequestID, deribit.TradesChannel(instrument), logger)
	if err != nil {
		return cli.WrapExitError(cli.ExitCommandError, "trades source", err)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if metricsAddr != "" {
		collector := metrics.NewCollector("tradeclassifier")
		c.Batches.Stream().Sink(func(batch [][]deribit.Trade) {
			collector.ObserveBatch(deribit.CountTrades(batch))
		})
		opts = append(opts, engine.WithObserver(collector))
		go func() {
			if err := collector.Serve(ctx, metricsAddr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	e, err := engine.NewBuilder(opts...).
		AddSource("Order book", book).
		AddSource("Trades", trades).
		AddStream(c.Classified).
		AddTimedBuffer(c.Batches).
		Build()
	if err != nil {
		return cli.WrapExitError(cli.ExitCommandError, "build engine", err)
	}

	state, err := e.Run(ctx)
	logger.Info("stopped", "state", state)
	if err != nil {
		return cli.WrapExitError(cli.ExitFailure, "classifier failed", err)
	}
	return nil
}

func subscribe(out *stream.Source[string], id int, channel string, logger *slog.Logger) (*sources.WebSocket, error) {
	return sources.NewWebSocket(sources.WebSocketConfig{
		URL:          deribit.URL,
		InitMessages: []string{deribit.SubscribeMessage(id, channel)},
		BufferSize:   wsBufferSize,
	}, out, sources.WithLogger(logger))
}
