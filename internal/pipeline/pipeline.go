// Package pipeline turns a pipeline file into a runnable engine.
//
// The graph it builds is fixed:
//
//	source... -> merge -> [filter] -> [timed buffer] -> log sink
//	                                                 -> recorder sink
//
// Every configured source feeds one merged stream of Items. Without a batch
// section each item is handled as a batch of one.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/roach88/streamz/internal/config"
	"github.com/roach88/streamz/internal/engine"
	"github.com/roach88/streamz/internal/metrics"
	"github.com/roach88/streamz/internal/sources"
	"github.com/roach88/streamz/internal/store"
	"github.com/roach88/streamz/internal/stream"
)

// Item is one value produced by a configured source.
type Item struct {
	Source  string
	Payload string
}

// Options holds the collaborators a pipeline may use. Zero values are
// fine: nothing is recorded and no metrics are kept.
type Options struct {
	Logger     *slog.Logger
	Store      *store.Store
	Metrics    *metrics.Collector
	Clock      engine.Clock
	RunIDs     engine.RunIDGenerator
	HTTPClient *http.Client

	// OnBatch, when set, receives every batch after it was logged and
	// recorded.
	OnBatch func([]Item)
}

// Pipeline is a built, not yet run, pipeline.
type Pipeline struct {
	cfg      *config.Pipeline
	engine   *engine.Engine
	recorder *recorder
	logger   *slog.Logger
	opts     Options
}

// Build wires cfg into an engine graph.
func Build(cfg *config.Pipeline, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = engine.SystemClock{}
	}
	logger := opts.Logger.With("pipeline", cfg.Name)

	p := &Pipeline{cfg: cfg, logger: logger, opts: opts}
	observers := engine.Observers{}
	if opts.Metrics != nil {
		observers = append(observers, opts.Metrics)
	}
	if opts.Store != nil {
		p.recorder = newRecorder(opts.Store, cfg.Name, opts.Clock, logger)
		observers = append(observers, p.recorder)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(opts.Clock),
		engine.WithObserver(observers),
	}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	b := engine.NewBuilder(engineOpts...)

	srcOpts := []sources.Option{sources.WithLogger(logger)}
	if opts.HTTPClient != nil {
		srcOpts = append(srcOpts, sources.WithHTTPClient(opts.HTTPClient))
	}

	inputs := make([]stream.Stream[Item], 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		items, producer, err := buildSource(sc, srcOpts)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Label, err)
		}
		b.AddSource(sc.Label, producer)
		inputs = append(inputs, items)
	}

	merged := stream.Merge(inputs...)
	b.AddStream(merged)

	if cfg.Filter != nil {
		needle := cfg.Filter.Contains
		merged = merged.Filter(func(it Item) bool {
			return strings.Contains(it.Payload, needle)
		})
	}

	if cfg.Batch != nil {
		buf := stream.NewTimedBuffer(merged, cfg.Batch.Period)
		buf.Stream().Sink(p.handleBatch)
		b.AddTimedBuffer(buf)
	} else {
		merged.Sink(func(it Item) {
			p.handleBatch([]Item{it})
		})
	}

	e, err := b.Build()
	if err != nil {
		return nil, err
	}
	p.engine = e
	return p, nil
}

// buildSource creates one producer and the Item stream it feeds.
func buildSource(sc config.Source, opts []sources.Option) (stream.Stream[Item], engine.Source, error) {
	label := sc.Label
	tag := func(payload string) Item {
		return Item{Source: label, Payload: payload}
	}

	switch sc.Kind {
	case config.KindWebSocket:
		src := stream.NewSource[string]()
		ws, err := sources.NewWebSocket(sources.WebSocketConfig{
			URL:          sc.URL,
			InitMessages: sc.InitMessages,
			BufferSize:   sc.BufferSize,
			Normalize:    sc.Normalize,
		}, src, opts...)
		if err != nil {
			return stream.Stream[Item]{}, nil, err
		}
		return stream.Map(src.Stream(), tag), ws, nil

	case config.KindHTTP:
		src := stream.NewSource[string]()
		poller, err := sources.NewPoller(pollConfig(sc), src, opts...)
		if err != nil {
			return stream.Stream[Item]{}, nil, err
		}
		return stream.Map(src.Stream(), tag), poller, nil

	case config.KindJSON:
		src := stream.NewSource[map[string]any]()
		poller, err := sources.NewJSONPoller(pollConfig(sc), src, opts...)
		if err != nil {
			return stream.Stream[Item]{}, nil, err
		}
		// Re-encoding sorts keys, so equal documents record identically.
		canonical := stream.FilterMap(src.Stream(), func(doc map[string]any) (string, bool) {
			data, err := json.Marshal(doc)
			return string(data), err == nil
		})
		return stream.Map(canonical, tag), poller, nil

	default:
		return stream.Stream[Item]{}, nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

func pollConfig(sc config.Source) sources.PollConfig {
	return sources.PollConfig{
		URL:     sc.URL,
		Period:  sc.Period,
		Method:  sc.Method,
		Headers: sc.Headers,
		Body:    sc.Body,
	}
}

// handleBatch runs on the engine goroutine.
func (p *Pipeline) handleBatch(batch []Item) {
	p.logger.Info("batch", "items", len(batch), "first", preview(batch[0].Payload))
	if p.opts.Metrics != nil {
		p.opts.Metrics.ObserveBatch(len(batch))
	}
	if p.recorder != nil {
		p.recorder.write(batch)
	}
	if p.opts.OnBatch != nil {
		p.opts.OnBatch(batch)
	}
}

// Run runs the engine and records the outcome.
func (p *Pipeline) Run(ctx context.Context) (engine.State, error) {
	state, err := p.engine.Run(ctx)
	if p.recorder != nil {
		p.recorder.finish(context.WithoutCancel(ctx), state, err)
	}
	return state, err
}

// RunID returns the id of the current or last run.
func (p *Pipeline) RunID() string {
	return p.engine.RunID()
}

const previewLen = 120

// preview shortens s to at most previewLen bytes for logging, cutting on a
// rune boundary.
func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
