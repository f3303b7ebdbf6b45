package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Source is the capability the engine uses to drive a long-running
// producer.
//
// Run performs I/O for as long as the producer has data and pushes values
// into the graph with stream.Source.EmitContext using the ctx it was given.
// It returns nil on graceful completion. Any error is fatal to the whole
// engine; retry, if wanted, belongs inside Run.
type Source interface {
	Run(ctx context.Context) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f SourceFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Node is any graph handle the engine keeps a reference to.
// stream.Stream and *stream.TimedBuffer satisfy it.
type Node interface {
	Subscribers() int
}

// TimedBuffer is a buffer that is both a graph node and a TimedEmitter.
type TimedBuffer interface {
	Node
	TimedEmitter
}

type registration struct {
	label  string
	source Source
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Builder collects the graph nodes, sources and timed buffers of an Engine.
//
// Registration errors are collected and reported together by Build.
type Builder struct {
	nodes    []Node
	sources  []registration
	emitters []TimedEmitter
	opts     []Option
	errs     []error
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	return &Builder{opts: opts}
}

// AddStream keeps a graph node referenced for the engine's lifetime.
func (b *Builder) AddStream(n Node) *Builder {
	if n == nil {
		b.errs = append(b.errs, registrationError("nil stream"))
		return b
	}
	b.nodes = append(b.nodes, n)
	return b
}

// AddSource registers a producer under label. The label is used only for
// logs, metrics and error attribution, but must be unique.
func (b *Builder) AddSource(label string, src Source) *Builder {
	switch {
	case label == "":
		b.errs = append(b.errs, registrationError("source label is empty"))
		return b
	case src == nil:
		b.errs = append(b.errs, registrationError("source %q is nil", label))
		return b
	}
	for _, r := range b.sources {
		if r.label == label {
			b.errs = append(b.errs, registrationError("duplicate source label %q", label))
			return b
		}
	}
	b.sources = append(b.sources, registration{label: label, source: src})
	return b
}

// AddTimedBuffer registers a buffer both as a node to keep and as a timer.
func (b *Builder) AddTimedBuffer(buf TimedBuffer) *Builder {
	if buf == nil {
		b.errs = append(b.errs, registrationError("nil timed buffer"))
		return b
	}
	if p := buf.Period(); p <= 0 {
		b.errs = append(b.errs, registrationError("timed buffer %d has non-positive period %s", len(b.emitters), p))
		return b
	}
	b.nodes = append(b.nodes, buf)
	b.emitters = append(b.emitters, buf)
	return b
}

// Build finalizes the registrations into a runnable Engine.
func (b *Builder) Build() (*Engine, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	e := &Engine{
		nodes:    append([]Node(nil), b.nodes...),
		sources:  append([]registration(nil), b.sources...),
		emitters: append([]TimedEmitter(nil), b.emitters...),
		clock:    SystemClock{},
		observer: NopObserver{},
		runIDs:   UUIDv7Generator{},
		logger:   slog.Default(),
		requests: make(chan dispatchRequest),
	}
	for _, opt := range b.opts {
		opt(e)
	}
	return e, nil
}

// periods returns the registered timer periods, for diagnostics.
func (e *Engine) periods() []time.Duration {
	out := make([]time.Duration, len(e.emitters))
	for i, em := range e.emitters {
		out[i] = em.Period()
	}
	return out
}
