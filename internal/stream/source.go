package stream

import "context"

// node is one stage of the graph: an ordered list of downstream callbacks.
type node[T any] struct {
	subscribers []func(T)
}

func newNode[T any]() *node[T] {
	return &node[T]{}
}

// subscribe appends fn to the callback list.
// Must only be called during graph construction.
func (n *node[T]) subscribe(fn func(T)) {
	n.subscribers = append(n.subscribers, fn)
}

// publish invokes every callback in registration order.
func (n *node[T]) publish(v T) {
	for _, fn := range n.subscribers {
		fn(v)
	}
}

// Source is the ingress node of a graph. External producers push values
// into it with Emit or EmitContext.
type Source[T any] struct {
	n *node[T]
}

// NewSource creates a Source with no subscribers.
func NewSource[T any]() *Source[T] {
	return &Source[T]{n: newNode[T]()}
}

// Emit synchronously pushes v through the whole downstream graph.
func (s *Source[T]) Emit(v T) {
	s.n.publish(v)
}

// EmitContext pushes v through the graph on the goroutine that owns it.
//
// If ctx carries a Dispatcher the emission is handed to it and EmitContext
// blocks until the graph goroutine has run the full chain, or until ctx is
// done, in which case ctx.Err() is returned and the value is dropped.
// Without a Dispatcher it behaves like Emit.
func (s *Source[T]) EmitContext(ctx context.Context, v T) error {
	d, ok := DispatcherFrom(ctx)
	if !ok {
		s.n.publish(v)
		return nil
	}
	return d.Dispatch(ctx, func() { s.n.publish(v) })
}

// Stream returns a handle to the source node for attaching combinators.
func (s *Source[T]) Stream() Stream[T] {
	return Stream[T]{n: s.n}
}

// Stream is a handle to a graph node. Copying a Stream yields another handle
// to the same node, which is how one logical stream fans out into several
// pipelines.
type Stream[T any] struct {
	n *node[T]
}

// Subscribers returns the number of callbacks registered on this node.
func (s Stream[T]) Subscribers() int {
	return len(s.n.subscribers)
}

// Dispatcher runs graph work on the goroutine that owns the graph.
//
// Dispatch must not return before fn has finished, unless ctx is done first.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func()) error
}

type dispatcherKey struct{}

// WithDispatcher returns a context carrying d. Sources started with this
// context route EmitContext through d.
func WithDispatcher(ctx context.Context, d Dispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey{}, d)
}

// DispatcherFrom extracts the Dispatcher installed by WithDispatcher.
func DispatcherFrom(ctx context.Context) (Dispatcher, bool) {
	d, ok := ctx.Value(dispatcherKey{}).(Dispatcher)
	return d, ok && d != nil
}
