package stream

// Map forwards f(item) for every upstream item.
func Map[T, U any](s Stream[T], f func(T) U) Stream[U] {
	out := newNode[U]()
	s.n.subscribe(func(v T) {
		out.publish(f(v))
	})
	return Stream[U]{n: out}
}

// FilterMap forwards f(item) whenever f reports true.
func FilterMap[T, U any](s Stream[T], f func(T) (U, bool)) Stream[U] {
	out := newNode[U]()
	s.n.subscribe(func(v T) {
		if mapped, ok := f(v); ok {
			out.publish(mapped)
		}
	})
	return Stream[U]{n: out}
}

// Filter forwards items for which keep returns true, unchanged.
func (s Stream[T]) Filter(keep func(T) bool) Stream[T] {
	out := newNode[T]()
	s.n.subscribe(func(v T) {
		if keep(v) {
			out.publish(v)
		}
	})
	return Stream[T]{n: out}
}

// Tap calls f for its side effect and then forwards the item unchanged.
func (s Stream[T]) Tap(f func(T)) Stream[T] {
	out := newNode[T]()
	s.n.subscribe(func(v T) {
		f(v)
		out.publish(v)
	})
	return Stream[T]{n: out}
}

// Sink registers f as a terminal consumer.
func (s Stream[T]) Sink(f func(T)) {
	s.n.subscribe(f)
}

// fold holds the accumulator cell of an Accumulate node.
type fold[T, S any] struct {
	acc S
	f   func(S, T) S
	out *node[S]
}

func (a *fold[T, S]) apply(v T) {
	a.acc = a.f(a.acc, v)
	a.out.publish(a.acc)
}

// Accumulate folds every upstream item into a running state seeded with
// seed, and forwards each new state (not the raw item). k upstream items
// produce exactly k downstream states.
func Accumulate[T, S any](s Stream[T], seed S, f func(S, T) S) Stream[S] {
	a := &fold[T, S]{acc: seed, f: f, out: newNode[S]()}
	s.n.subscribe(a.apply)
	return Stream[S]{n: a.out}
}

// Pair is the element type of a zipped stream.
type Pair[L, R any] struct {
	Left  L
	Right R
}

// zipper holds the right-side cell of a Zip node. The left value is never
// needed after the pair is built, so it is not stored.
type zipper[L, R any] struct {
	right    R
	hasRight bool
	out      *node[Pair[L, R]]
}

func (z *zipper[L, R]) onLeft(v L) {
	if !z.hasRight {
		return
	}
	z.out.publish(Pair[L, R]{Left: v, Right: z.right})
}

func (z *zipper[L, R]) onRight(v R) {
	z.right = v
	z.hasRight = true
}

// Zip pairs left items with the most recent right item.
//
// Emission is driven by the left side only: a right arrival just replaces
// the right cell. Left items that arrive before the right side has produced
// anything emit nothing. Once the right side has a value, every left item
// emits a pair with whatever right value was seen last.
func Zip[L, R any](left Stream[L], right Stream[R]) Stream[Pair[L, R]] {
	z := &zipper[L, R]{out: newNode[Pair[L, R]]()}
	left.n.subscribe(z.onLeft)
	right.n.subscribe(z.onRight)
	return Stream[Pair[L, R]]{n: z.out}
}

// Merge forwards every item of every input. Items keep their per-input
// order; interleaving across inputs follows emission order.
func Merge[T any](inputs ...Stream[T]) Stream[T] {
	out := newNode[T]()
	for _, in := range inputs {
		in.n.subscribe(out.publish)
	}
	return Stream[T]{n: out}
}
