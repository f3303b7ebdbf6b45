package engine

import "context"

// dispatchRequest is one emission waiting to run on the Run goroutine.
type dispatchRequest struct {
	label string
	fn    func()
	done  chan struct{}
}

// sourceDispatcher implements stream.Dispatcher for one source.
//
// The request channel is unbuffered and Dispatch waits for completion, so a
// source cannot get ahead of the graph and its emissions stay in order.
type sourceDispatcher struct {
	label    string
	requests chan<- dispatchRequest
}

// Dispatch hands fn to the Run loop and waits until it has run.
// Returns ctx.Err() if the engine stops first.
func (d *sourceDispatcher) Dispatch(ctx context.Context, fn func()) error {
	req := dispatchRequest{label: d.label, fn: fn, done: make(chan struct{})}

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
