package engine

// Observer receives engine lifecycle notifications.
//
// Every method is called from the Run goroutine. Sources abandoned when the
// engine stops never get a SourceFinished call.
type Observer interface {
	// Started is called once the run ID is known, before any source starts.
	Started(runID string)

	// SourceStarted is called just before a source's goroutine is launched.
	SourceStarted(label string)

	// SourceFinished is called when the loop observes a source returning.
	SourceFinished(label string, err error)

	// Emitted is called after a dispatched emission has run through the graph.
	Emitted(label string)

	// Flushed is called after a timer fired. skipped counts the whole
	// periods that elapsed without a flush.
	Flushed(timer int, skipped int)

	// Stopped is called once when Run returns.
	Stopped(state State)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Started(string) {}
func (NopObserver) SourceStarted(string) {}
func (NopObserver) SourceFinished(string, error) {}
func (NopObserver) Emitted(string) {}
func (NopObserver) Flushed(int, int) {}
func (NopObserver) Stopped(State) {}

// Observers fans every notification out to each observer in order.
type Observers []Observer

func (obs Observers) Started(runID string) {
	for _, o := range obs {
		o.Started(runID)
	}
}

func (obs Observers) SourceStarted(label string) {
	for _, o := range obs {
		o.SourceStarted(label)
	}
}

func (obs Observers) SourceFinished(label string, err error) {
	for _, o := range obs {
		o.SourceFinished(label, err)
	}
}

func (obs Observers) Emitted(label string) {
	for _, o := range obs {
		o.Emitted(label)
	}
}

func (obs Observers) Flushed(timer, skipped int) {
	for _, o := range obs {
		o.Flushed(timer, skipped)
	}
}

func (obs Observers) Stopped(state State) {
	for _, o := range obs {
		o.Stopped(state)
	}
}
