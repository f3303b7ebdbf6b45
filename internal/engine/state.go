package engine

// State is the lifecycle state of an Engine.
//
//	Idle -> Running -> Completed | Failed | Interrupted
type State int32

const (
	// Idle means the engine was built but Run has not been called.
	Idle State = iota
	// Running means the Run loop is active.
	Running
	// Completed means every source returned successfully.
	Completed
	// Failed means a source returned an error.
	Failed
	// Interrupted means the Run context was cancelled.
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Interrupted
}
