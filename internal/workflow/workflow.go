// Package workflow gates the sender with a three-state machine.
package workflow

// State of the loaded program's execution.
type State int

const (
	Idle State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Event names delivered to the transition observer.
const (
	EventStart  = "start"
	EventPause  = "pause"
	EventResume = "resume"
	EventStop   = "stop"
)

type Workflow struct {
	state State
	on    func(event string, state State)
}

// New returns an idle workflow. The observer is called once per accepted
// transition; disallowed transitions are ignored silently.
func New(on func(event string, state State)) *Workflow {
	if on == nil {
		on = func(string, State) {}
	}
	return &Workflow{state: Idle, on: on}
}

func (w *Workflow) State() State {
	return w.state
}

// Start moves idle -> running.
func (w *Workflow) Start() bool {
	if w.state != Idle {
		return false
	}
	w.state = Running
	w.on(EventStart, w.state)
	return true
}

// Pause moves running -> paused.
func (w *Workflow) Pause() bool {
	if w.state != Running {
		return false
	}
	w.state = Paused
	w.on(EventPause, w.state)
	return true
}

// Resume moves paused -> running.
func (w *Workflow) Resume() bool {
	if w.state != Paused {
		return false
	}
	w.state = Running
	w.on(EventResume, w.state)
	return true
}

// Stop moves any state -> idle. Stopping an idle workflow is a no-op.
func (w *Workflow) Stop() bool {
	if w.state == Idle {
		return false
	}
	w.state = Idle
	w.on(EventStop, w.state)
	return true
}
