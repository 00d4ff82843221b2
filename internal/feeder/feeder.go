// Package feeder queues ad-hoc G-code lines awaiting transmission.
//
// The feeder never writes to the serial port itself: the controller binds
// the emit callback and performs the write (and the inline-expression
// translation) there. It is pull-driven, one line per Next.
package feeder

import "container/list"

// Line is a queued line together with the context it should be
// translated against when emitted.
type Line struct {
	Data    string
	Context map[string]interface{}
}

// Status is a serializable snapshot of the queue.
type Status struct {
	Hold    bool   `json:"hold"`
	Queued  int    `json:"queued"`
	Pending string `json:"pending,omitempty"`
}

type Feeder struct {
	queue *list.List
	hold  bool
	emit  func(line Line)
}

// New returns a feeder that hands lines to emit, one per Next call.
func New(emit func(line Line)) *Feeder {
	if emit == nil {
		emit = func(Line) {}
	}
	return &Feeder{
		queue: list.New(),
		emit:  emit,
	}
}

// Feed appends lines sharing a context to the tail of the queue. It
// returns false when the feeder is holding (alarm active) and the lines
// were dropped.
func (f *Feeder) Feed(lines []string, context map[string]interface{}) bool {
	if f.hold {
		return false
	}
	for _, line := range lines {
		f.queue.PushBack(Line{Data: line, Context: context})
	}
	return true
}

// Next emits the head line and pops it. No-op on an empty queue.
// Reports whether a line was emitted.
func (f *Feeder) Next() bool {
	front := f.queue.Front()
	if front == nil {
		return false
	}
	f.queue.Remove(front)
	f.emit(front.Value.(Line))
	return true
}

// Peek returns the head line without popping it.
func (f *Feeder) Peek() (Line, bool) {
	front := f.queue.Front()
	if front == nil {
		return Line{}, false
	}
	return front.Value.(Line), true
}

// Clear drops all queued lines and returns how many were dropped.
func (f *Feeder) Clear() int {
	n := f.queue.Len()
	f.queue.Init()
	return n
}

// Pending reports whether at least one line is queued.
func (f *Feeder) Pending() bool {
	return f.queue.Len() > 0
}

// Size returns the number of queued lines.
func (f *Feeder) Size() int {
	return f.queue.Len()
}

// Hold makes the feeder refuse new lines until Unhold. Set while the
// machine is in an alarm state.
func (f *Feeder) Hold() {
	f.hold = true
}

// Unhold lifts the hold.
func (f *Feeder) Unhold() {
	f.hold = false
}

// Held reports whether the feeder is refusing new lines.
func (f *Feeder) Held() bool {
	return f.hold
}

// Status returns a snapshot suitable for the feeder:status event.
func (f *Feeder) Status() Status {
	s := Status{
		Hold:   f.hold,
		Queued: f.queue.Len(),
	}
	if head, ok := f.Peek(); ok {
		s.Pending = head.Data
	}
	return s
}
