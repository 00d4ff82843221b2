package workflow

import "testing"

func TestTransitions(t *testing.T) {
	var events []string
	w := New(func(event string, _ State) { events = append(events, event) })

	if w.State() != Idle {
		t.Fatalf("initial state = %v", w.State())
	}

	// disallowed from idle
	if w.Pause() || w.Resume() {
		t.Error("pause/resume accepted from idle")
	}

	if !w.Start() || w.State() != Running {
		t.Fatalf("start: state = %v", w.State())
	}
	if w.Start() {
		t.Error("start accepted while running")
	}
	if !w.Pause() || w.State() != Paused {
		t.Fatalf("pause: state = %v", w.State())
	}
	if w.Pause() {
		t.Error("pause accepted while paused")
	}
	if !w.Resume() || w.State() != Running {
		t.Fatalf("resume: state = %v", w.State())
	}
	if !w.Stop() || w.State() != Idle {
		t.Fatalf("stop: state = %v", w.State())
	}

	want := []string{EventStart, EventPause, EventResume, EventStop}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestRedundantStopIsNoop(t *testing.T) {
	calls := 0
	w := New(func(string, State) { calls++ })
	for i := 0; i < 3; i++ {
		if w.Stop() {
			t.Error("stop from idle reported a transition")
		}
	}
	if calls != 0 || w.State() != Idle {
		t.Errorf("calls = %d, state = %v", calls, w.State())
	}
}

func TestStopFromPaused(t *testing.T) {
	w := New(nil)
	w.Start()
	w.Pause()
	if !w.Stop() || w.State() != Idle {
		t.Errorf("state = %v", w.State())
	}
}
