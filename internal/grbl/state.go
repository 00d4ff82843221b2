package grbl

// Grbl active states as reported in the first field of a status report.
const (
	StateIdle  = "Idle"
	StateRun   = "Run"
	StateHold  = "Hold"
	StateJog   = "Jog"
	StateAlarm = "Alarm"
	StateDoor  = "Door"
	StateCheck = "Check"
	StateHome  = "Home"
	StateSleep = "Sleep"
)

// Modal is the firmware's modal group state as reported by `$G`.
// The zero value is the Grbl power-on default.
type Modal struct {
	Motion   string // G0, G1, G2, G3, G38.x, G80
	WCS      string // G54..G59
	Plane    string // G17, G18, G19
	Units    string // G20, G21
	Distance string // G90, G91
	Feedrate string // G93, G94
	Program  string // M0, M1, M2, M30
	Spindle  string // M3, M4, M5
	Coolant  string // M7, M8, M9
}

// DefaultModal returns the modal state Grbl boots with.
func DefaultModal() Modal {
	return Modal{
		Motion:   "G0",
		WCS:      "G54",
		Plane:    "G17",
		Units:    "G21",
		Distance: "G90",
		Feedrate: "G94",
		Program:  "M0",
		Spindle:  "M5",
		Coolant:  "M9",
	}
}

// MachineState is the last-known machine state, updated as reports are
// parsed. It is a plain comparable value so callers can cheaply detect
// changes between polls.
type MachineState struct {
	ActiveState string
	MPos        Position
	WPos        Position
	WCO         Position
	Feed        float64
	Speed       float64
	Override    Overrides
	Buf         BufferCount
	Pins        string
	Accessories Accessories
	Modal       Modal
	Tool        int
}

// DefaultMachineState returns the state assumed before the first report.
func DefaultMachineState() MachineState {
	return MachineState{
		ActiveState: StateIdle,
		Override:    Overrides{Feed: 100, Rapid: 100, Spindle: 100},
		Modal:       DefaultModal(),
	}
}
