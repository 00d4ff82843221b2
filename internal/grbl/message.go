package grbl

// One message is emitted per complete line received from the firmware.
// The Raw field always carries the line as it came off the wire, minus
// the terminating newline.

// StatusReport is a parsed `<...>` realtime report.
type StatusReport struct {
	Raw         string
	ActiveState string
	MPos        Position
	WPos        Position
	WCO         Position
	HasWCO      bool
	Feed        float64
	Speed       float64
	Override    Overrides
	Buf         BufferCount
	HasBuf      bool
	Pins        string
	Accessories Accessories
}

// Overrides are the current feed/rapid/spindle override percentages
// from an `Ov:` field.
type Overrides struct {
	Feed    int
	Rapid   int
	Spindle int
}

// BufferCount is the planner/rx availability from a `Bf:` field.
type BufferCount struct {
	Planner int
	RX      int
}

// Accessories is the spindle/coolant state from an `A:` field.
type Accessories struct {
	SpindleCW  bool
	SpindleCCW bool
	Flood      bool
	Mist       bool
}

// OK is a bare `ok` response.
type OK struct {
	Raw string
}

// Error is an `error:N` or `error: description` response. Code is 0 when
// the firmware sent a description instead of a number.
type Error struct {
	Raw     string
	Code    int
	Message string
}

// Alarm is an `ALARM:N` or `ALARM: description` push message.
type Alarm struct {
	Raw     string
	Code    int
	Message string
}

// ParserState is a `[GC:...]` modal-state report.
type ParserState struct {
	Raw   string
	Modal Modal
	Tool  int
	Feed  float64
	Speed float64
}

// Parameters is a `[G54:...]`-style offset/probe report.
type Parameters struct {
	Raw   string
	Name  string
	Value string
}

// Feedback is a `[MSG:...]`, `[HLP:...]` or `[echo:...]` push message.
type Feedback struct {
	Raw     string
	Kind    string
	Message string
}

// Setting is a `$N=V` settings line.
type Setting struct {
	Raw         string
	Number      int
	Value       string
	Description string
}

// Startup is the `Grbl X.Y` banner printed on boot or reset.
type Startup struct {
	Raw     string
	Version string
}

// Other is any non-empty line that matched no other rule.
type Other struct {
	Raw string
}
