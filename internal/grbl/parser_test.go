package grbl

import (
	"reflect"
	"testing"
)

func collect(t *testing.T) (*Parser, *[]interface{}) {
	t.Helper()
	msgs := make([]interface{}, 0)
	p := NewParser(func(msg interface{}) {
		msgs = append(msgs, msg)
	})
	return p, &msgs
}

func feed(t *testing.T, p *Parser, s string) {
	t.Helper()
	if _, err := p.Write([]byte(s)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		line string
		want interface{}
	}{
		{"ok", OK{Raw: "ok"}},
		{"error:20", Error{Raw: "error:20", Code: 20, Message: ErrorDescription(20)}},
		{"error: Bad number format", Error{Raw: "error: Bad number format", Message: "Bad number format"}},
		{"ALARM:1", Alarm{Raw: "ALARM:1", Code: 1, Message: AlarmDescription(1)}},
		{"ALARM: Hard limit", Alarm{Raw: "ALARM: Hard limit", Message: "Hard limit"}},
		{"[G54:0.000,0.000,0.000]", Parameters{Raw: "[G54:0.000,0.000,0.000]", Name: "G54", Value: "0.000,0.000,0.000"}},
		{"[PRB:0.000,0.000,1.492:1]", Parameters{Raw: "[PRB:0.000,0.000,1.492:1]", Name: "PRB", Value: "0.000,0.000,1.492:1"}},
		{"[TLO:0.000]", Parameters{Raw: "[TLO:0.000]", Name: "TLO", Value: "0.000"}},
		{"[MSG:Caution: Unlocked]", Feedback{Raw: "[MSG:Caution: Unlocked]", Kind: "MSG", Message: "Caution: Unlocked"}},
		{"[echo:G1X10]", Feedback{Raw: "[echo:G1X10]", Kind: "echo", Message: "G1X10"}},
		{"$10=255", Setting{Raw: "$10=255", Number: 10, Value: "255", Description: SettingDescription(10)}},
		{"Grbl 1.1f ['$' for help]", Startup{Raw: "Grbl 1.1f ['$' for help]", Version: "1.1f"}},
		{"gibberish", Other{Raw: "gibberish"}},
	}

	for _, tt := range tests {
		p, msgs := collect(t)
		feed(t, p, tt.line+"\n")
		if len(*msgs) != 1 {
			t.Fatalf("%q: got %d messages, want 1", tt.line, len(*msgs))
		}
		if !reflect.DeepEqual((*msgs)[0], tt.want) {
			t.Errorf("%q:\n got %#v\nwant %#v", tt.line, (*msgs)[0], tt.want)
		}
	}
}

func TestStatusReportV11(t *testing.T) {
	p, msgs := collect(t)
	feed(t, p, "<Idle|MPos:3.000,2.000,0.000|FS:500,8000|Ov:100,100,100|Bf:15,128|A:SF>\n")

	if len(*msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(*msgs))
	}
	r, ok := (*msgs)[0].(StatusReport)
	if !ok {
		t.Fatalf("got %T, want StatusReport", (*msgs)[0])
	}
	if r.ActiveState != StateIdle {
		t.Errorf("ActiveState = %q", r.ActiveState)
	}
	if r.MPos != (Position{X: 3, Y: 2}) {
		t.Errorf("MPos = %+v", r.MPos)
	}
	if r.Feed != 500 || r.Speed != 8000 {
		t.Errorf("FS = %v,%v", r.Feed, r.Speed)
	}
	if !r.HasBuf || r.Buf.Planner != 15 || r.Buf.RX != 128 {
		t.Errorf("Bf = %+v (HasBuf=%v)", r.Buf, r.HasBuf)
	}
	if !r.Accessories.SpindleCW || !r.Accessories.Flood || r.Accessories.Mist {
		t.Errorf("A = %+v", r.Accessories)
	}

	st := p.State()
	if st.ActiveState != StateIdle || st.Buf.RX != 128 {
		t.Errorf("state not updated: %+v", st)
	}
}

func TestStatusReportWCOPropagation(t *testing.T) {
	p, _ := collect(t)

	// WCO arrives with MPos only; WPos must be derived
	feed(t, p, "<Run|MPos:10.000,20.000,5.000|WCO:1.000,2.000,3.000>\n")
	st := p.State()
	if st.WPos != (Position{X: 9, Y: 18, Z: 2}) {
		t.Errorf("WPos = %+v", st.WPos)
	}

	// next report omits WCO; the remembered offset still applies
	feed(t, p, "<Run|MPos:11.000,20.000,5.000>\n")
	st = p.State()
	if st.WPos != (Position{X: 10, Y: 18, Z: 2}) {
		t.Errorf("WPos = %+v", st.WPos)
	}

	// WPos-only report derives MPos the other way
	feed(t, p, "<Run|WPos:0.000,0.000,0.000>\n")
	st = p.State()
	if st.MPos != (Position{X: 1, Y: 2, Z: 3}) {
		t.Errorf("MPos = %+v", st.MPos)
	}
}

func TestStatusReportLegacy(t *testing.T) {
	p, msgs := collect(t)
	feed(t, p, "<Idle,MPos:5.529,0.560,7.000,WPos:1.529,-5.440,-0.000,Buf:0,RX:3>\n")

	r := (*msgs)[0].(StatusReport)
	if r.ActiveState != StateIdle {
		t.Errorf("ActiveState = %q", r.ActiveState)
	}
	if r.MPos != (Position{X: 5.529, Y: 0.560, Z: 7}) {
		t.Errorf("MPos = %+v", r.MPos)
	}
	if r.WPos != (Position{X: 1.529, Y: -5.440, Z: 0}) {
		t.Errorf("WPos = %+v", r.WPos)
	}
	if !r.HasBuf || r.Buf.Planner != 0 || r.Buf.RX != 3 {
		t.Errorf("Buf = %+v", r.Buf)
	}
}

func TestParserState(t *testing.T) {
	p, msgs := collect(t)
	feed(t, p, "[GC:G1 G55 G17 G21 G91 G94 M3 M8 T2 F1500 S12000]\n")

	ps, ok := (*msgs)[0].(ParserState)
	if !ok {
		t.Fatalf("got %T, want ParserState", (*msgs)[0])
	}
	want := Modal{
		Motion: "G1", WCS: "G55", Plane: "G17", Units: "G21",
		Distance: "G91", Feedrate: "G94", Program: "M0", Spindle: "M3", Coolant: "M8",
	}
	if ps.Modal != want {
		t.Errorf("Modal = %+v, want %+v", ps.Modal, want)
	}
	if ps.Tool != 2 || ps.Feed != 1500 || ps.Speed != 12000 {
		t.Errorf("T/F/S = %v/%v/%v", ps.Tool, ps.Feed, ps.Speed)
	}
	if p.State().Modal != want {
		t.Errorf("state modal not updated")
	}
}

func TestParserStateWithoutPrefix(t *testing.T) {
	// Grbl v0.9 reports modal state without the GC: prefix
	p, msgs := collect(t)
	feed(t, p, "[G0 G54 G17 G21 G90 G94 M0 M5 M9 T0 F0.]\n")
	if _, ok := (*msgs)[0].(ParserState); !ok {
		t.Fatalf("got %T, want ParserState", (*msgs)[0])
	}
}

func TestChunkBoundariesDoNotMatter(t *testing.T) {
	input := "<Idle|MPos:1.000,2.000,3.000|FS:0,0>\nok\nerror:2\n[MSG:hi]\nGrbl 1.1h\n"

	whole, wholeMsgs := collect(t)
	feed(t, whole, input)

	byteWise, byteMsgs := collect(t)
	for i := 0; i < len(input); i++ {
		feed(t, byteWise, input[i:i+1])
	}

	if !reflect.DeepEqual(*wholeMsgs, *byteMsgs) {
		t.Errorf("byte-by-byte feed diverged:\nwhole: %#v\nbytes: %#v", *wholeMsgs, *byteMsgs)
	}
	if len(*wholeMsgs) != 5 {
		t.Errorf("got %d messages, want 5", len(*wholeMsgs))
	}
}

func TestPartialLineEmitsNothing(t *testing.T) {
	p, msgs := collect(t)
	feed(t, p, "<Idle|MPos:1.000,2.0")
	if len(*msgs) != 0 {
		t.Fatalf("partial line emitted %d messages", len(*msgs))
	}
	if p.State().MPos != (Position{}) {
		t.Fatalf("partial line mutated state: %+v", p.State().MPos)
	}
	feed(t, p, "00,3.000>\nok\n")
	if len(*msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(*msgs))
	}
}

func TestEmptyAndCRLFLines(t *testing.T) {
	p, msgs := collect(t)
	feed(t, p, "\n\r\nok\r\n\n")
	if len(*msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(*msgs))
	}
	if (*msgs)[0] != (OK{Raw: "ok"}) {
		t.Errorf("got %#v", (*msgs)[0])
	}
}

func TestParsePosition(t *testing.T) {
	p, n, err := ParsePosition("1.5,-2,3.25")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || p != (Position{X: 1.5, Y: -2, Z: 3.25}) {
		t.Errorf("got %+v n=%d", p, n)
	}

	p, n, err = ParsePosition("1,2,3,4,5,6")
	if err != nil || n != 6 || p.C != 6 {
		t.Errorf("6-axis parse: %+v n=%d err=%v", p, n, err)
	}

	if _, _, err = ParsePosition("1,banana"); err == nil {
		t.Error("expected error for bad field")
	}
}
