package grbl

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	statusRe      = regexp.MustCompile(`^<(.+)>$`)
	errorRe       = regexp.MustCompile(`^error:\s*(.+)$`)
	alarmRe       = regexp.MustCompile(`^ALARM:\s*(.+)$`)
	parserStateRe = regexp.MustCompile(`^\[(?:GC:)?((?:[GMTFS][0-9.]+[ ]*)+)\]$`)
	parametersRe  = regexp.MustCompile(`^\[(G5[4-9](?:\.[123])?|G28|G30|G92|TLO|PRB):(.+)\]$`)
	feedbackRe    = regexp.MustCompile(`^\[(MSG|HLP|echo):\s*(.*)\]$`)
	settingRe     = regexp.MustCompile(`^\$(\d+)=(.*)$`)
	startupRe     = regexp.MustCompile(`^Grbl\s+(\d+\.\d+[a-z]?)`)

	// v0.9 reports separate their fields with commas, which also separate
	// coordinates, so those are picked apart by label instead of split.
	legacyPosRe = regexp.MustCompile(`(MPos|WPos):((?:[-+]?[0-9]*\.?[0-9]+,?)+)`)
	legacyBufRe = regexp.MustCompile(`Buf:(\d+)`)
	legacyRxRe  = regexp.MustCompile(`RX:(\d+)`)
)

// Parser consumes raw bytes from the serial port and emits one classified
// message per terminated line. It tolerates arbitrary chunk boundaries:
// a partial trailing line is buffered until its newline arrives, and never
// mutates the machine state.
type Parser struct {
	buf   []byte
	state MachineState
	emit  func(msg interface{})
}

// NewParser returns a parser that calls emit once per complete line.
func NewParser(emit func(msg interface{})) *Parser {
	if emit == nil {
		emit = func(interface{}) {}
	}
	return &Parser{
		state: DefaultMachineState(),
		emit:  emit,
	}
}

// implements io.Writer
func (p *Parser) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			line := strings.TrimSpace(strings.TrimSuffix(string(p.buf), "\r"))
			p.buf = p.buf[:0]
			if line != "" {
				p.parseLine(line)
			}
		} else {
			p.buf = append(p.buf, b)
		}
	}
	return len(data), nil
}

// State returns the last-known machine state.
func (p *Parser) State() MachineState {
	return p.state
}

func (p *Parser) parseLine(line string) {
	if m := statusRe.FindStringSubmatch(line); m != nil {
		p.emit(p.parseStatus(line, m[1]))
		return
	}

	if line == "ok" {
		p.emit(OK{Raw: line})
		return
	}

	if m := errorRe.FindStringSubmatch(line); m != nil {
		code, err := strconv.Atoi(strings.TrimSpace(m[1]))
		if err != nil {
			p.emit(Error{Raw: line, Message: strings.TrimSpace(m[1])})
		} else {
			p.emit(Error{Raw: line, Code: code, Message: ErrorDescription(code)})
		}
		return
	}

	if m := alarmRe.FindStringSubmatch(line); m != nil {
		code, err := strconv.Atoi(strings.TrimSpace(m[1]))
		if err != nil {
			p.emit(Alarm{Raw: line, Message: strings.TrimSpace(m[1])})
		} else {
			p.emit(Alarm{Raw: line, Code: code, Message: AlarmDescription(code)})
		}
		return
	}

	if m := parserStateRe.FindStringSubmatch(line); m != nil {
		p.emit(p.parseParserState(line, m[1]))
		return
	}

	if m := parametersRe.FindStringSubmatch(line); m != nil {
		p.emit(Parameters{Raw: line, Name: m[1], Value: m[2]})
		return
	}

	if m := feedbackRe.FindStringSubmatch(line); m != nil {
		p.emit(Feedback{Raw: line, Kind: m[1], Message: m[2]})
		return
	}

	if m := settingRe.FindStringSubmatch(line); m != nil {
		num, _ := strconv.Atoi(m[1])
		p.emit(Setting{Raw: line, Number: num, Value: m[2], Description: SettingDescription(num)})
		return
	}

	if m := startupRe.FindStringSubmatch(line); m != nil {
		p.emit(Startup{Raw: line, Version: m[1]})
		return
	}

	p.emit(Other{Raw: line})
}

// parseStatus handles both the v1.1 pipe-separated and the v0.9
// comma-separated report formats. The machine state is only updated from
// fields that parsed cleanly.
func (p *Parser) parseStatus(raw, body string) StatusReport {
	r := StatusReport{Raw: raw}

	if strings.Contains(body, "|") {
		parts := strings.Split(body, "|")
		// active state may carry a substate, e.g. "Hold:0"
		r.ActiveState = strings.SplitN(parts[0], ":", 2)[0]

		var haveMPos, haveWPos bool
		for _, part := range parts[1:] {
			kv := strings.SplitN(part, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "MPos":
				if pos, _, err := ParsePosition(kv[1]); err == nil {
					r.MPos = pos
					haveMPos = true
				}
			case "WPos":
				if pos, _, err := ParsePosition(kv[1]); err == nil {
					r.WPos = pos
					haveWPos = true
				}
			case "WCO":
				if pos, _, err := ParsePosition(kv[1]); err == nil {
					r.WCO = pos
					r.HasWCO = true
				}
			case "F":
				r.Feed, _ = strconv.ParseFloat(kv[1], 64)
			case "FS":
				fs := strings.Split(kv[1], ",")
				if len(fs) == 2 {
					r.Feed, _ = strconv.ParseFloat(fs[0], 64)
					r.Speed, _ = strconv.ParseFloat(fs[1], 64)
				}
			case "Ov":
				ov := strings.Split(kv[1], ",")
				if len(ov) == 3 {
					r.Override.Feed, _ = strconv.Atoi(ov[0])
					r.Override.Rapid, _ = strconv.Atoi(ov[1])
					r.Override.Spindle, _ = strconv.Atoi(ov[2])
				}
			case "Bf":
				bf := strings.Split(kv[1], ",")
				if len(bf) == 2 {
					r.Buf.Planner, _ = strconv.Atoi(bf[0])
					r.Buf.RX, _ = strconv.Atoi(bf[1])
					r.HasBuf = true
				}
			case "Pn":
				r.Pins = kv[1]
			case "A":
				r.Accessories = Accessories{
					SpindleCW:  strings.ContainsRune(kv[1], 'S'),
					SpindleCCW: strings.ContainsRune(kv[1], 'C'),
					Flood:      strings.ContainsRune(kv[1], 'F'),
					Mist:       strings.ContainsRune(kv[1], 'M'),
				}
			}
		}

		// a v1.1 report sends only one of MPos/WPos; derive the other
		// from the last-seen work coordinate offset
		wco := p.state.WCO
		if r.HasWCO {
			wco = r.WCO
		}
		if haveMPos && !haveWPos {
			r.WPos = r.MPos.Sub(wco)
		} else if haveWPos && !haveMPos {
			r.MPos = r.WPos.Add(wco)
		}
		if !r.HasWCO {
			r.WCO = wco
		}
	} else {
		r.ActiveState = strings.SplitN(strings.SplitN(body, ",", 2)[0], ":", 2)[0]
		for _, m := range legacyPosRe.FindAllStringSubmatch(body, -1) {
			pos, _, err := ParsePosition(strings.TrimSuffix(m[2], ","))
			if err != nil {
				continue
			}
			if m[1] == "MPos" {
				r.MPos = pos
			} else {
				r.WPos = pos
			}
		}
		r.WCO = r.MPos.Sub(r.WPos)
		if m := legacyBufRe.FindStringSubmatch(body); m != nil {
			r.Buf.Planner, _ = strconv.Atoi(m[1])
			r.HasBuf = true
		}
		if m := legacyRxRe.FindStringSubmatch(body); m != nil {
			r.Buf.RX, _ = strconv.Atoi(m[1])
			r.HasBuf = true
		}
	}

	p.state.ActiveState = r.ActiveState
	p.state.MPos = r.MPos
	p.state.WPos = r.WPos
	p.state.WCO = r.WCO
	p.state.Feed = r.Feed
	p.state.Speed = r.Speed
	p.state.Pins = r.Pins
	p.state.Accessories = r.Accessories
	if r.Override != (Overrides{}) {
		p.state.Override = r.Override
	}
	if r.HasBuf {
		p.state.Buf = r.Buf
	}

	return r
}

func (p *Parser) parseParserState(raw, body string) ParserState {
	ps := ParserState{Raw: raw, Modal: p.state.Modal}

	for _, word := range strings.Fields(body) {
		letter := word[0]
		value := word[1:]
		switch letter {
		case 'G':
			switch {
			case value == "0" || value == "1" || value == "2" || value == "3" ||
				value == "80" || strings.HasPrefix(value, "38."):
				ps.Modal.Motion = word
			case value == "54" || value == "55" || value == "56" || value == "57" ||
				value == "58" || strings.HasPrefix(value, "59"):
				ps.Modal.WCS = word
			case value == "17" || value == "18" || value == "19":
				ps.Modal.Plane = word
			case value == "20" || value == "21":
				ps.Modal.Units = word
			case value == "90" || value == "91":
				ps.Modal.Distance = word
			case value == "93" || value == "94":
				ps.Modal.Feedrate = word
			}
		case 'M':
			switch value {
			case "0", "1", "2", "30":
				ps.Modal.Program = word
			case "3", "4", "5":
				ps.Modal.Spindle = word
			case "7", "8", "9":
				ps.Modal.Coolant = word
			}
		case 'T':
			ps.Tool, _ = strconv.Atoi(value)
		case 'F':
			ps.Feed, _ = strconv.ParseFloat(value, 64)
		case 'S':
			ps.Speed, _ = strconv.ParseFloat(value, 64)
		}
	}

	p.state.Modal = ps.Modal
	p.state.Tool = ps.Tool

	return ps
}
