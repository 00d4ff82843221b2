// Package sim emulates enough of a Grbl 1.1 board behind an
// io.ReadWriteCloser that the controller can be exercised without
// hardware: status reports, the $ commands, realtime overrides, and a
// fixed-size receive buffer with per-line acknowledgements.
package sim

import (
	"fmt"
	"io"
	"strings"

	"github.com/256dpi/gcode"
)

const (
	rxBufferSize = 128
	plannerSize  = 15
)

type position struct {
	x, y, z, a float64
}

type Device struct {
	state string
	wpos  position

	feedOverride    int
	spindleOverride int
	rapidOverride   int

	feedRate     float64
	spindleSpeed float64

	modal string

	rxUsed int

	readBuf []byte

	in  chan []byte
	out chan []byte
}

func New() *Device {
	d := &Device{
		state:           "Idle",
		feedOverride:    100,
		spindleOverride: 100,
		rapidOverride:   100,
		modal:           "G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0",
		in:              make(chan []byte, 8),
		out:             make(chan []byte, 8),
	}
	go d.run()
	return d
}

func (d *Device) Read(p []byte) (int, error) {
	if len(d.readBuf) == 0 {
		chunk, ok := <-d.out
		if !ok {
			return 0, io.EOF
		}
		d.readBuf = chunk
	}

	n := copy(p, d.readBuf)
	d.readBuf = d.readBuf[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	d.in <- data
	return len(p), nil
}

func (d *Device) Close() error {
	close(d.in)
	return nil
}

func (d *Device) run() {
	d.reply("Grbl 1.1f ['$' for help]")

	line := make([]byte, 0, 80)
	for data := range d.in {
		for _, ch := range data {
			if d.realtime(ch) {
				continue
			}
			// line bytes occupy the rx buffer until the line is
			// executed; on overflow the byte is dropped, as the
			// real serial ISR does
			if d.rxUsed >= rxBufferSize {
				continue
			}
			d.rxUsed++
			if ch == '\n' {
				d.processLine(strings.TrimSpace(string(line)))
				d.rxUsed -= len(line) + 1
				line = line[:0]
				continue
			}
			line = append(line, ch)
		}
	}
	close(d.out)
}

// realtime handles the single-byte commands, which act regardless of any
// partial line in flight. Reports whether ch was consumed.
func (d *Device) realtime(ch byte) bool {
	switch ch {
	case '?':
		d.statusReport()
	case '!':
		if d.state == "Run" {
			d.state = "Hold:0"
		}
	case '~':
		if strings.HasPrefix(d.state, "Hold") {
			d.state = "Idle"
		}
	case 0x18:
		d.softReset()
	case 0x85: // jog cancel
	case 0x90:
		d.feedOverride = 100
	case 0x91:
		d.feedOverride = clampOverride(d.feedOverride + 10)
	case 0x92:
		d.feedOverride = clampOverride(d.feedOverride - 10)
	case 0x93:
		d.feedOverride = clampOverride(d.feedOverride + 1)
	case 0x94:
		d.feedOverride = clampOverride(d.feedOverride - 1)
	case 0x95:
		d.rapidOverride = 100
	case 0x96:
		d.rapidOverride = 50
	case 0x97:
		d.rapidOverride = 25
	case 0x99:
		d.spindleOverride = 100
	case 0x9a:
		d.spindleOverride = clampOverride(d.spindleOverride + 10)
	case 0x9b:
		d.spindleOverride = clampOverride(d.spindleOverride - 10)
	case 0x9c:
		d.spindleOverride = clampOverride(d.spindleOverride + 1)
	case 0x9d:
		d.spindleOverride = clampOverride(d.spindleOverride - 1)
	default:
		return false
	}
	return true
}

func clampOverride(v int) int {
	if v < 10 {
		return 10
	}
	if v > 200 {
		return 200
	}
	return v
}

func (d *Device) processLine(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "$") {
		d.processDollar(line)
		return
	}
	if d.state == "Alarm" {
		d.reply("error:9")
		return
	}
	d.processGcode(line)
}

func (d *Device) processDollar(line string) {
	switch {
	case line == "$G":
		d.reply("[GC:" + d.modal + "]")
		d.reply("ok")
	case line == "$H":
		d.wpos = position{}
		d.state = "Idle"
		d.reply("ok")
	case line == "$X":
		if d.state == "Alarm" {
			d.reply("[MSG:Caution: Unlocked]")
			d.state = "Idle"
		}
		d.reply("ok")
	case line == "$SLP":
		d.state = "Sleep"
		d.reply("[MSG:Sleeping]")
		d.reply("ok")
	case line == "$$":
		d.reply("$0=10")
		d.reply("$110=500.000")
		d.reply("ok")
	case strings.HasPrefix(line, "$J="):
		d.processGcode(line[len("$J="):])
	default:
		d.reply("error:3")
	}
}

func (d *Device) processGcode(line string) {
	parsed, err := gcode.ParseLine(line)
	if err != nil {
		d.reply("error:2")
		return
	}

	motion := -1
	pos := d.wpos
	for _, code := range parsed.Codes {
		switch code.Letter {
		case "G":
			motion = int(code.Value)
		case "X":
			pos.x = code.Value
		case "Y":
			pos.y = code.Value
		case "Z":
			pos.z = code.Value
		case "A":
			pos.a = code.Value
		case "F":
			d.feedRate = code.Value
		case "S":
			d.spindleSpeed = code.Value
		}
	}
	if motion >= 0 && motion <= 3 {
		d.wpos = pos
	}
	d.reply("ok")
}

func (d *Device) softReset() {
	d.state = "Idle"
	d.feedRate = 0
	d.spindleSpeed = 0
	d.reply("")
	d.reply("Grbl 1.1f ['$' for help]")
}

func (d *Device) statusReport() {
	d.reply(fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f|Bf:%d,%d|FS:%.0f,%.0f|Ov:%d,%d,%d>",
		d.state, d.wpos.x, d.wpos.y, d.wpos.z,
		plannerSize, rxBufferSize-d.rxUsed,
		d.feedRate, d.spindleSpeed,
		d.feedOverride, d.rapidOverride, d.spindleOverride))
}

func (d *Device) reply(line string) {
	d.out <- []byte(line + "\n")
}
