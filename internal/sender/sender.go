// Package sender streams a loaded G-code program under character-counting
// flow control: the sum of byte lengths of unacknowledged lines never
// exceeds the firmware's advertised receive buffer.
package sender

import (
	"strings"

	"github.com/256dpi/gcode"
)

// DefaultBufferSize is the outstanding-bytes ceiling assumed until the
// firmware advertises a larger rx buffer. 8 bytes are held back so that
// the `?` and `$G\n` polls can always be pushed without accounting.
const DefaultBufferSize = 128 - 8

// Status is a serializable snapshot of the streaming progress.
type Status struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	Total       int    `json:"total"`
	Sent        int    `json:"sent"`
	Received    int    `json:"received"`
	BufferSize  int    `json:"bufferSize"`
	DataLength  int    `json:"dataLength"`
	Outstanding int    `json:"outstanding"`
}

type Sender struct {
	name    string
	content string
	lines   []string
	context map[string]interface{}

	total    int
	sent     int
	received int

	bufferSize int
	dataLength int
	queue      []int

	emit func(line string, context map[string]interface{})
}

// New returns an empty sender. Each admitted line is handed to emit; the
// controller binds emit to the serial write.
func New(emit func(line string, context map[string]interface{})) *Sender {
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	}
	return &Sender{
		bufferSize: DefaultBufferSize,
		emit:       emit,
	}
}

// Load parses a program into lines and resets the streaming counters.
// The character window is recomputed to the default so a window grown for
// a previous idle session cannot over-admit this program. Returns false
// when the program is empty after normalization.
func (s *Sender) Load(name, content string, context map[string]interface{}) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	ctx := make(map[string]interface{}, len(context)+6)
	for k, v := range context {
		ctx[k] = v
	}
	if min, max, ok := programBounds(lines); ok {
		setIfAbsent(ctx, "xmin", min[0])
		setIfAbsent(ctx, "xmax", max[0])
		setIfAbsent(ctx, "ymin", min[1])
		setIfAbsent(ctx, "ymax", max[1])
		setIfAbsent(ctx, "zmin", min[2])
		setIfAbsent(ctx, "zmax", max[2])
	}

	s.name = name
	s.content = content
	s.lines = lines
	s.context = ctx
	s.total = len(lines)
	s.sent = 0
	s.received = 0
	s.bufferSize = DefaultBufferSize
	s.dataLength = 0
	s.queue = nil
	return true
}

// Translate rewrites every stored line through fn before streaming
// starts. Must be called before Next ever admits a line, otherwise the
// byte counts in flight would no longer match the wire.
func (s *Sender) Translate(fn func(line string) string) {
	if fn == nil || s.sent > 0 {
		return
	}
	for i, line := range s.lines {
		s.lines[i] = fn(line)
	}
}

// Unload clears the program.
func (s *Sender) Unload() {
	s.name = ""
	s.content = ""
	s.lines = nil
	s.context = nil
	s.total = 0
	s.sent = 0
	s.received = 0
	s.bufferSize = DefaultBufferSize
	s.dataLength = 0
	s.queue = nil
}

// Loaded reports whether a program is loaded.
func (s *Sender) Loaded() bool {
	return s.lines != nil
}

// Name returns the loaded program's name.
func (s *Sender) Name() string {
	return s.name
}

// Context returns the program context built at load time.
func (s *Sender) Context() map[string]interface{} {
	return s.context
}

// Next admits every further line that fits under the window: greedy
// admission, so a single acknowledgement may release zero, one, or many
// lines. A line longer than the whole window is admitted only when
// nothing is in flight. Blank lines produce no wire bytes and no
// acknowledgement slot.
func (s *Sender) Next() {
	for s.sent < s.total {
		line := strings.TrimSpace(s.lines[s.sent])
		if line == "" {
			s.sent++
			if len(s.queue) == 0 {
				s.received = s.sent
			}
			continue
		}

		n := len(line) + 1 // the newline appended on the wire
		if s.dataLength > 0 && s.dataLength+n > s.bufferSize {
			break
		}

		s.queue = append(s.queue, n)
		s.dataLength += n
		s.sent++
		s.emit(line, s.context)
	}
}

// Ack consumes one acknowledgement: the oldest in-flight line is released
// from the window. Blank lines that follow it are completed for free.
func (s *Sender) Ack() {
	if len(s.queue) == 0 {
		return
	}
	s.dataLength -= s.queue[0]
	s.queue = s.queue[1:]
	s.received++
	for s.received < s.sent && strings.TrimSpace(s.lines[s.received]) == "" {
		s.received++
	}
}

// Rewind restarts the program from the first line and empties the window.
func (s *Sender) Rewind() {
	s.sent = 0
	s.received = 0
	s.dataLength = 0
	s.queue = nil
}

// MaybeGrow raises the window to rx-8 when a status report advertises a
// larger firmware rx buffer. Refused while any program bytes are in
// flight; the caller additionally gates this on the workflow being idle.
// The window never shrinks.
func (s *Sender) MaybeGrow(rx int) bool {
	size := rx - 8
	if size <= s.bufferSize || s.dataLength > 0 {
		return false
	}
	s.bufferSize = size
	return true
}

// BufferSize returns the current outstanding-bytes ceiling.
func (s *Sender) BufferSize() int {
	return s.bufferSize
}

// DataLength returns the bytes currently in flight.
func (s *Sender) DataLength() int {
	return s.dataLength
}

// Total returns the number of program lines.
func (s *Sender) Total() int {
	return s.total
}

// Sent returns the number of lines handed to the transport (or skipped).
func (s *Sender) Sent() int {
	return s.sent
}

// Received returns the number of acknowledged lines.
func (s *Sender) Received() int {
	return s.received
}

// Line returns the 0-based program line i.
func (s *Sender) Line(i int) (string, bool) {
	if i < 0 || i >= len(s.lines) {
		return "", false
	}
	return s.lines[i], true
}

// Complete reports whether every line of a loaded program is acknowledged.
func (s *Sender) Complete() bool {
	return s.total > 0 && s.received >= s.total
}

// Status returns a snapshot suitable for the sender:status event.
func (s *Sender) Status() Status {
	return Status{
		Name:        s.name,
		Size:        len(s.content),
		Total:       s.total,
		Sent:        s.sent,
		Received:    s.received,
		BufferSize:  s.bufferSize,
		DataLength:  s.dataLength,
		Outstanding: len(s.queue),
	}
}

func setIfAbsent(ctx map[string]interface{}, key string, value float64) {
	if _, ok := ctx[key]; !ok {
		ctx[key] = value
	}
}

// programBounds walks the program's motion lines and returns the XYZ
// bounding box, for expression contexts like "G0 X[xmin] Y[ymin]".
// Unparseable lines are skipped; they are the operator's problem, not
// ours.
func programBounds(lines []string) (min, max [3]float64, ok bool) {
	var pos [3]float64

	for _, str := range lines {
		line, err := gcode.ParseLine(str)
		if err != nil {
			continue
		}
		motion := -1
		next := pos
		for _, code := range line.Codes {
			switch code.Letter {
			case "G":
				motion = int(code.Value)
			case "X":
				next[0] = code.Value
			case "Y":
				next[1] = code.Value
			case "Z":
				next[2] = code.Value
			}
		}
		if motion < 0 || motion > 3 {
			continue
		}
		pos = next
		if !ok {
			min, max = pos, pos
			ok = true
			continue
		}
		for i := range pos {
			if pos[i] < min[i] {
				min[i] = pos[i]
			}
			if pos[i] > max[i] {
				max[i] = pos[i]
			}
		}
	}
	return min, max, ok
}
