// Package controller mediates between clients and a Grbl motion controller
// on a serial link. It owns the line parser, feeder, sender, and workflow,
// schedules the periodic polls, dispatches client commands, and fans parsed
// telemetry out to registered sinks.
//
// All protocol state is owned by one logical executor: the run loop started
// by Open. Serial bytes, timer ticks, and client commands are enqueued onto
// it and processed to completion before the next. Before Open (and in
// tests) enqueued work runs inline on the caller, which preserves the
// single-executor discipline as long as only one goroutine drives the
// controller.
package controller

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"grblhub/internal/config"
	"grblhub/internal/feeder"
	"grblhub/internal/grbl"
	"grblhub/internal/sender"
	"grblhub/internal/workflow"
)

const (
	pollInterval       = 250 * time.Millisecond
	parserPollInterval = 500 * time.Millisecond
	statusStallTimeout = 5 * time.Second
	parserStallTimeout = 10 * time.Second
	stopResetDelay     = 500 * time.Millisecond
)

var (
	ErrPortClosed     = errors.New("controller: serial port is closed")
	ErrPortOpen       = errors.New("controller: serial port is already open")
	ErrUnknownCommand = errors.New("controller: unknown command")
)

// Transport is the serial byte pipe the controller exclusively owns.
type Transport interface {
	io.ReadWriteCloser
}

// Sink receives named events with payloads; one per attached client.
type Sink interface {
	Send(event string, payload interface{})
}

// MacroStore supplies the configured macros.
type MacroStore interface {
	Macros() []config.Macro
}

// FileReader reads G-code files on behalf of watchdir:load.
type FileReader interface {
	ReadFile(name string) (string, error)
}

// TaskRunner executes a shell command for system-kind event triggers.
type TaskRunner interface {
	Run(command string)
}

// Callback reports the outcome of an asynchronous command back to the
// client that issued it.
type Callback func(err error, result interface{})

// Options are the immutable serial options.
type Options struct {
	Port     string
	BaudRate int
}

// Deps are the process-wide collaborators, injected so the core is
// testable with fakes.
type Deps struct {
	Transport Transport
	Macros    MacroStore
	Monitor   FileReader
	Runner    TaskRunner
	Triggers  []config.Trigger
	Logger    *slog.Logger

	// Clock and Schedule exist for the tests; nil means real time.
	Clock    func() time.Time
	Schedule func(d time.Duration, fn func())
}

type actionFlags struct {
	queryParserStateSent  bool // $G sent, awaiting the [GC:...] line
	queryParserStateReply bool // [GC:...] received, awaiting the trailing ok
	queryStatusReport     bool // ? sent, awaiting the next status line
	replyParserState      bool // user-originated $G: echo the reply to clients
	replyStatusReport     bool // user-originated ?: echo the reply to clients

	parserStateAt  time.Time
	statusReportAt time.Time
	lastParserPoll time.Time
}

type Controller struct {
	opts   Options
	log    *slog.Logger
	clock  func() time.Time
	after  func(d time.Duration, fn func())

	transport Transport
	macros    MacroStore
	monitor   FileReader
	runner    TaskRunner
	triggers  []config.Trigger

	parser   *grbl.Parser
	feeder   *feeder.Feeder
	sender   *sender.Sender
	workflow *workflow.Workflow

	handlers map[string]func(client string, args []interface{})
	aliases  map[string]string

	connections map[string]Sink

	ready         bool
	feederPending bool // a feeder line is on the wire awaiting ok/error
	feederWrote   bool // set by the feeder emit when a line reached the wire
	actions       actionFlags

	lastState        grbl.MachineState
	lastSenderStatus sender.Status
	lastParserState  string

	tasks   chan func()
	stop    chan struct{}
	running atomic.Bool
	open    atomic.Bool
}

// New builds a controller bound to a single serial port. The transport is
// not touched until Open.
func New(opts Options, deps Deps) *Controller {
	if opts.BaudRate == 0 {
		opts.BaudRate = 115200
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		opts:        opts,
		log:         logger.With("component", "controller", "port", opts.Port),
		transport:   deps.Transport,
		macros:      deps.Macros,
		monitor:     deps.Monitor,
		runner:      deps.Runner,
		triggers:    deps.Triggers,
		connections: make(map[string]Sink),
		tasks:       make(chan func(), 256),
		stop:        make(chan struct{}),
	}

	c.clock = deps.Clock
	if c.clock == nil {
		c.clock = time.Now
	}
	c.after = deps.Schedule
	if c.after == nil {
		c.after = func(d time.Duration, fn func()) {
			time.AfterFunc(d, func() { c.do(fn) })
		}
	}

	c.parser = grbl.NewParser(c.onMessage)
	c.lastState = c.parser.State()

	c.feeder = feeder.New(func(l feeder.Line) {
		line := strings.TrimSpace(c.translate(l.Data, l.Context))
		if line == "" {
			return
		}
		c.writeln(line)
		c.feederWrote = true
	})

	// program lines were translated at load time and are already counted
	// against the window, so they bypass the reply-flag bookkeeping
	c.sender = sender.New(func(line string, _ map[string]interface{}) {
		c.writePort(line + "\n")
	})

	c.workflow = workflow.New(func(event string, st workflow.State) {
		switch event {
		case workflow.EventStart, workflow.EventStop:
			c.sender.Rewind()
		case workflow.EventResume:
			c.sender.Next()
		}
		c.emit("workflow:state", st.String())
	})

	c.registerCommands()

	return c
}

// do runs fn on the controller's executor: enqueued when the run loop is
// live, inline otherwise.
func (c *Controller) do(fn func()) {
	if c.running.Load() {
		select {
		case c.tasks <- fn:
		case <-c.stop:
		}
		return
	}
	fn()
}

// Open starts the run loop, the serial reader, and the periodic poller.
// Opening an open controller is a programmer error.
func (c *Controller) Open() error {
	if c.transport == nil {
		return ErrPortClosed
	}
	if !c.open.CompareAndSwap(false, true) {
		c.log.Error("open while open")
		return ErrPortOpen
	}
	c.running.Store(true)

	go c.runLoop()
	go c.readLoop()

	c.emit("serialport:open", map[string]interface{}{
		"port":           c.opts.Port,
		"baudrate":       c.opts.BaudRate,
		"controllerType": "Grbl",
		"inuse":          true,
	})
	c.log.Info("port opened", "baudrate", c.opts.BaudRate)
	return nil
}

func (c *Controller) runLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-ticker.C:
			c.onTick()
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.do(func() { c.parser.Write(chunk) })
		}
		if err != nil {
			c.do(func() { c.onDisconnect(err) })
			return
		}
	}
}

func (c *Controller) onDisconnect(err error) {
	if !c.open.Load() {
		return
	}
	if !errors.Is(err, io.EOF) {
		c.log.Error("serial read failed", "error", err)
		c.emit("serialport:error", map[string]interface{}{
			"err":  err.Error(),
			"port": c.opts.Port,
		})
	}
	c.teardown()
}

// Close tears the connection down on the executor, so it never races a
// tick that is mutating protocol state, then closes the transport to
// unblock the serial reader. Closing a closed controller is a programmer
// error.
func (c *Controller) Close() error {
	if !c.open.Load() {
		c.log.Error("close while closed")
		return ErrPortClosed
	}
	c.do(c.teardown)
	return c.transport.Close()
}

// teardown runs on the executor; onDisconnect and Close can both reach
// it, whichever lands first wins.
func (c *Controller) teardown() {
	if !c.open.CompareAndSwap(true, false) {
		return
	}
	if c.running.Swap(false) {
		close(c.stop)
	}

	c.ready = false
	c.feederPending = false
	c.actions = actionFlags{}
	c.workflow.Stop()
	c.sender.Unload()
	c.feeder.Clear()
	c.feeder.Unhold()

	c.emit("serialport:close", map[string]interface{}{
		"port":  c.opts.Port,
		"inuse": false,
	})
	c.connections = make(map[string]Sink)
	c.log.Info("port closed")
}

// IsOpen reports whether the serial port is open.
func (c *Controller) IsOpen() bool {
	return c.open.Load()
}

// Ready reports whether a Grbl startup banner has been seen.
func (c *Controller) Ready() bool {
	return c.ready
}

// State returns the last-known machine state.
func (c *Controller) State() grbl.MachineState {
	return c.parser.State()
}

// AddConnection registers a client sink. The new sink immediately receives
// the machine state snapshot and, when a program is loaded, the sender
// status.
func (c *Controller) AddConnection(id string, sink Sink) {
	c.do(func() {
		c.connections[id] = sink
		sink.Send("controller:state", c.parser.State())
		if c.sender.Loaded() {
			sink.Send("sender:status", c.sender.Status())
		}
	})
}

// RemoveConnection removes a client sink.
func (c *Controller) RemoveConnection(id string) {
	c.do(func() {
		delete(c.connections, id)
	})
}

func (c *Controller) emit(event string, payload interface{}) {
	for _, sink := range c.connections {
		sink.Send(event, payload)
	}
}

// onTick drives the 250 ms poller.
func (c *Controller) onTick() {
	if c.feeder.Pending() {
		c.emit("feeder:status", c.feeder.Status())
	}

	if st := c.sender.Status(); st != c.lastSenderStatus {
		c.lastSenderStatus = st
		c.emit("sender:status", st)
	}

	if st := c.parser.State(); st != c.lastState {
		c.lastState = st
		c.emit("controller:state", st)
	}

	if !c.ready || !c.open.Load() {
		return
	}

	now := c.clock()

	// stall recovery: clear a stuck request so it can be reissued
	if c.actions.queryStatusReport && now.Sub(c.actions.statusReportAt) >= statusStallTimeout {
		c.log.Warn("status report poll stalled, reissuing")
		c.actions.queryStatusReport = false
	}
	if (c.actions.queryParserStateSent || c.actions.queryParserStateReply) &&
		now.Sub(c.actions.parserStateAt) >= parserStallTimeout {
		c.log.Warn("parser state poll stalled, reissuing")
		c.actions.queryParserStateSent = false
		c.actions.queryParserStateReply = false
	}

	if !c.actions.queryStatusReport {
		c.actions.queryStatusReport = true
		c.actions.statusReportAt = now
		c.writePort("?")
	}

	if !c.actions.queryParserStateSent && !c.actions.queryParserStateReply &&
		now.Sub(c.actions.lastParserPoll) >= parserPollInterval {
		c.actions.queryParserStateSent = true
		c.actions.parserStateAt = now
		c.actions.lastParserPoll = now
		c.writePort("$G\n")
	}
}

// onMessage routes one classified line from the parser.
func (c *Controller) onMessage(msg interface{}) {
	switch m := msg.(type) {
	case grbl.OK:
		c.onOK(m)
	case grbl.Error:
		c.onError(m)
	case grbl.StatusReport:
		c.onStatus(m)
	case grbl.ParserState:
		c.onParserState(m)
	case grbl.Alarm:
		c.onAlarm(m)
	case grbl.Startup:
		c.onStartup(m)
	case grbl.Setting:
		c.onSetting(m)
	case grbl.Parameters:
		c.emit("serialport:read", m.Raw)
	case grbl.Feedback:
		c.emit("serialport:read", m.Raw)
	case grbl.Other:
		c.log.Debug("unrecognized line", "line", m.Raw)
		c.emit("serialport:read", m.Raw)
	}
}

func (c *Controller) onOK(m grbl.OK) {
	if c.actions.queryParserStateReply {
		c.actions.queryParserStateReply = false
		if c.actions.replyParserState {
			c.actions.replyParserState = false
			c.emit("serialport:read", m.Raw)
		}
		return
	}

	if c.workflow.State() == workflow.Running {
		c.sender.Ack()
		c.sender.Next()
		if c.sender.Complete() {
			c.log.Info("program complete", "name", c.sender.Name())
		}
		return
	}

	c.emit("serialport:read", m.Raw)
	c.feederPending = false
	c.kickFeeder()
}

// kickFeeder emits queued ad-hoc lines until one actually reaches the
// wire. Lines that translate to nothing get no acknowledgement, so they
// are skipped here rather than awaited.
func (c *Controller) kickFeeder() {
	if c.feederPending || c.workflow.State() == workflow.Running {
		return
	}
	for c.feeder.Pending() {
		c.feederWrote = false
		c.feeder.Next()
		if c.feederWrote {
			c.feederPending = true
			return
		}
	}
}

func (c *Controller) onError(m grbl.Error) {
	if c.workflow.State() == workflow.Running {
		lineNumber := c.sender.Received() + 1
		if line, ok := c.sender.Line(lineNumber - 1); ok {
			c.emit("serialport:read", fmt.Sprintf("> %s (line=%d)", strings.TrimSpace(line), lineNumber))
		}
		c.emit("serialport:read", formatError(m))
		c.log.Warn("firmware rejected program line", "line", lineNumber, "error", m.Raw)
		c.sender.Ack()
		c.sender.Next()
		return
	}

	c.emit("serialport:read", formatError(m))
	c.feederPending = false
	c.kickFeeder()
}

func (c *Controller) onStatus(m grbl.StatusReport) {
	c.actions.queryStatusReport = false

	// raise the character window only when it cannot over-admit an
	// in-flight program
	if m.HasBuf && c.workflow.State() == workflow.Idle {
		if c.sender.MaybeGrow(m.Buf.RX) {
			c.log.Debug("grew character window", "rx", m.Buf.RX)
		}
	}

	if c.actions.replyStatusReport {
		c.actions.replyStatusReport = false
		c.emit("serialport:read", m.Raw)
	}
}

// onParserState always arms the reply flag: a [GC:...] line is followed
// by an ok whether the $G was ours or the user's, and that ok must never
// reach the sender's ack path.
func (c *Controller) onParserState(m grbl.ParserState) {
	c.actions.queryParserStateSent = false
	c.actions.queryParserStateReply = true
	c.lastParserState = m.Raw
	if c.actions.replyParserState {
		c.emit("serialport:read", m.Raw)
	}
}

func (c *Controller) onAlarm(m grbl.Alarm) {
	c.emit("serialport:read", formatAlarm(m))
	dropped := c.feeder.Clear()
	c.feeder.Hold()
	c.feederPending = false
	c.log.Warn("alarm raised, feeder halted", "alarm", m.Raw, "dropped", dropped)
}

func (c *Controller) onStartup(m grbl.Startup) {
	c.emit("serialport:read", m.Raw)
	c.ready = true
	c.actions = actionFlags{}
	c.feederPending = false
	c.feeder.Unhold()
	c.log.Info("firmware ready", "version", m.Version)
}

func (c *Controller) onSetting(m grbl.Setting) {
	if m.Description != "" {
		c.emit("serialport:read", fmt.Sprintf("%s (%s)", m.Raw, m.Description))
		return
	}
	c.emit("serialport:read", m.Raw)
}

func formatError(m grbl.Error) string {
	if m.Code > 0 {
		return fmt.Sprintf("error:%d (%s)", m.Code, m.Message)
	}
	return m.Raw
}

func formatAlarm(m grbl.Alarm) string {
	if m.Code > 0 {
		return fmt.Sprintf("ALARM:%d (%s)", m.Code, m.Message)
	}
	return m.Raw
}

// write sends bytes to the firmware on behalf of the user: a bare `?` or
// `$G` additionally arms the echo of the matching reply to all clients.
func (c *Controller) write(data string) {
	if data == "?" {
		c.actions.replyStatusReport = true
	}
	if strings.TrimSpace(data) == "$G" {
		c.actions.replyParserState = true
	}
	c.writePort(data)
}

// writeln appends a newline unless data is a realtime single-byte command,
// which Grbl consumes bare.
func (c *Controller) writeln(data string) {
	if isRealtimeCommand(data) {
		c.write(data)
		return
	}
	c.write(data + "\n")
}

// writePort is the raw transmit path shared by the poller, the sender,
// and the user write helpers.
func (c *Controller) writePort(data string) {
	if !c.open.Load() || c.transport == nil {
		c.log.Error("write while closed", "data", fmt.Sprintf("%q", data))
		return
	}
	c.emit("serialport:write", data)
	if _, err := c.transport.Write([]byte(data)); err != nil {
		c.log.Error("serial write failed", "error", err)
		c.emit("serialport:error", map[string]interface{}{
			"err":  err.Error(),
			"port": c.opts.Port,
		})
	}
}

// isRealtimeCommand reports whether data is one of Grbl's single-byte
// realtime commands (status, hold, resume, reset, jog cancel, door,
// overrides).
func isRealtimeCommand(data string) bool {
	if len(data) != 1 {
		return false
	}
	b := data[0]
	switch b {
	case '?', '~', '!', 0x18, 0x84, 0x85:
		return true
	}
	return (b >= 0x90 && b <= 0x97) || (b >= 0x99 && b <= 0x9d)
}
