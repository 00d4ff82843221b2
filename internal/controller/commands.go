package controller

import (
	"fmt"
	"math"
	"strings"
	"time"

	"grblhub/internal/config"
	"grblhub/internal/workflow"
)

// Command dispatches a named client command on the controller's executor.
// Unknown names fail synchronously; everything else is asynchronous, with
// an optional trailing Callback in args reporting the outcome.
func (c *Controller) Command(client, name string, args ...interface{}) error {
	if canonical, ok := c.aliases[name]; ok {
		c.log.Warn("deprecated command", "command", name, "replacement", canonical)
		name = canonical
	}
	handler, ok := c.handlers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	c.do(func() { handler(client, args) })
	return nil
}

// Write sends raw client data to the firmware.
func (c *Controller) Write(client, data string) {
	c.do(func() { c.write(data) })
}

// Writeln sends one client line to the firmware, newline-terminated unless
// it is a realtime command.
func (c *Controller) Writeln(client, data string) {
	c.do(func() { c.writeln(data) })
}

func (c *Controller) registerCommands() {
	c.handlers = map[string]func(client string, args []interface{}){
		"gcode":           c.cmdGcode,
		"gcode:load":      c.cmdLoad,
		"gcode:unload":    c.cmdUnload,
		"gcode:start":     c.cmdStart,
		"gcode:stop":      c.cmdStop,
		"gcode:pause":     c.cmdPause,
		"gcode:resume":    c.cmdResume,
		"feedhold":        c.cmdFeedhold,
		"cyclestart":      c.cmdCyclestart,
		"statusreport":    c.cmdStatusReport,
		"homing":          c.cmdHoming,
		"sleep":           c.cmdSleep,
		"unlock":          c.cmdUnlock,
		"reset":           c.cmdReset,
		"feedOverride":    c.cmdFeedOverride,
		"spindleOverride": c.cmdSpindleOverride,
		"rapidOverride":   c.cmdRapidOverride,
		"lasertest:on":    c.cmdLaserTestOn,
		"lasertest:off":   c.cmdLaserTestOff,
		"macro:run":       c.cmdMacroRun,
		"macro:load":      c.cmdMacroLoad,
		"watchdir:load":   c.cmdWatchdirLoad,
	}

	c.aliases = map[string]string{
		"load":   "gcode:load",
		"unload": "gcode:unload",
		"start":  "gcode:start",
		"stop":   "gcode:stop",
		"pause":  "gcode:pause",
		"resume": "gcode:resume",
	}
}

// cmdGcode feeds ad-hoc lines through the feeder, one entry per line so
// each gets its own acknowledgement. Every string argument (including
// strings inside a list argument) contributes lines; a map argument is
// the translation context.
func (c *Controller) cmdGcode(client string, args []interface{}) {
	var blocks []string
	var context map[string]interface{}
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			blocks = append(blocks, v)
		case []interface{}:
			for _, e := range v {
				if s, ok := e.(string); ok {
					blocks = append(blocks, s)
				}
			}
		case map[string]interface{}:
			context = v
		}
	}
	if len(blocks) == 0 {
		return
	}

	if !c.feeder.Feed(strings.Split(strings.Join(blocks, "\n"), "\n"), context) {
		c.log.Warn("feeder is held, lines dropped", "client", client)
		return
	}
	c.kickFeeder()
}

func (c *Controller) cmdLoad(client string, args []interface{}) {
	cb := argCallback(args)
	name, _ := argString(args, 0)
	content, ok := argString(args, 1)
	if !ok {
		cb(fmt.Errorf("gcode:load: missing content"), nil)
		return
	}
	context := argMap(args, 2)

	if !c.sender.Load(name, content, context) {
		cb(fmt.Errorf("gcode:load: empty program %q", name), nil)
		return
	}

	// expressions are resolved now, against the position at load time,
	// so the admitted byte counts match what goes on the wire
	senderContext := c.sender.Context()
	c.sender.Translate(func(line string) string {
		return c.translate(line, senderContext)
	})

	c.fireTrigger("gcode:load")

	// a load ends any session on the previous program; the next ok must
	// not start streaming the fresh one
	c.workflow.Stop()

	c.log.Info("program loaded", "name", name, "lines", c.sender.Total(), "client", client)
	c.emit("gcode:load", map[string]interface{}{
		"name": name, "gcode": content,
	})
	c.emit("sender:status", c.sender.Status())
	cb(nil, map[string]interface{}{"name": name, "gcode": content})
}

func (c *Controller) cmdUnload(client string, args []interface{}) {
	c.fireTrigger("gcode:unload")
	c.workflow.Stop()
	c.sender.Unload()
	c.emit("gcode:unload", nil)
	c.emit("sender:status", c.sender.Status())
}

func (c *Controller) cmdStart(client string, args []interface{}) {
	if !c.sender.Loaded() {
		c.log.Warn("start without a loaded program", "client", client)
		return
	}
	c.fireTrigger("gcode:start")

	// the feeder queue would interleave with the stream
	c.feeder.Clear()
	c.feeder.Unhold()

	if c.workflow.Start() {
		c.sender.Next()
	}
}

func (c *Controller) cmdStop(client string, args []interface{}) {
	c.fireTrigger("gcode:stop")
	c.workflow.Stop()

	if c.parser.State().ActiveState == "Run" {
		c.writePort("!")
		c.after(stopResetDelay, func() {
			c.writePort("\x18")
		})
		return
	}
	c.writePort("\x18")
}

func (c *Controller) cmdPause(client string, args []interface{}) {
	c.fireTrigger("gcode:pause")
	if c.workflow.Pause() {
		c.writePort("!")
	}
}

func (c *Controller) cmdResume(client string, args []interface{}) {
	c.fireTrigger("gcode:resume")
	if c.workflow.State() == workflow.Paused {
		c.writePort("~")
		c.workflow.Resume()
	}
}

func (c *Controller) cmdFeedhold(client string, args []interface{}) {
	c.fireTrigger("feedhold")
	c.workflow.Pause()
	c.writePort("!")
}

func (c *Controller) cmdCyclestart(client string, args []interface{}) {
	c.fireTrigger("cyclestart")
	c.workflow.Resume()
	c.writePort("~")
}

func (c *Controller) cmdStatusReport(client string, args []interface{}) {
	c.write("?")
}

func (c *Controller) cmdHoming(client string, args []interface{}) {
	c.fireTrigger("homing")
	c.writeln("$H")
}

func (c *Controller) cmdSleep(client string, args []interface{}) {
	c.fireTrigger("sleep")
	c.writeln("$SLP")
}

func (c *Controller) cmdUnlock(client string, args []interface{}) {
	c.writeln("$X")
	c.feeder.Unhold()
}

func (c *Controller) cmdReset(client string, args []interface{}) {
	c.workflow.Stop()
	c.feeder.Clear()
	c.feeder.Unhold()
	c.writePort("\x18")
}

// feedOverride and spindleOverride take 0 (reset to 100%), +/-10, or +/-1.
func (c *Controller) cmdFeedOverride(client string, args []interface{}) {
	value, _ := argFloat(args, 0)
	switch value {
	case 0:
		c.writePort("\x90")
	case 10:
		c.writePort("\x91")
	case -10:
		c.writePort("\x92")
	case 1:
		c.writePort("\x93")
	case -1:
		c.writePort("\x94")
	default:
		c.log.Warn("unsupported feed override step", "value", value)
	}
}

func (c *Controller) cmdSpindleOverride(client string, args []interface{}) {
	value, _ := argFloat(args, 0)
	switch value {
	case 0:
		c.writePort("\x99")
	case 10:
		c.writePort("\x9a")
	case -10:
		c.writePort("\x9b")
	case 1:
		c.writePort("\x9c")
	case -1:
		c.writePort("\x9d")
	default:
		c.log.Warn("unsupported spindle override step", "value", value)
	}
}

// rapidOverride takes the target percentage: 100 (or 0), 50, or 25.
func (c *Controller) cmdRapidOverride(client string, args []interface{}) {
	value, _ := argFloat(args, 0)
	switch value {
	case 0, 100:
		c.writePort("\x95")
	case 50:
		c.writePort("\x96")
	case 25:
		c.writePort("\x97")
	default:
		c.log.Warn("unsupported rapid override value", "value", value)
	}
}

// cmdLaserTestOn fires the laser at the given power, optionally for a
// fixed duration in milliseconds after which it turns off again.
func (c *Controller) cmdLaserTestOn(client string, args []interface{}) {
	power, _ := argFloat(args, 0)
	duration, _ := argFloat(args, 1)
	if power == 0 {
		c.cmdLaserTestOff(client, nil)
		return
	}

	lines := []string{
		"G1F1",
		fmt.Sprintf("M3S%d", int(math.Abs(power))),
	}
	if duration > 0 {
		seconds := time.Duration(duration) * time.Millisecond
		lines = append(lines,
			fmt.Sprintf("G4P%g", seconds.Seconds()),
			"M5S0",
		)
	}
	if c.feeder.Feed(lines, nil) {
		c.kickFeeder()
	}
}

func (c *Controller) cmdLaserTestOff(client string, args []interface{}) {
	if c.feeder.Feed([]string{"M5S0"}, nil) {
		c.kickFeeder()
	}
}

func (c *Controller) cmdMacroRun(client string, args []interface{}) {
	cb := argCallback(args)
	id, ok := argString(args, 0)
	if !ok {
		cb(fmt.Errorf("macro:run: missing macro id"), nil)
		return
	}
	macro, found := c.findMacro(id)
	if !found {
		cb(fmt.Errorf("macro:run: no macro with id %q", id), nil)
		return
	}
	context := argMap(args, 1)

	c.fireTrigger("macro:run")
	c.cmdGcode(client, []interface{}{macro.Content, context})
	cb(nil, nil)
}

func (c *Controller) cmdMacroLoad(client string, args []interface{}) {
	cb := argCallback(args)
	id, ok := argString(args, 0)
	if !ok {
		cb(fmt.Errorf("macro:load: missing macro id"), nil)
		return
	}
	macro, found := c.findMacro(id)
	if !found {
		cb(fmt.Errorf("macro:load: no macro with id %q", id), nil)
		return
	}
	context := argMap(args, 1)

	c.fireTrigger("macro:load")
	c.cmdLoad(client, []interface{}{macro.Name, macro.Content, context, cb})
}

func (c *Controller) cmdWatchdirLoad(client string, args []interface{}) {
	cb := argCallback(args)
	name, ok := argString(args, 0)
	if !ok {
		cb(fmt.Errorf("watchdir:load: missing file name"), nil)
		return
	}
	if c.monitor == nil {
		cb(fmt.Errorf("watchdir:load: no watch directory configured"), nil)
		return
	}
	content, err := c.monitor.ReadFile(name)
	if err != nil {
		cb(fmt.Errorf("watchdir:load: %w", err), nil)
		return
	}
	c.cmdLoad(client, []interface{}{name, content, cb})
}

func (c *Controller) findMacro(id string) (config.Macro, bool) {
	if c.macros == nil {
		return config.Macro{}, false
	}
	for _, m := range c.macros.Macros() {
		if m.ID == id || m.Name == id {
			return m, true
		}
	}
	return config.Macro{}, false
}

func argString(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argFloat(args []interface{}, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func argMap(args []interface{}, i int) map[string]interface{} {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]interface{})
	return m
}

// argCallback returns the trailing Callback when present, otherwise a
// no-op, so handlers can invoke it unconditionally.
func argCallback(args []interface{}) Callback {
	if n := len(args); n > 0 {
		switch cb := args[n-1].(type) {
		case Callback:
			return cb
		case func(error, interface{}):
			return cb
		}
	}
	return func(error, interface{}) {}
}
