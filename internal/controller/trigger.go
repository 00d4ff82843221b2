package controller

import "strings"

// fireTrigger runs the configured trigger for a lifecycle event, if any.
// System triggers go to the shell runner; G-code triggers are fed line by
// line ahead of the action that raised the event.
func (c *Controller) fireTrigger(event string) {
	for _, t := range c.triggers {
		if t.Event != event || t.Disabled {
			continue
		}
		if strings.TrimSpace(t.Commands) == "" {
			continue
		}

		if t.Kind == "system" {
			if c.runner == nil {
				c.log.Warn("system trigger without a task runner", "event", event)
				continue
			}
			c.log.Info("running system trigger", "event", event, "commands", t.Commands)
			c.runner.Run(t.Commands)
			continue
		}

		c.log.Info("feeding gcode trigger", "event", event)
		if c.feeder.Feed(strings.Split(t.Commands, "\n"), nil) {
			c.kickFeeder()
		}
	}
}
