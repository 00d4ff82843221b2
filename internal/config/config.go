// Package config holds the on-disk configuration: serial options, macros,
// and event triggers. The file is JSON, kept under the user config
// directory unless an explicit path is given.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Macro is a named G-code snippet runnable by id.
type Macro struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Trigger maps a lifecycle event (gcode:start, homing, ...) to commands
// dispatched either as G-code or as a system shell command.
type Trigger struct {
	Event    string `json:"event"`
	Kind     string `json:"kind"` // "gcode" or "system"
	Commands string `json:"commands"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Serial are the immutable per-machine serial options.
type Serial struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudrate"`
}

type Config struct {
	Serial    Serial    `json:"serial"`
	MacroList []Macro   `json:"macros"`
	Triggers  []Trigger `json:"triggers"`
	WatchDir  string    `json:"watchDir,omitempty"`
}

// Default returns a config with the usual Grbl serial settings.
func Default() *Config {
	return &Config{
		Serial: Serial{BaudRate: 115200},
	}
}

// File returns the default config file path, creating its directory.
func File() string {
	confdir, err := os.UserConfigDir()
	if err != nil {
		confdir = "."
	}
	dir := filepath.Join(confdir, "grblhub")
	os.MkdirAll(dir, os.ModePerm)
	return filepath.Join(dir, "grblhub.json")
}

// Load reads the config file at path. A missing file yields the defaults;
// a malformed file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 115200
	}
	return c, nil
}

// Save writes the config back to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Macros returns the configured macros.
func (c *Config) Macros() []Macro {
	return c.MacroList
}
