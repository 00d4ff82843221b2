package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Serial.BaudRate != 115200 {
		t.Fatalf("baudrate = %d", c.Serial.BaudRate)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grblhub.json")

	c := Default()
	c.Serial.Port = "/dev/ttyUSB0"
	c.MacroList = []Macro{{ID: "m1", Name: "probe", Content: "G38.2 Z-10"}}
	c.Triggers = []Trigger{{Event: "gcode:start", Kind: "system", Commands: "led on"}}
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Serial.Port != "/dev/ttyUSB0" {
		t.Fatalf("port = %q", loaded.Serial.Port)
	}
	if len(loaded.Macros()) != 1 || loaded.Macros()[0].ID != "m1" {
		t.Fatalf("macros = %+v", loaded.Macros())
	}
	if len(loaded.Triggers) != 1 || loaded.Triggers[0].Event != "gcode:start" {
		t.Fatalf("triggers = %+v", loaded.Triggers)
	}
}
