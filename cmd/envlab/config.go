// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpa788/devices/dhtxx"
)

// Config describes the bench: what hangs off which pin and how the demo
// cycles its screens. Everything has a default matching the lab wiring, so
// an empty file, or none at all, is a valid bench.
type Config struct {
	Sensor SensorConfig `yaml:"sensor"`
	LCD    LCDConfig    `yaml:"lcd"`
	Cycle  CycleConfig  `yaml:"cycle"`
	Uplink UplinkConfig `yaml:"uplink"`
}

// SensorConfig locates the humidity/temperature sensor.
type SensorConfig struct {
	// Pin is the gpioreg name of the data line.
	Pin string `yaml:"pin"`
	// Model is one of dht11, dht21, dht22, dht33 or dht44.
	Model string `yaml:"model"`
}

// LCDConfig is the 6 wire hookup of the character LCD.
type LCDConfig struct {
	RS string `yaml:"rs"`
	E  string `yaml:"e"`
	// Data lists the D4 to D7 lines, least significant first.
	Data      []string `yaml:"data"`
	Backlight string   `yaml:"backlight"`
	Rows      int      `yaml:"rows"`
	Cols      int      `yaml:"cols"`
}

// CycleConfig paces the demo loop.
type CycleConfig struct {
	// On and Off are the blink phases of one screen showing.
	On  Duration `yaml:"on"`
	Off Duration `yaml:"off"`
	// Screens is how many blinks each content stays up before the demo
	// alternates between the welcome text and the readings.
	Screens int `yaml:"screens"`
	// Welcome is the greeting, one entry per row.
	Welcome []string `yaml:"welcome"`
}

// UplinkConfig configures the optional reading mirrors.
type UplinkConfig struct {
	// Broker enables MQTT publishing when set, e.g. tcp://lab:1883.
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	// Serial mirrors the log lines to a serial console when set.
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
}

// Duration accepts "2s" style YAML values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("envlab: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig is the lab bench as wired in the course notes.
func DefaultConfig() Config {
	return Config{
		Sensor: SensorConfig{Pin: "GPIO4", Model: "dht11"},
		LCD: LCDConfig{
			RS:   "GPIO26",
			E:    "GPIO19",
			Data: []string{"GPIO13", "GPIO6", "GPIO5", "GPIO11"},
			Rows: 2,
			Cols: 16,
		},
		Cycle: CycleConfig{
			On:      Duration(2 * time.Second),
			Off:     Duration(1 * time.Second),
			Screens: 3,
			Welcome: []string{"Bienvenue au", "GPA788 OC/IoT"},
		},
		Uplink: UplinkConfig{
			Topic:    "gpa788/env",
			ClientID: "envlab",
			Baud:     9600,
		},
	}
}

// LoadConfig reads a bench description, layering it over the defaults. An
// empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("envlab: reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("envlab: parsing %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if _, err := parseModel(c.Sensor.Model); err != nil {
		return err
	}
	if c.Sensor.Pin == "" {
		return fmt.Errorf("envlab: sensor.pin is required")
	}
	if len(c.LCD.Data) != 4 {
		return fmt.Errorf("envlab: lcd.data needs the 4 lines D4 to D7, got %d", len(c.LCD.Data))
	}
	if c.Cycle.On <= 0 || c.Cycle.Off <= 0 {
		return fmt.Errorf("envlab: cycle.on and cycle.off must be positive")
	}
	if c.Cycle.Screens < 1 {
		return fmt.Errorf("envlab: cycle.screens must be at least 1")
	}
	if len(c.Cycle.Welcome) == 0 || len(c.Cycle.Welcome) > c.LCD.Rows {
		return fmt.Errorf("envlab: cycle.welcome needs 1 to %d lines", c.LCD.Rows)
	}
	return nil
}

func parseModel(s string) (dhtxx.Model, error) {
	switch strings.ToLower(s) {
	case "dht11":
		return dhtxx.DHT11, nil
	case "dht21":
		return dhtxx.DHT21, nil
	case "dht22":
		return dhtxx.DHT22, nil
	case "dht33":
		return dhtxx.DHT33, nil
	case "dht44":
		return dhtxx.DHT44, nil
	default:
		return 0, fmt.Errorf("envlab: unknown sensor model %q", s)
	}
}
