// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// envlab runs the GPA788 lab bench demo: it alternates a 16x2 character LCD
// between a welcome message and the readings of a DHT-class sensor, blinking
// the glass slowly, and mirrors the readings to the log, optionally to a
// serial console and an MQTT topic.
//
// Without flags it assumes the lab wiring on a Raspberry Pi. -config loads a
// different bench description, -sim renders the LCD in the terminal so the
// loop can run before the glass is wired.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/gpa788/devices/dhtxx"
	"github.com/gpa788/devices/lcd1602"
	"github.com/gpa788/devices/lcdsim"
)

// degreeSlot is the CGRAM slot programmed with the ° glyph. Slot 0 prints as
// character code 0, which the readings screen uses instead of the ROM code
// 0xdf because clone character ROMs do not all carry the ° sign.
const degreeSlot byte = 0

// degreeGlyph is a 5x8 ° for CGRAM, one byte per line, top down.
var degreeGlyph = [8]byte{0x06, 0x09, 0x09, 0x06, 0x00, 0x00, 0x00, 0x00}

// glass is the demo's view of a display: the text contract plus Halt.
type glass interface {
	display.TextDisplay
	conn.Resource
}

// bench is the assembled lab hardware.
type bench struct {
	cfg      Config
	model    dhtxx.Model
	sensor   *dhtxx.Dev
	glass    glass
	sim      *lcdsim.Dev // non-nil when the glass is simulated
	up       *uplink
	snapshot string // PNG path for -snapshot, empty when off
}

// run alternates the welcome and readings screens, blinking the glass
// between redraws, until ctx ends. Failed sensor reads show the error screen
// and the loop simply tries again when the readings come up next; a glass
// failure ends the demo.
func (b *bench) run(ctx context.Context) error {
	blink := 0
	welcome := true
	for {
		if blink == 0 {
			var err error
			if welcome {
				err = b.showWelcome()
			} else {
				err = b.showReadings()
			}
			if err != nil {
				return err
			}
		}
		blink++
		if blink >= b.cfg.Cycle.Screens {
			blink = 0
			welcome = !welcome
		}
		if err := b.glass.Display(true); err != nil {
			return err
		}
		if !sleepCtx(ctx, time.Duration(b.cfg.Cycle.On)) {
			return nil
		}
		if err := b.glass.Display(false); err != nil {
			return err
		}
		if !sleepCtx(ctx, time.Duration(b.cfg.Cycle.Off)) {
			return nil
		}
	}
}

func (b *bench) showWelcome() error {
	log.Print(strings.Join(b.cfg.Cycle.Welcome, " "))
	return b.draw(b.cfg.Cycle.Welcome)
}

func (b *bench) showReadings() error {
	if err := b.read(); err != nil {
		log.Printf("%s: Erreur: %v", b.model, err)
		if err := b.draw(errorScreen(b.model, err)); err != nil {
			return err
		}
	} else {
		h, t := b.sensor.Humidity(), b.sensor.Temperature()
		log.Printf("Temperature = %.1f", t)
		log.Printf("Humidity = %.1f", h)
		b.up.publish(b.model, h, t)
		if err := b.draw(readingScreen(h, t)); err != nil {
			return err
		}
	}
	if b.sim != nil && b.snapshot != "" {
		b.writeSnapshot()
	}
	return nil
}

// read samples the sensor with the decode matching the configured model.
func (b *bench) read() error {
	switch b.model {
	case dhtxx.DHT11:
		return b.sensor.Read11()
	case dhtxx.DHT21:
		return b.sensor.Read21()
	case dhtxx.DHT33:
		return b.sensor.Read33()
	case dhtxx.DHT44:
		return b.sensor.Read44()
	default:
		return b.sensor.Read22()
	}
}

// draw replaces the glass content, one string per row.
func (b *bench) draw(lines []string) error {
	if err := b.glass.Clear(); err != nil {
		return err
	}
	for i, line := range lines {
		if err := b.glass.MoveTo(i+1, 1); err != nil {
			return err
		}
		if _, err := b.glass.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) writeSnapshot() {
	f, err := os.Create(b.snapshot)
	if err != nil {
		log.Printf("snapshot: %v", err)
		return
	}
	if err := b.sim.Snapshot(f); err != nil {
		log.Printf("snapshot: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Printf("snapshot: %v", err)
	}
}

// readingScreen formats a successful sample like the original bench, with
// the CGRAM ° in the temperature row.
func readingScreen(humidity, temperature float64) []string {
	return []string{
		fmt.Sprintf("Temp.: %.0f%sC", temperature, string([]byte{degreeSlot})),
		fmt.Sprintf("Humidity.: %.0f%%", humidity),
	}
}

// errorScreen formats a failed sample. ASCII only, the character ROM has no
// accents.
func errorScreen(model dhtxx.Model, err error) []string {
	var terr *dhtxx.TimeoutError
	var cerr *dhtxx.ChecksumError
	reason := "erreur E/S"
	switch {
	case errors.As(err, &terr):
		reason = "pas de reponse"
	case errors.As(err, &cerr):
		reason = "somme invalide"
	}
	return []string{fmt.Sprintf("%s: Erreur", model), reason}
}

// sleepCtx waits for d, returning false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func resolvePin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %s not found", name)
	}
	return p, nil
}

// openLCD resolves the configured wiring, initializes the panel and programs
// the ° glyph into CGRAM.
func openLCD(cfg *LCDConfig) (*lcd1602.Dev, error) {
	opts := lcd1602.Opts{Rows: cfg.Rows, Cols: cfg.Cols}
	var err error
	if opts.RS, err = resolvePin(cfg.RS); err != nil {
		return nil, err
	}
	if opts.E, err = resolvePin(cfg.E); err != nil {
		return nil, err
	}
	for i, name := range cfg.Data {
		if opts.Data[i], err = resolvePin(name); err != nil {
			return nil, err
		}
	}
	if cfg.Backlight != "" {
		if opts.Backlight, err = resolvePin(cfg.Backlight); err != nil {
			return nil, err
		}
	}
	lcd, err := lcd1602.New(&opts)
	if err != nil {
		return nil, err
	}
	if err := lcd.CreateChar(degreeSlot, degreeGlyph); err != nil {
		_ = lcd.Halt()
		return nil, err
	}
	return lcd, nil
}

func mainImpl() error {
	configPath := flag.String("config", "", "YAML bench description, defaults to the lab wiring")
	sim := flag.Bool("sim", false, "render the LCD in the terminal instead of driving GPIO")
	snapshot := flag.String("snapshot", "", "with -sim, write a PNG of the glass to this `file` on every readings screen")
	broker := flag.String("mqtt", "", "publish readings to this MQTT `broker`, e.g. tcp://lab:1883")
	topic := flag.String("topic", "", "MQTT topic for -mqtt")
	serialDev := flag.String("serial", "", "mirror the log to this serial `device`")
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Arg(0))
	}
	if *snapshot != "" && !*sim {
		return errors.New("-snapshot needs -sim")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *broker != "" {
		cfg.Uplink.Broker = *broker
	}
	if *topic != "" {
		cfg.Uplink.Topic = *topic
	}
	if *serialDev != "" {
		cfg.Uplink.Serial = *serialDev
	}
	model, err := parseModel(cfg.Sensor.Model)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	up, err := newUplink(cfg.Uplink)
	if err != nil {
		return err
	}
	defer up.Close()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initializing the host: %w", err)
	}
	pin, err := resolvePin(cfg.Sensor.Pin)
	if err != nil {
		return err
	}
	sensor, err := dhtxx.New(pin, &dhtxx.Opts{Model: model})
	if err != nil {
		return err
	}

	b := &bench{cfg: cfg, model: model, sensor: sensor, up: up, snapshot: *snapshot}
	if *sim {
		b.sim = lcdsim.New(&lcdsim.Opts{
			Rows:    cfg.LCD.Rows,
			Cols:    cfg.LCD.Cols,
			Charmap: map[byte]rune{degreeSlot: '°'},
		})
		b.glass = b.sim
	} else {
		lcd, err := openLCD(&cfg.LCD)
		if err != nil {
			return err
		}
		b.glass = lcd
	}
	defer func() {
		_ = b.glass.Halt()
		_ = sensor.Halt()
	}()

	log.Printf("bench up: %s, %s", sensor, b.glass)
	return b.run(ctx)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "envlab: %s.\n", err)
		os.Exit(1)
	}
}
