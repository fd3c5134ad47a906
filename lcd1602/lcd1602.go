// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lcd1602 controls HD44780 compatible character LCDs wired directly
// to GPIO in 4 bit mode: register select, enable and the four upper data
// lines, plus an optional backlight line. This is the classic 6 wire hookup
// of the 16x2 modules. The R/W line is assumed tied to ground, so the busy
// flag cannot be read and the driver paces itself with settle delays.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/LCD/HD44780.pdf
package lcd1602

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
)

const (
	// cmdByte routes the rest of a Write payload to the command
	// register, one command per following byte.
	cmdByte byte = 0xfe

	cmdClear       byte = 0x01
	cmdHome        byte = 0x02
	cmdEntryMode   byte = 0x04
	cmdDisplayCtl  byte = 0x08
	cmdShift       byte = 0x10
	cmdFunctionSet byte = 0x20
	cmdSetCGRAM    byte = 0x40
	cmdSetDDRAM    byte = 0x80
)

// DegreeChar is the code of the ° glyph in the ROM A00 character table that
// ships on most of these modules.
const DegreeChar byte = 0xdf

const (
	// Clear and Home take 1.52ms on the chip; everything else 37µs.
	clearSettle = 2 * time.Millisecond
	writeSettle = 50 * time.Microsecond
)

// Test hook.
var sleep = time.Sleep

// Opts is the wiring of the display.
type Opts struct {
	// RS selects between the command and data registers.
	RS gpio.PinOut
	// E latches a nibble on its falling edge.
	E gpio.PinOut
	// Data are the D4 to D7 lines, least significant first.
	Data [4]gpio.PinOut
	// Backlight is optional; leave nil when the backlight is hardwired.
	Backlight gpio.PinOut

	// Rows and Cols default to 2x16.
	Rows, Cols int
}

// Dev is an open handle to the display.
//
// Implements display.TextDisplay, display.DisplayBacklight and
// conn.Resource. Rows and columns are 1 based, as required by
// display.TextDisplay.
type Dev struct {
	rs, e, backlight  gpio.PinOut
	data              [4]gpio.PinOut
	rows, cols        int
	on, cursor, blink bool
}

// New initializes the display behind the given wiring and returns it ready
// for use: 4 bit interface, display on, cursor off, cleared.
func New(opts *Opts) (*Dev, error) {
	if opts == nil {
		return nil, errors.New("lcd1602: opts are required")
	}
	if opts.RS == nil || opts.E == nil {
		return nil, errors.New("lcd1602: RS and E pins are required")
	}
	for _, p := range opts.Data {
		if p == nil {
			return nil, errors.New("lcd1602: all four data pins are required")
		}
	}
	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = 2
	}
	if cols == 0 {
		cols = 16
	}
	if rows < 1 || rows > 4 || cols < 8 || cols > 40 {
		return nil, fmt.Errorf("lcd1602: unsupported geometry %dx%d", cols, rows)
	}
	d := &Dev{
		rs:        opts.RS,
		e:         opts.E,
		backlight: opts.Backlight,
		data:      opts.Data,
		rows:      rows,
		cols:      cols,
	}
	return d, d.init()
}

// init runs the datasheet 4 bit startup dance: the interface width can only
// be set by three raw 0x3 nibbles followed by 0x2.
func (d *Dev) init() error {
	// Power on reset needs 40ms after Vcc stabilizes.
	sleep(40 * time.Millisecond)
	if err := d.rs.Out(gpio.Low); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	if err := d.e.Out(gpio.Low); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	if err := d.writeNibble(0x03); err != nil {
		return err
	}
	sleep(4100 * time.Microsecond)
	if err := d.writeNibble(0x03); err != nil {
		return err
	}
	sleep(100 * time.Microsecond)
	if err := d.writeNibble(0x03); err != nil {
		return err
	}
	sleep(100 * time.Microsecond)
	if err := d.writeNibble(0x02); err != nil {
		return err
	}

	fn := cmdFunctionSet
	if d.rows > 1 {
		fn |= 0x08 // two line mode
	}
	if err := d.command(fn); err != nil {
		return err
	}
	d.on = true
	if err := d.displayCtl(); err != nil {
		return err
	}
	// Entry mode: advance the cursor, no display shift.
	if err := d.command(cmdEntryMode | 0x02); err != nil {
		return err
	}
	if err := d.Clear(); err != nil {
		return err
	}
	return d.Backlight(0xff)
}

// AutoScroll is not supported by this wiring.
func (d *Dev) AutoScroll(enabled bool) error {
	return fmt.Errorf("lcd1602: %w", display.ErrNotImplemented)
}

// Clear clears the screen and moves the cursor home.
func (d *Dev) Clear() error {
	return d.command(cmdClear)
}

// Cols returns the number of columns the display supports.
func (d *Dev) Cols() int {
	return d.cols
}

// Rows returns the number of rows the display supports.
func (d *Dev) Rows() int {
	return d.rows
}

// MinCol returns the first column position.
func (d *Dev) MinCol() int {
	return 1
}

// MinRow returns the first row position.
func (d *Dev) MinRow() int {
	return 1
}

// Cursor sets the cursor style. Underline and block render the same on this
// chip; blink applies to either.
func (d *Dev) Cursor(modes ...display.CursorMode) error {
	for _, mode := range modes {
		switch mode {
		case display.CursorOff:
			d.cursor = false
			d.blink = false
		case display.CursorUnderline, display.CursorBlock:
			d.cursor = true
		case display.CursorBlink:
			d.blink = true
		default:
			return fmt.Errorf("lcd1602: unexpected cursor mode %d", mode)
		}
	}
	return d.displayCtl()
}

// Display turns the glass on or off without losing its content.
func (d *Dev) Display(on bool) error {
	d.on = on
	return d.displayCtl()
}

// Home moves the cursor to (MinRow, MinCol).
func (d *Dev) Home() error {
	return d.command(cmdHome)
}

// Move moves the cursor one cell forward or backward.
func (d *Dev) Move(dir display.CursorDirection) error {
	cmd := cmdShift
	switch dir {
	case display.Backward:
	case display.Forward:
		cmd |= 0x04
	default:
		return fmt.Errorf("lcd1602: %w", display.ErrNotImplemented)
	}
	return d.command(cmd)
}

// MoveTo moves the cursor to an arbitrary position. Row and column are
// 1 based.
func (d *Dev) MoveTo(row, col int) error {
	if row < d.MinRow() || row > d.rows || col < d.MinCol() || col > d.cols {
		return fmt.Errorf("lcd1602: MoveTo(%d, %d) out of range", row, col)
	}
	return d.command(cmdSetDDRAM | (d.rowBase(row) + byte(col-1)))
}

// rowBase returns the DDRAM address of the first cell of a 1 based row. Rows
// interleave on these controllers: row 3 continues row 1.
func (d *Dev) rowBase(row int) byte {
	base := [4]byte{0x00, 0x40, byte(d.cols), 0x40 + byte(d.cols)}
	return base[row-1]
}

// CreateChar programs one of the eight CGRAM slots with a 5x8 glyph, one
// byte per line, top down, low 5 bits used. The glyph prints as character
// code slot. The cursor is left at Home afterwards.
func (d *Dev) CreateChar(slot byte, glyph [8]byte) error {
	if slot > 7 {
		return fmt.Errorf("lcd1602: CGRAM has 8 slots, no slot %d", slot)
	}
	if err := d.command(cmdSetCGRAM | slot<<3); err != nil {
		return err
	}
	// Straight to the data register: a glyph line is free to collide
	// with cmdByte, so Write's routing cannot be used here.
	if err := d.rs.Out(gpio.High); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	for _, b := range glyph {
		if err := d.writeByte(b & 0x1f); err != nil {
			return err
		}
		sleep(writeSettle)
	}
	return d.Home()
}

// Write sends characters at the cursor position. A payload starting with
// 0xfe is routed to the command register instead, one command per following
// byte.
func (d *Dev) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if p[0] == cmdByte {
		for _, c := range p[1:] {
			if err := d.command(c); err != nil {
				return 0, err
			}
		}
		return len(p) - 1, nil
	}
	if err := d.rs.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("lcd1602: %w", err)
	}
	n := 0
	for _, b := range p {
		if err := d.writeByte(b); err != nil {
			return n, err
		}
		n++
		sleep(writeSettle)
	}
	return n, nil
}

// WriteString sends a string at the cursor position.
func (d *Dev) WriteString(text string) (int, error) {
	return d.Write([]byte(text))
}

// Backlight sets the backlight on or off; intermediate intensities are not
// supported by the on/off line. Without a backlight pin this is a no-op.
func (d *Dev) Backlight(intensity display.Intensity) error {
	if d.backlight == nil {
		return nil
	}
	if err := d.backlight.Out(gpio.Level(intensity > 0)); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	return nil
}

// Halt clears and shuts the display and releases the pins.
func (d *Dev) Halt() error {
	_ = d.Clear()
	_ = d.Display(false)
	_ = d.Backlight(0)
	pins := []gpio.PinOut{d.rs, d.e, d.data[0], d.data[1], d.data[2], d.data[3]}
	if d.backlight != nil {
		pins = append(pins, d.backlight)
	}
	var err error
	for _, p := range pins {
		if e := p.Halt(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (d *Dev) String() string {
	return fmt.Sprintf("lcd1602{%dx%d, rs=%s}", d.cols, d.rows, d.rs)
}

// displayCtl pushes the on/cursor/blink state to the chip.
func (d *Dev) displayCtl() error {
	cmd := cmdDisplayCtl
	if d.on {
		cmd |= 0x04
	}
	if d.cursor {
		cmd |= 0x02
	}
	if d.blink {
		cmd |= 0x01
	}
	return d.command(cmd)
}

func (d *Dev) command(c byte) error {
	if err := d.rs.Out(gpio.Low); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	if err := d.writeByte(c); err != nil {
		return err
	}
	if c == cmdClear || c == cmdHome {
		sleep(clearSettle)
	} else {
		sleep(writeSettle)
	}
	return nil
}

func (d *Dev) writeByte(b byte) error {
	if err := d.writeNibble(b >> 4); err != nil {
		return err
	}
	return d.writeNibble(b & 0x0f)
}

func (d *Dev) writeNibble(nib byte) error {
	for i, p := range d.data {
		if err := p.Out(gpio.Level(nib&(1<<i) != 0)); err != nil {
			return fmt.Errorf("lcd1602: %w", err)
		}
	}
	return d.pulse()
}

// pulse latches the data lines with a falling edge on E.
func (d *Dev) pulse() error {
	if err := d.e.Out(gpio.High); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	sleep(time.Microsecond)
	if err := d.e.Out(gpio.Low); err != nil {
		return fmt.Errorf("lcd1602: %w", err)
	}
	return nil
}

var _ display.TextDisplay = &Dev{}
var _ display.DisplayBacklight = &Dev{}
var _ conn.Resource = &Dev{}
