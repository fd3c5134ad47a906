// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lcdsim emulates a character LCD in the terminal, repainting a
// bordered glass with ANSI colors on every change. It implements the same
// display.TextDisplay contract as the real panels, so the lab loop can run
// on a laptop while the wiring is still in a drawer.
//
// The cursor position is tracked faithfully but not drawn. Snapshot renders
// the same glass to a PNG for reports.
package lcdsim

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
)

// cmdByte starts a command payload, mirroring the GPIO driver's Write
// contract.
const cmdByte byte = 0xfe

// defaultCharmap covers the one ROM A00 code the lab uses beyond ASCII.
var defaultCharmap = map[byte]rune{0xdf: '°'}

var (
	backlitBezel = color.NRGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 255}
	darkBezel    = color.NRGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 255}
)

// Opts represents the options available for this display.
type Opts struct {
	// Writer receives the repaints. Defaults to a colorable stdout.
	Writer io.Writer
	// Palette converts the bezel color for the terminal.
	Palette *ansi256.Palette
	// Rows and Cols default to 2x16.
	Rows, Cols int
	// Charmap adds or overrides glass code to rune translations on top
	// of ASCII and the defaults, e.g. CGRAM slots.
	Charmap map[byte]rune

	_ struct{}
}

// Dev is a simulated character LCD.
type Dev struct {
	w       io.Writer
	palette ansi256.Palette
	rows    int
	cols    int
	charmap map[byte]rune

	cells      [][]byte
	row, col   int
	on         bool
	backlight  bool
	autoScroll bool
	cursor     bool
	blink      bool
	painted    bool
	buf        bytes.Buffer
}

// New returns a Dev that displays in the terminal.
//
// Permits local testing of the display loop without the glass.
func New(opts *Opts) *Dev {
	o := opts
	if o == nil {
		o = &Opts{}
	}
	w := o.Writer
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	p := o.Palette
	if p == nil {
		p = ansi256.Default
	}
	rows, cols := o.Rows, o.Cols
	if rows < 1 {
		rows = 2
	}
	if cols < 1 {
		cols = 16
	}
	charmap := make(map[byte]rune, len(defaultCharmap)+len(o.Charmap))
	for b, r := range defaultCharmap {
		charmap[b] = r
	}
	for b, r := range o.Charmap {
		charmap[b] = r
	}
	d := &Dev{
		w:         w,
		palette:   *p,
		rows:      rows,
		cols:      cols,
		charmap:   charmap,
		cells:     make([][]byte, rows),
		on:        true,
		backlight: true,
	}
	for i := range d.cells {
		d.cells[i] = bytes.Repeat([]byte{' '}, cols)
	}
	return d
}

// AutoScroll selects what happens when a write passes the last column: wrap
// to the next row (on) or keep overwriting the last cell (off).
func (d *Dev) AutoScroll(enabled bool) error {
	d.autoScroll = enabled
	return nil
}

// Clear clears the glass and moves the cursor home.
func (d *Dev) Clear() error {
	for i := range d.cells {
		for j := range d.cells[i] {
			d.cells[i][j] = ' '
		}
	}
	d.row, d.col = 0, 0
	return d.refresh()
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

// Cursor sets the cursor style. The style is tracked, not drawn.
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
			return fmt.Errorf("lcdsim: unexpected cursor mode %d", mode)
		}
	}
	return nil
}

// Display turns the glass on or off. Content written while off is kept and
// reappears when turned back on.
func (d *Dev) Display(on bool) error {
	d.on = on
	return d.refresh()
}

// Home moves the cursor to (MinRow, MinCol).
func (d *Dev) Home() error {
	d.row, d.col = 0, 0
	return nil
}

// Move moves the cursor one cell. All four directions are supported.
func (d *Dev) Move(dir display.CursorDirection) error {
	switch dir {
	case display.Forward:
		if d.col < d.cols-1 {
			d.col++
		}
	case display.Backward:
		if d.col > 0 {
			d.col--
		}
	case display.Down:
		if d.row < d.rows-1 {
			d.row++
		}
	case display.Up:
		if d.row > 0 {
			d.row--
		}
	default:
		return fmt.Errorf("lcdsim: unexpected direction %d", dir)
	}
	return nil
}

// MoveTo moves the cursor to an arbitrary position, 1 based.
func (d *Dev) MoveTo(row, col int) error {
	if row < d.MinRow() || row > d.rows || col < d.MinCol() || col > d.cols {
		return fmt.Errorf("lcdsim: MoveTo(%d, %d) out of range", row, col)
	}
	d.row, d.col = row-1, col-1
	return nil
}

// Write puts characters on the glass at the cursor. A payload starting with
// 0xfe is interpreted as commands like the GPIO driver does: clear, home and
// set-address are emulated, anything else is dropped.
func (d *Dev) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if p[0] == cmdByte {
		for _, c := range p[1:] {
			switch {
			case c == 0x01:
				if err := d.Clear(); err != nil {
					return 0, err
				}
			case c == 0x02:
				_ = d.Home()
			case c&0x80 != 0:
				d.seek(c &^ 0x80)
			}
		}
		return len(p) - 1, nil
	}
	for _, b := range p {
		d.cells[d.row][d.col] = b
		d.advance()
	}
	if err := d.refresh(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString puts a string on the glass at the cursor.
func (d *Dev) WriteString(text string) (int, error) {
	return d.Write([]byte(text))
}

// Backlight above zero tints the bezel lit, zero turns it dark.
func (d *Dev) Backlight(intensity display.Intensity) error {
	d.backlight = intensity > 0
	return d.refresh()
}

// Halt blanks the glass and releases the terminal with a reset sequence.
func (d *Dev) Halt() error {
	d.on = false
	if err := d.refresh(); err != nil {
		return err
	}
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

func (d *Dev) String() string {
	return fmt.Sprintf("LCDSim{%dx%d}", d.cols, d.rows)
}

// seek decodes a DDRAM address the way the panels lay rows out: row 3
// continues row 1.
func (d *Dev) seek(addr byte) {
	bases := []int{0x00, 0x40, d.cols, 0x40 + d.cols}
	for r := d.rows - 1; r >= 0; r-- {
		if int(addr) >= bases[r] && int(addr) < bases[r]+d.cols {
			d.row, d.col = r, int(addr)-bases[r]
			return
		}
	}
}

// advance moves the cursor past a written cell.
func (d *Dev) advance() {
	if d.col < d.cols-1 {
		d.col++
		return
	}
	if !d.autoScroll {
		return
	}
	d.col = 0
	d.row++
	if d.row == d.rows {
		d.row = 0
	}
}

// glyph translates one glass code for terminal output.
func (d *Dev) glyph(b byte) rune {
	if r, ok := d.charmap[b]; ok {
		return r
	}
	if b >= 0x20 && b < 0x7f {
		return rune(b)
	}
	return '?'
}

// refresh repaints the whole glass in place.
func (d *Dev) refresh() error {
	bezel := darkBezel
	if d.backlight {
		bezel = backlitBezel
	}
	block := d.palette.Block(bezel)

	// This code is designed to minimize the amount of memory allocated
	// per repaint.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r")
	if d.painted {
		_, _ = fmt.Fprintf(&d.buf, "\033[%dA", d.rows+1)
	}
	for i := 0; i < d.cols+2; i++ {
		_, _ = d.buf.WriteString(block)
	}
	for _, row := range d.cells {
		_, _ = d.buf.WriteString("\n")
		_, _ = d.buf.WriteString(block)
		_, _ = d.buf.WriteString("\033[0m")
		for _, b := range row {
			if d.on {
				_, _ = d.buf.WriteRune(d.glyph(b))
			} else {
				_, _ = d.buf.WriteRune(' ')
			}
		}
		_, _ = d.buf.WriteString(block)
	}
	_, _ = d.buf.WriteString("\n")
	for i := 0; i < d.cols+2; i++ {
		_, _ = d.buf.WriteString(block)
	}
	_, _ = d.buf.WriteString("\033[0m")
	d.painted = true
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ display.TextDisplay = &Dev{}
var _ display.DisplayBacklight = &Dev{}
var _ conn.Resource = &Dev{}
