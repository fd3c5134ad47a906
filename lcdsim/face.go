// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lcdsim

import (
	"image/color"
	"io"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Snapshot geometry in pixels.
const (
	cellW  = 22
	cellH  = 34
	margin = 18
)

var (
	litGlass  = color.NRGBA{R: 0x9c, G: 0xd6, B: 0x5d, A: 255}
	darkGlass = color.NRGBA{R: 0x5a, G: 0x6e, B: 0x3a, A: 255}
	ink       = color.NRGBA{R: 0x20, G: 0x30, B: 0x10, A: 255}
)

var (
	faceOnce sync.Once
	lcdFace  font.Face
	faceErr  error
)

// snapshotFace parses the bundled Go Regular face once.
func snapshotFace() (font.Face, error) {
	faceOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			faceErr = err
			return
		}
		lcdFace = truetype.NewFace(f, &truetype.Options{Size: 24})
	})
	return lcdFace, faceErr
}

// Snapshot renders the current glass to w as a PNG: bezel, glass and
// characters, honoring the display and backlight state. Useful for lab
// reports and bug reports alike.
func (d *Dev) Snapshot(w io.Writer) error {
	face, err := snapshotFace()
	if err != nil {
		return err
	}

	width := 2*margin + d.cols*cellW
	height := 2*margin + d.rows*cellH
	dc := gg.NewContext(width, height)

	bezel := darkBezel
	glass := darkGlass
	if d.backlight {
		bezel = backlitBezel
	}
	if d.on && d.backlight {
		glass = litGlass
	}
	dc.SetColor(bezel)
	dc.Clear()
	dc.SetColor(glass)
	dc.DrawRoundedRectangle(float64(margin)/2, float64(margin)/2,
		float64(width-margin), float64(height-margin), 6)
	dc.Fill()

	if d.on {
		dc.SetFontFace(face)
		dc.SetColor(ink)
		for r, row := range d.cells {
			for c, b := range row {
				x := float64(margin + c*cellW + cellW/2)
				y := float64(margin + r*cellH + cellH/2)
				dc.DrawStringAnchored(string(d.glyph(b)), x, y, 0.5, 0.5)
			}
		}
	}
	return dc.EncodePNG(w)
}
