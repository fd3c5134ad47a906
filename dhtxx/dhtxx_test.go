// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// simClock is a fake microsecond clock. Every observation advances it one
// step so the driver's busy loops always make progress.
type simClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *simClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Microsecond)
	return c.t
}

func (c *simClock) sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func stubClock(t *testing.T) *simClock {
	t.Helper()
	c := &simClock{t: time.Unix(0, 0)}
	oldNow, oldSleep := now, sleep
	now, sleep = c.now, c.sleep
	t.Cleanup(func() {
		now, sleep = oldNow, oldSleep
	})
	return c
}

// segment is one constant-level stretch of a simulated sensor response.
type segment struct {
	level gpio.Level
	width time.Duration
}

// simPin plays a response waveform against the driver. The level read is a
// function of the time elapsed since the driver released the line, and each
// read costs one clock step like a real pin access. Outside the waveform the
// line floats at idle.
type simPin struct {
	clock    *simClock
	waveform []segment
	idle     gpio.Level

	listening bool
	released  time.Time
	outs      []gpio.Level
}

func newSimPin(c *simClock, waveform []segment) *simPin {
	return &simPin{clock: c, waveform: waveform, idle: gpio.High}
}

func (p *simPin) Out(l gpio.Level) error {
	p.listening = false
	p.outs = append(p.outs, l)
	return nil
}

func (p *simPin) In(gpio.Pull, gpio.Edge) error {
	p.released = p.clock.now()
	p.listening = true
	return nil
}

func (p *simPin) Read() gpio.Level {
	t := p.clock.now()
	if !p.listening {
		return p.idle
	}
	off := t.Sub(p.released)
	for _, s := range p.waveform {
		if off < s.width {
			return s.level
		}
		off -= s.width
	}
	return p.idle
}

func (p *simPin) Name() string                   { return "SIM1" }
func (p *simPin) Number() int                    { return 1 }
func (p *simPin) Function() string               { return "DHT" }
func (p *simPin) String() string                 { return p.Name() }
func (p *simPin) Halt() error                    { return nil }
func (p *simPin) Pull() gpio.Pull                { return gpio.PullUp }
func (p *simPin) DefaultPull() gpio.Pull         { return gpio.PullUp }
func (p *simPin) WaitForEdge(time.Duration) bool { return false }
func (p *simPin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("simulated pin cannot pwm")
}

var _ gpio.PinIO = &simPin{}

// response builds the sensor's answer for frame: the acknowledgment, then 40
// bits MSB first where a 1 is a wide high pulse.
func response(frame [5]byte) []segment {
	s := []segment{
		{gpio.Low, 80 * time.Microsecond},
		{gpio.High, 80 * time.Microsecond},
	}
	for _, b := range frame {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			s = append(s, segment{gpio.Low, 50 * time.Microsecond})
			w := 26 * time.Microsecond
			if b&mask != 0 {
				w = 70 * time.Microsecond
			}
			s = append(s, segment{gpio.High, w})
		}
	}
	s = append(s, segment{gpio.Low, 50 * time.Microsecond})
	return s
}

// simOpts sizes the poll budget for the 1µs-per-read simulated clock.
var simOpts = Opts{Timeout: 200 * time.Microsecond, ReadLatency: time.Microsecond}

func simDev(t *testing.T, frame [5]byte) (*Dev, *simPin) {
	t.Helper()
	c := stubClock(t)
	p := newSimPin(c, response(frame))
	d, err := New(p, &simOpts)
	if err != nil {
		t.Fatal(err)
	}
	return d, p
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected an error for a nil pin")
	}
	if _, err := New(&simPin{}, &Opts{Model: Model(42)}); err == nil {
		t.Fatal("expected an error for an unknown model")
	}
	d, err := New(&simPin{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.opts != DefaultOpts {
		t.Errorf("got opts %+v, want DefaultOpts", d.opts)
	}
	if d.budget != 400 {
		t.Errorf("got default poll budget %d, want 400", d.budget)
	}
	if d.Humidity() != Invalid || d.Temperature() != Invalid {
		t.Errorf("a new device must hold no reading, got %v / %v", d.Humidity(), d.Temperature())
	}
}

func TestReadScaled(t *testing.T) {
	tests := []struct {
		name  string
		frame [5]byte
		wantH float64
		wantT float64
	}{
		{"positive", [5]byte{0x01, 0xca, 0x00, 0xef, 0xba}, 45.8, 23.9},
		{"negative", [5]byte{0x01, 0xf4, 0x80, 0x05, 0x7a}, 50.0, -0.5},
		{"zero", [5]byte{0x00, 0x00, 0x00, 0x00, 0x00}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := simDev(t, tt.frame)
			for _, read := range []func() error{d.Read21, d.Read22, d.Read33, d.Read44} {
				if err := read(); err != nil {
					t.Fatal(err)
				}
				if h := d.Humidity(); h != tt.wantH {
					t.Errorf("got humidity %v, want %v", h, tt.wantH)
				}
				if temp := d.Temperature(); temp != tt.wantT {
					t.Errorf("got temperature %v, want %v", temp, tt.wantT)
				}
			}
		})
	}
}

func TestReadPacked(t *testing.T) {
	d, p := simDev(t, [5]byte{45, 0, 23, 0, 68})
	if err := d.Read11(); err != nil {
		t.Fatal(err)
	}
	if h := d.Humidity(); h != 45.0 {
		t.Errorf("got humidity %v, want 45.0", h)
	}
	if temp := d.Temperature(); temp != 23.0 {
		t.Errorf("got temperature %v, want 23.0", temp)
	}
	if n := len(p.outs); n == 0 || p.outs[n-1] != gpio.High {
		t.Error("the line must be parked high after a successful read")
	}

	// Fractional bytes count toward the checksum but not the reading.
	d, _ = simDev(t, [5]byte{45, 7, 23, 9, 84})
	if err := d.Read11(); err != nil {
		t.Fatal(err)
	}
	if d.Humidity() != 45.0 || d.Temperature() != 23.0 {
		t.Errorf("got %v / %v, want 45.0 / 23.0", d.Humidity(), d.Temperature())
	}
}

// A 40 bit pattern of alternating pulse widths must land in the frame MSB
// first, byte by byte.
func TestBitPacking(t *testing.T) {
	d, _ := simDev(t, [5]byte{0xaa, 0x55, 0xaa, 0x55, 0xfe})
	if err := d.Read22(); err != nil {
		t.Fatal(err)
	}
	if got := d.frame; got != [5]byte{0xaa, 0x55, 0xaa, 0x55, 0xfe} {
		t.Errorf("got frame %#v", got)
	}
	if h := d.Humidity(); h != 4360.5 {
		t.Errorf("got humidity %v, want 4360.5", h)
	}
	if temp := d.Temperature(); temp != -1083.7 {
		t.Errorf("got temperature %v, want -1083.7", temp)
	}
}

func TestChecksumMismatchKeepsDecoded(t *testing.T) {
	d, _ := simDev(t, [5]byte{0x01, 0xca, 0x00, 0xef, 0x00})
	err := d.Read22()
	var cerr *ChecksumError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want a *ChecksumError", err)
	}
	if cerr.Sum != 0xba || cerr.Checksum != 0x00 {
		t.Errorf("got sum %#02x checksum %#02x, want 0xba and 0x00", cerr.Sum, cerr.Checksum)
	}
	// The unvalidated decode stays readable until the caller discards it.
	if d.Humidity() != 45.8 || d.Temperature() != 23.9 {
		t.Errorf("got %v / %v, want the decoded 45.8 / 23.9", d.Humidity(), d.Temperature())
	}
	d.Reset()
	if d.Humidity() != Invalid || d.Temperature() != Invalid {
		t.Error("Reset must return both values to Invalid")
	}

	d, _ = simDev(t, [5]byte{45, 0, 23, 0, 99})
	if err := d.Read11(); !errors.As(err, &cerr) {
		t.Fatalf("got %v, want a *ChecksumError", err)
	}
	if d.Humidity() != 45.0 || d.Temperature() != 23.0 {
		t.Errorf("got %v / %v, want the decoded 45.0 / 23.0", d.Humidity(), d.Temperature())
	}
}

func TestTimeoutResetsReading(t *testing.T) {
	tests := []struct {
		name     string
		waveform []segment
	}{
		{"no response", nil},
		{"stuck low", []segment{{gpio.Low, time.Hour}}},
		{"truncated frame", response([5]byte{0x01, 0xca, 0x00, 0xef, 0xba})[:12]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := stubClock(t)
			good := newSimPin(c, response([5]byte{0x01, 0xca, 0x00, 0xef, 0xba}))
			d, err := New(good, &simOpts)
			if err != nil {
				t.Fatal(err)
			}
			if err := d.Read22(); err != nil {
				t.Fatal(err)
			}

			good.waveform = tt.waveform
			err = d.Read22()
			var terr *TimeoutError
			if !errors.As(err, &terr) {
				t.Fatalf("got %v, want a *TimeoutError", err)
			}
			if d.Humidity() != Invalid || d.Temperature() != Invalid {
				t.Errorf("got %v / %v, want Invalid after a timeout", d.Humidity(), d.Temperature())
			}

			if err := d.Read11(); !errors.As(err, &terr) {
				t.Fatalf("got %v, want a *TimeoutError", err)
			}
		})
	}
}

func TestConnected(t *testing.T) {
	d, p := simDev(t, [5]byte{0x01, 0xca, 0x00, 0xef, 0xba})
	if !d.Connected() {
		t.Fatal("a responding sensor must report connected")
	}
	// The probe never touches the reading, in either direction.
	if d.Humidity() != Invalid || d.Temperature() != Invalid {
		t.Error("Connected must not store a reading")
	}
	if err := d.Read22(); err != nil {
		t.Fatal(err)
	}
	p.waveform = nil
	if d.Connected() {
		t.Fatal("a mute sensor must report not connected")
	}
	if d.Humidity() != 45.8 || d.Temperature() != 23.9 {
		t.Errorf("got %v / %v, a failed probe must not clear the reading", d.Humidity(), d.Temperature())
	}
}

func TestSense(t *testing.T) {
	c := stubClock(t)
	p := newSimPin(c, response([5]byte{0x01, 0xca, 0x00, 0xef, 0xba}))
	d, err := New(p, &Opts{Model: DHT22, Timeout: simOpts.Timeout, ReadLatency: simOpts.ReadLatency})
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{Pressure: physic.MilliPascal}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := physic.RelativeHumidity(458) * physic.MilliRH; e.Humidity != want {
		t.Errorf("got %s, want %s", e.Humidity, want)
	}
	if want := physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(239); e.Temperature != want {
		t.Errorf("got %s, want %s", e.Temperature, want)
	}
	if e.Pressure != 0 {
		t.Errorf("got pressure %s, want it zeroed", e.Pressure)
	}

	p.waveform = response([5]byte{0x01, 0xf4, 0x80, 0x05, 0x7a})
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(-5); e.Temperature != want {
		t.Errorf("got %s, want %s below freezing", e.Temperature, want)
	}
}

func TestSenseDHT11(t *testing.T) {
	c := stubClock(t)
	p := newSimPin(c, response([5]byte{45, 0, 23, 0, 68}))
	d, err := New(p, &Opts{Model: DHT11, Timeout: simOpts.Timeout, ReadLatency: simOpts.ReadLatency})
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if want := physic.RelativeHumidity(45) * physic.PercentRH; e.Humidity != want {
		t.Errorf("got %s, want %s", e.Humidity, want)
	}
	if want := physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(230); e.Temperature != want {
		t.Errorf("got %s, want %s", e.Temperature, want)
	}
}

func TestPrecision(t *testing.T) {
	d, _ := simDev(t, [5]byte{})
	e := physic.Env{}
	d.Precision(&e)
	if e.Temperature != physic.Celsius/10 || e.Humidity != physic.MilliRH {
		t.Errorf("got %s / %s, want tenth resolution", e.Temperature, e.Humidity)
	}

	c := stubClock(t)
	d, err := New(newSimPin(c, nil), &Opts{Model: DHT11})
	if err != nil {
		t.Fatal(err)
	}
	d.Precision(&e)
	if e.Temperature != physic.Celsius || e.Humidity != physic.PercentRH {
		t.Errorf("got %s / %s, want whole unit resolution", e.Temperature, e.Humidity)
	}
}

func TestSenseContinuous(t *testing.T) {
	d, _ := simDev(t, [5]byte{0x01, 0xca, 0x00, 0xef, 0xba})
	if _, err := d.SenseContinuous(time.Second); err == nil {
		t.Fatal("an interval below the sensor sample rate must be rejected")
	}
	ch, err := d.SenseContinuous(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.SenseContinuous(2 * time.Second); err == nil {
		t.Fatal("a second continuous sense must be rejected while one runs")
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
		t.Fatal("no reading expected before the first tick")
	}
	// Idempotent.
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestString(t *testing.T) {
	d, _ := simDev(t, [5]byte{})
	if s := d.String(); s != "DHT22{SIM1}" {
		t.Errorf("got %q", s)
	}
}
