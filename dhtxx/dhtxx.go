// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dhtxx provides a driver for the AOSONG DHT family of
// humidity/temperature sensors (DHT11, DHT21/AM2301, DHT22/AM2302, DHT33,
// DHT44). The sensor shares a single bidirectional line with the host and
// has no UART/SPI/I2C support: the host requests a sample by holding the
// line low, then recovers 40 response bits from the width of the high pulses
// the sensor drives back, all under microsecond timing.
//
// Reads are bit-banged with bounded busy-polling and are therefore sensitive
// to scheduling jitter. The driver turns the garbage collector off for the
// duration of the timing-critical window, but on a loaded host an occasional
// TimeoutError or ChecksumError is still normal; retry on the next cycle.
//
// # Datasheet
//
// https://www.sparkfun.com/datasheets/Sensors/Temperature/DHT22.pdf
package dhtxx

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Model identifies which sensor of the DHT family is wired to the line. It
// selects the wake-up delay of the request signal and how Sense decodes the
// frame: the DHT11 reports whole units, every other model reports tenths
// with a sign flag on the temperature.
type Model int

const (
	DHT11 Model = iota + 1
	DHT21
	DHT22
	DHT33
	DHT44
)

// String implements fmt.Stringer.
func (m Model) String() string {
	switch m {
	case DHT11:
		return "DHT11"
	case DHT21:
		return "DHT21"
	case DHT22:
		return "DHT22"
	case DHT33:
		return "DHT33"
	case DHT44:
		return "DHT44"
	default:
		return "DHT??"
	}
}

const (
	// Invalid is the sentinel reported by Humidity and Temperature when
	// the driver holds no valid reading: after construction, after
	// Reset, and after a read that timed out. It is a data marker only;
	// failures are reported through the errors the read methods return.
	Invalid float64 = -999

	// wakeup11 is the request hold time for the DHT11. The higher
	// resolution models wake on wakeupGeneric.
	wakeup11      = 18 * time.Millisecond
	wakeupGeneric = 1 * time.Millisecond

	// settle is how long the host keeps the line driven high between the
	// wake-up request and handing the line over to the sensor.
	settle = 40 * time.Microsecond

	// bitThreshold separates a 0 bit (26 to 28µs high pulse) from a
	// 1 bit (70µs).
	bitThreshold = 40 * time.Microsecond

	// minInterval is the shortest supported SenseContinuous period. The
	// sensors sample at 0.5Hz and self-heat when polled faster.
	minInterval = 2 * time.Second
)

// Hooks for tests that feed the driver a simulated sensor.
var (
	now   = time.Now
	sleep = time.Sleep
)

// Opts holds the options for New.
type Opts struct {
	// Model is the sensor variant assumed by Sense and Precision. It
	// does not restrict the explicit ReadNN methods.
	Model Model

	// Timeout is the wall-clock budget for each line transition during
	// an acquisition. It is an estimate: the driver waits by counting
	// polls rather than checking a clock, enforcing Timeout/ReadLatency
	// iterations per transition.
	Timeout time.Duration

	// ReadLatency is the estimated cost of one pin read on the host,
	// used to size the poll budget.
	ReadLatency time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Model:       DHT22,
	Timeout:     100 * time.Microsecond,
	ReadLatency: 250 * time.Nanosecond,
}

// New returns a handle to a DHT sensor wired to data line p. opts can be nil
// for DefaultOpts; zero fields fall back to their default.
//
// The returned Dev owns the line for the duration of each read and must not
// be copied.
func New(p gpio.PinIO, opts *Opts) (*Dev, error) {
	if p == nil {
		return nil, errors.New("dhtxx: a data pin is required")
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Model == 0 {
		o.Model = DefaultOpts.Model
	}
	if o.Model < DHT11 || o.Model > DHT44 {
		return nil, fmt.Errorf("dhtxx: unknown model %d", o.Model)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOpts.Timeout
	}
	if o.ReadLatency <= 0 {
		o.ReadLatency = DefaultOpts.ReadLatency
	}
	d := &Dev{
		pin:         p,
		opts:        o,
		budget:      int(o.Timeout / o.ReadLatency),
		humidity:    Invalid,
		temperature: Invalid,
	}
	if d.budget < 1 {
		d.budget = 1
	}
	return d, nil
}

// Dev is a handle to one DHT sensor on one GPIO line.
type Dev struct {
	pin    gpio.PinIO
	opts   Opts
	budget int

	mu          sync.Mutex
	frame       [5]byte
	humidity    float64
	temperature float64
	shutdown    chan struct{}
}

// Pin returns the data line the device was bound to at construction.
func (d *Dev) Pin() gpio.PinIO {
	return d.pin
}

// Humidity returns the relative humidity stored by the last read in %RH, or
// Invalid when there is none. DHT11 reads store whole percentages, the
// other models tenths.
func (d *Dev) Humidity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.humidity
}

// Temperature returns the temperature stored by the last read in °C, or
// Invalid when there is none.
func (d *Dev) Temperature() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.temperature
}

// Reset discards the stored reading, returning Humidity and Temperature to
// Invalid. The line is not touched.
func (d *Dev) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.humidity = Invalid
	d.temperature = Invalid
}

// Connected probes for a sensor by running a minimal acquisition and
// throwing the frame away. The stored reading is never modified, so it is
// safe to use as a liveness check between reads.
func (d *Dev) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquire(wakeupGeneric) == nil
}

// Read11 performs one acquisition with the DHT11 wake-up timing and decodes
// the frame as whole units: byte 0 is the humidity in %RH, byte 2 the
// temperature in °C. The fractional bytes are unused on this sensor.
//
// On timeout the stored reading is reset to Invalid. On a checksum mismatch
// the just-decoded values are kept alongside the returned *ChecksumError so
// the caller can inspect what the sensor sent; call Reset to discard them.
func (d *Dev) Read11() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.acquire(wakeup11); err != nil {
		d.humidity = Invalid
		d.temperature = Invalid
		return err
	}
	d.humidity = float64(d.frame[0])
	d.temperature = float64(d.frame[2])
	return d.verify()
}

// Read21 performs one acquisition and decodes the frame with tenth
// resolution, the format shared by every model above the DHT11. Timeout and
// checksum handling match Read11.
func (d *Dev) Read21() error { return d.readScaled() }

// Read22 reads a DHT22/AM2302. See Read21.
func (d *Dev) Read22() error { return d.readScaled() }

// Read33 reads a DHT33/RHT04. See Read21.
func (d *Dev) Read33() error { return d.readScaled() }

// Read44 reads a DHT44/RHT05. See Read21.
func (d *Dev) Read44() error { return d.readScaled() }

// readScaled decodes big-endian tenths: bytes 0-1 hold the humidity in
// 0.1%RH steps, bytes 2-3 the temperature magnitude in 0.1°C steps with the
// top bit of byte 2 flagging a negative value.
func (d *Dev) readScaled() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.acquire(wakeupGeneric); err != nil {
		d.humidity = Invalid
		d.temperature = Invalid
		return err
	}
	d.humidity = float64(uint16(d.frame[0])<<8|uint16(d.frame[1])) / 10
	t := float64(uint16(d.frame[2]&0x7f)<<8|uint16(d.frame[3])) / 10
	if d.frame[2]&0x80 != 0 {
		t = -t
	}
	d.temperature = t
	return d.verify()
}

// verify checks the additive checksum of a frame that completed
// acquisition. A timed out frame never gets here.
func (d *Dev) verify() error {
	if sum := d.frame[0] + d.frame[1] + d.frame[2] + d.frame[3]; sum != d.frame[4] {
		return &ChecksumError{Sum: sum, Checksum: d.frame[4]}
	}
	return nil
}

// acquire runs one request/response cycle and fills d.frame. The caller
// must hold d.mu.
//
// The host holds the line low for wakeup, drives it high for the settle
// window, then releases it. The sensor answers with a low-high
// acknowledgment followed by 40 bits MSB first, each a fixed low gap and a
// high pulse whose width encodes the bit.
func (d *Dev) acquire(wakeup time.Duration) error {
	d.frame = [5]byte{}

	if err := d.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("dhtxx: requesting sample: %w", err)
	}
	sleep(wakeup)
	if err := d.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("dhtxx: requesting sample: %w", err)
	}
	spin(settle)
	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("dhtxx: releasing the line: %w", err)
	}

	// The pulse widths are tens of microseconds. A GC pause inside this
	// window guarantees a corrupted frame.
	gcPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	// Acknowledgment.
	if !d.waitWhile(gpio.Low) {
		return &TimeoutError{}
	}
	if !d.waitWhile(gpio.High) {
		return &TimeoutError{}
	}

	mask := byte(0x80)
	idx := 0
	for i := 0; i < 40; i++ {
		if !d.waitWhile(gpio.Low) {
			return &TimeoutError{}
		}
		start := now()
		if !d.waitWhile(gpio.High) {
			return &TimeoutError{}
		}
		if now().Sub(start) > bitThreshold {
			d.frame[idx] |= mask
		}
		mask >>= 1
		if mask == 0 {
			mask = 0x80
			idx++
		}
	}

	// Park the line high until the next request.
	if err := d.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("dhtxx: parking the line: %w", err)
	}
	return nil
}

// waitWhile polls until the line leaves level l, returning false when the
// poll budget runs out first. Counting polls instead of checking a deadline
// keeps the loop body to a single pin read.
func (d *Dev) waitWhile(l gpio.Level) bool {
	for i := d.budget; i > 0; i-- {
		if d.pin.Read() != l {
			return true
		}
	}
	return false
}

// spin busy-waits. time.Sleep cannot hold a 40µs bound.
func spin(dur time.Duration) {
	start := now()
	for now().Sub(start) < dur {
	}
}

// Sense reads the sensor once and converts the reading to physic units,
// decoding for the Model given in Opts. Pressure is zeroed, the DHT family
// does not measure it.
func (d *Dev) Sense(e *physic.Env) error {
	e.Temperature = 0
	e.Pressure = 0
	e.Humidity = 0

	var err error
	if d.opts.Model == DHT11 {
		err = d.Read11()
	} else {
		err = d.readScaled()
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := math.Round(d.humidity * 10)
	t := math.Round(d.temperature * 10)
	e.Humidity = physic.RelativeHumidity(h) * physic.MilliRH
	e.Temperature = physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(t)
	return nil
}

// SenseContinuous returns a channel of readings taken every interval. The
// sensors sample at 0.5Hz, so interval must be at least 2 seconds. Cycles
// that fail are skipped. Call Halt to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < minInterval {
		return nil, fmt.Errorf("dhtxx: minimum interval is %s", minInterval)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		return nil, errors.New("dhtxx: already sensing continuously")
	}
	d.shutdown = make(chan struct{})
	stop := d.shutdown
	ch := make(chan physic.Env, 16)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				close(ch)
				return
			case <-t.C:
				e := physic.Env{}
				if err := d.Sense(&e); err == nil {
					ch <- e
				}
			}
		}
	}()
	return ch, nil
}

// Halt interrupts a running SenseContinuous. The stored reading survives.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		close(d.shutdown)
		d.shutdown = nil
	}
	return nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	if d.opts.Model == DHT11 {
		e.Temperature = physic.Celsius
		e.Humidity = physic.PercentRH
	} else {
		e.Temperature = physic.Celsius / 10
		e.Humidity = physic.MilliRH
	}
	e.Pressure = 0
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.opts.Model, d.pin)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
