// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import "fmt"

// TimeoutError is returned when the sensor does not produce a required line
// transition within the poll budget. It usually means no sensor is wired to
// the pin, or the host was descheduled for longer than the protocol allows.
// A read that fails this way resets the stored reading to Invalid.
type TimeoutError struct {
}

func (e *TimeoutError) Error() string {
	return "dhtxx: timeout waiting for the sensor"
}

// ChecksumError is returned when a frame was received in full but its
// trailing checksum byte disagrees with the additive sum of the four data
// bytes. Sum is the computed value, Checksum what the sensor sent. The
// decoded but unvalidated reading is kept; see Read11.
type ChecksumError struct {
	Sum      byte
	Checksum byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("dhtxx: checksum mismatch: computed %#02x, sensor sent %#02x", e.Sum, e.Checksum)
}
