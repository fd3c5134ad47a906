// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devices is a container for the GPA788 lab bench drivers: the dhtxx
// single wire humidity/temperature sensor, the lcd1602 character display and
// its lcdsim terminal stand-in. cmd/envlab ties them into the bench demo.
package devices
