// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tarm/serial"

	"github.com/gpa788/devices/dhtxx"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	// disconnectQuiesce is how long Close lets a pending publish finish,
	// in milliseconds as paho wants it.
	disconnectQuiesce = 250
)

// uplink carries readings off the bench: an optional serial console mirror
// of the log and an optional MQTT publisher. The zero uplink mirrors
// nothing and is safe to use.
type uplink struct {
	port   io.Closer   // serial mirror, nil when not configured
	client mqtt.Client // nil when not configured
	topic  string
}

// reading is the JSON payload published for every successful sample.
type reading struct {
	Model       string    `json:"model"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
	Time        time.Time `json:"time"`
}

// newUplink opens the configured mirrors. The serial console receives a copy
// of everything the demo logs, at the bench monitor's baud rate; the MQTT
// connection is established eagerly so a bad broker address fails the start
// instead of the first reading.
func newUplink(cfg UplinkConfig) (*uplink, error) {
	u := &uplink{topic: cfg.Topic}
	if cfg.Serial != "" {
		port, err := serial.OpenPort(&serial.Config{Name: cfg.Serial, Baud: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("envlab: opening serial mirror: %w", err)
		}
		u.port = port
		log.SetOutput(io.MultiWriter(os.Stderr, port))
	}
	if cfg.Broker != "" {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(cfg.Broker)
		opts.SetClientID(cfg.ClientID)
		opts.SetConnectTimeout(connectTimeout)
		opts.SetAutoReconnect(true)
		client := mqtt.NewClient(opts)
		t := client.Connect()
		if !t.WaitTimeout(connectTimeout) {
			u.Close()
			return nil, fmt.Errorf("envlab: connecting to %s: timeout", cfg.Broker)
		}
		if err := t.Error(); err != nil {
			u.Close()
			return nil, fmt.Errorf("envlab: connecting to %s: %w", cfg.Broker, err)
		}
		u.client = client
	}
	return u, nil
}

// publish sends one reading at QoS 1. Failures are logged, not returned: the
// bench keeps cycling and the next sample gets another chance.
func (u *uplink) publish(model dhtxx.Model, humidity, temperature float64) {
	if u.client == nil {
		return
	}
	payload, err := json.Marshal(reading{
		Model:       model.String(),
		Humidity:    humidity,
		Temperature: temperature,
		Time:        time.Now(),
	})
	if err != nil {
		log.Printf("uplink: %v", err)
		return
	}
	t := u.client.Publish(u.topic, 1, false, payload)
	if !t.WaitTimeout(publishTimeout) {
		log.Printf("uplink: publish to %s timed out", u.topic)
		return
	}
	if err := t.Error(); err != nil {
		log.Printf("uplink: %v", err)
	}
}

// Close shuts the mirrors down. The log goes back to stderr alone first so
// nothing is written to a closing port.
func (u *uplink) Close() {
	if u.client != nil {
		u.client.Disconnect(disconnectQuiesce)
		u.client = nil
	}
	if u.port != nil {
		log.SetOutput(os.Stderr)
		_ = u.port.Close()
		u.port = nil
	}
}
