// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion owns the three cooperating rate loops (IMU, GPS,
// emit) and the heading-selection policy that picks between AHRS yaw
// and GPS track, per spec.md §4.6.
package fusion

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/navit-daemon/internal/ahrs"
	"github.com/relabs-tech/navit-daemon/internal/gps"
	"github.com/relabs-tech/navit-daemon/internal/imu"
	"github.com/relabs-tech/navit-daemon/internal/nmea"
)

// Broadcaster is the minimal surface the emit loop needs from the NMEA
// server; satisfied by *nmea.Server.
type Broadcaster interface {
	Broadcast(sentence string)
}

// Engine runs the fusion pipeline: poll IMU at imuRateHz feeding the
// AHRS filter, poll GPS asynchronously, and emit NMEA at outputRateHz
// using the heading-selection policy.
type Engine struct {
	imuSource imu.Source
	gpsSource gps.Source
	filter    ahrs.Filter
	broadcast Broadcaster

	imuRateHz    float64
	outputRateHz float64

	fixMu   sync.Mutex
	lastFix *gps.Fix

	yawMu sync.Mutex
	yaw   float64
	yawOK bool
}

// NewEngine wires the four collaborators together.
func NewEngine(imuSource imu.Source, gpsSource gps.Source, filter ahrs.Filter, broadcast Broadcaster, imuRateHz, outputRateHz float64) *Engine {
	return &Engine{
		imuSource:    imuSource,
		gpsSource:    gpsSource,
		filter:       filter,
		broadcast:    broadcast,
		imuRateHz:    imuRateHz,
		outputRateHz: outputRateHz,
	}
}

// Run starts the three loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		e.runIMULoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runGPSLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runEmitLoop(ctx)
	}()

	wg.Wait()
}

func (e *Engine) runIMULoop(ctx context.Context) {
	period := time.Duration(float64(time.Second) / e.imuRateHz)
	dtS := 1.0 / e.imuRateHz

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := e.imuSource.ReadIMU()
			if err != nil {
				log.Printf("imu loop: read error: %v", err)
				continue
			}
			if sample == nil {
				continue
			}

			e.filter.Update(sample.Gyro, sample.Accel, sample.Mag, dtS)

			if e.filter.Initialized() {
				e.yawMu.Lock()
				e.yaw = e.filter.YawDeg()
				e.yawOK = true
				e.yawMu.Unlock()
			}
		}
	}
}

func (e *Engine) runGPSLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		fix, err := e.gpsSource.ReadFix()
		if err != nil {
			log.Printf("gps loop: read error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if fix != nil {
			e.fixMu.Lock()
			e.lastFix = fix
			e.fixMu.Unlock()
		} else {
			// No fresh fix this poll; back off briefly rather than
			// spinning the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (e *Engine) runEmitLoop(ctx context.Context) {
	period := time.Duration(float64(time.Second) / e.outputRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitOnce()
		}
	}
}

func (e *Engine) emitOnce() {
	e.fixMu.Lock()
	fix := e.lastFix
	e.fixMu.Unlock()

	if fix == nil || !fix.Valid {
		return
	}

	heading := e.selectHeading(*fix)

	e.broadcast.Broadcast(nmea.BuildGGA(fix.Lat, fix.Lon, fix.Alt, fix.FixQuality, fix.NumSats, fix.HDOP, fix.TimeISO))
	e.broadcast.Broadcast(nmea.BuildRMC(fix.Lat, fix.Lon, fix.SpeedMS, heading, fix.Valid, fix.TimeISO))
}

// selectHeading implements spec.md §4.6's key design choice: trust GPS
// track once the vehicle is moving fast enough for it to be reliable,
// otherwise prefer AHRS yaw once it has converged, falling back to the
// (possibly zero) GPS track when neither is usable.
func (e *Engine) selectHeading(fix gps.Fix) float64 {
	if fix.SpeedMS > 0.5 {
		return fix.Track
	}

	e.yawMu.Lock()
	yaw, ok := e.yaw, e.yawOK
	e.yawMu.Unlock()
	if ok {
		return yaw
	}
	return fix.Track
}
