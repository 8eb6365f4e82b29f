// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration holds static bias/offset correction and online
// gyro-bias estimation for the fusion pipeline, plus the wrapper and
// control server that expose it to the rest of the daemon.
package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/relabs-tech/navit-daemon/internal/imu"
)

// Calibration is the static correction applied to every raw IMU sample.
// Zero value is the identity calibration.
type Calibration struct {
	GyroBias    imu.Vec3 `json:"gyro_bias"`
	AccelOffset imu.Vec3 `json:"accel_offset"`
	MagBias     imu.Vec3 `json:"magnetometer_bias"`
}

// RunStatus is the state of an in-progress gyro-bias collection run.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunCollecting RunStatus = "collecting"
)

// Run tracks an online gyro-bias collection in progress.
type Run struct {
	Status          RunStatus
	SamplesCollected int
	SamplesNeeded    int
	Accumulator      imu.Vec3
}

// Manager owns Calibration and the current Run under a single mutex, per
// the concurrency model: control-plane writes must be visible to the
// very next calibrated IMU read, with no per-reader caching.
type Manager struct {
	mu        sync.Mutex
	cal       Calibration
	run       Run
	imuRateHz float64
	savePath  string
}

// NewManager constructs a Manager. If path is non-empty and an existing
// calibration file can be read, it seeds the initial Calibration;
// otherwise the manager starts at the zero (identity) calibration — a
// missing or malformed file is never fatal.
func NewManager(path string, imuRateHz float64) *Manager {
	m := &Manager{
		run:       Run{Status: RunIdle},
		imuRateHz: imuRateHz,
		savePath:  path,
	}
	if path != "" {
		if cal, err := loadFile(path); err == nil {
			m.cal = cal
		}
	}
	return m
}

func loadFile(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, err
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return Calibration{}, err
	}
	return cal, nil
}

// saveLocked writes the current calibration atomically: temp file then
// rename, so a crash mid-write never corrupts the live file. Caller
// must hold mu.
func (m *Manager) saveLocked() error {
	if m.savePath == "" {
		return nil
	}
	data, err := json.Marshal(m.cal)
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	dir := filepath.Dir(m.savePath)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp calibration file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp calibration file: %w", err)
	}
	if err := os.Rename(tmpPath, m.savePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename calibration file: %w", err)
	}
	return nil
}

// Get returns a snapshot of the current calibration and run state.
func (m *Manager) Get() (Calibration, Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal, m.run
}

// SetPartial is a field mask for Set: a nil field leaves the
// corresponding Calibration field untouched.
type SetPartial struct {
	GyroBias    *imu.Vec3
	AccelOffset *imu.Vec3
	MagBias     *imu.Vec3
}

// Set atomically replaces the supplied fields of the calibration,
// leaving unspecified fields untouched, and persists if a save path is
// configured.
func (m *Manager) Set(partial SetPartial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := m.cal
	if partial.GyroBias != nil {
		updated.GyroBias = *partial.GyroBias
	}
	if partial.AccelOffset != nil {
		updated.AccelOffset = *partial.AccelOffset
	}
	if partial.MagBias != nil {
		updated.MagBias = *partial.MagBias
	}
	m.cal = updated

	if err := m.saveLocked(); err != nil {
		return err
	}
	return nil
}

// StartGyroRun begins an online gyro-bias collection. seconds is
// clamped to [0.5, 60]; samplesNeeded is derived from the configured
// IMU rate, with a floor of 1 sample.
func (m *Manager) StartGyroRun(seconds float64) Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seconds < 0.5 {
		seconds = 0.5
	}
	if seconds > 60 {
		seconds = 60
	}

	needed := 1
	if m.imuRateHz > 0 {
		needed = int(math.Round(seconds * m.imuRateHz))
		if needed < 1 {
			needed = 1
		}
	}

	m.run = Run{
		Status:           RunCollecting,
		SamplesNeeded:    needed,
		SamplesCollected: 0,
		Accumulator:      imu.Vec3{},
	}
	return m.run
}

// AddGyroSample feeds one raw gyro reading into the active run. It is a
// no-op when no run is collecting. When the run completes, it computes
// the mean, assigns it as the new gyro bias, persists if configured,
// and returns the run to idle.
func (m *Manager) AddGyroSample(gyro imu.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run.Status != RunCollecting {
		return
	}

	m.run.Accumulator.X += gyro.X
	m.run.Accumulator.Y += gyro.Y
	m.run.Accumulator.Z += gyro.Z
	m.run.SamplesCollected++

	if m.run.SamplesCollected >= m.run.SamplesNeeded {
		n := float64(m.run.SamplesCollected)
		m.cal.GyroBias = imu.Vec3{
			X: m.run.Accumulator.X / n,
			Y: m.run.Accumulator.Y / n,
			Z: m.run.Accumulator.Z / n,
		}
		m.run = Run{Status: RunIdle}
		// Best-effort: a failed save here does not undo the completed run.
		_ = m.saveLocked()
	}
}

// AbandonRun returns an active run to idle without committing any bias,
// used on shutdown per the cancellation contract.
func (m *Manager) AbandonRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run.Status == RunCollecting {
		m.run = Run{Status: RunIdle}
	}
}
