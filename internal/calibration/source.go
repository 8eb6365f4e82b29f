// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/relabs-tech/navit-daemon/internal/imu"
)

// CalibratedSource wraps an inner imu.Source and applies the Manager's
// current calibration to every sample. It reads the Manager fresh on
// every call rather than caching, so control-plane updates take effect
// on the very next IMU read.
type CalibratedSource struct {
	inner   imu.Source
	manager *Manager
}

// NewCalibratedSource returns a CalibratedSource wrapping inner.
func NewCalibratedSource(inner imu.Source, manager *Manager) *CalibratedSource {
	return &CalibratedSource{inner: inner, manager: manager}
}

// ReadIMU implements imu.Source.
func (c *CalibratedSource) ReadIMU() (*imu.Sample, error) {
	raw, err := c.inner.ReadIMU()
	if err != nil || raw == nil {
		return raw, err
	}

	cal, _ := c.manager.Get()

	// Feed the raw (uncalibrated) gyro into any active bias-collection
	// run before applying correction.
	c.manager.AddGyroSample(raw.Gyro)

	calibrated := *raw
	calibrated.Gyro = raw.Gyro.Sub(cal.GyroBias)
	calibrated.Accel = raw.Accel.Sub(cal.AccelOffset)
	if raw.Mag != nil {
		m := raw.Mag.Sub(cal.MagBias)
		calibrated.Mag = &m
	}
	return &calibrated, nil
}
