// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imu defines the sample type and source contract shared by every
// IMU backend: the local IIO sysfs reader, the remote ingest server, and
// the calibrated-source wrapper.
package imu

import "time"

// Vec3 is a 3-axis vector. Units depend on context (accel: m/s², gyro:
// deg/s, magnetometer: µT).
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o, element-wise.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Sample is one timestamped read of accel + gyro, with an optional
// magnetometer reading. Accel and gyro are always present together;
// Mag is independent and nil when absent.
type Sample struct {
	Accel Vec3
	Gyro  Vec3
	Mag   *Vec3
	Time  time.Time
}

// Source produces IMU samples. A nil sample with a nil error means "no
// fresh data this poll" — callers must not treat that as an error.
type Source interface {
	ReadIMU() (*Sample, error)
}
