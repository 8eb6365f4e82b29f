// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ahrs wraps an orientation filter behind a narrow interface so
// the fusion engine never depends on a specific algorithm. The only
// concrete implementation is a Madgwick gradient-descent quaternion
// filter (see madgwick.go); the package is structured so a second
// backend could be added without touching the fusion engine.
package ahrs

import (
	"fmt"
	"math"

	"github.com/relabs-tech/navit-daemon/internal/imu"
)

// Filter is the orientation estimator contract the fusion engine drives
// once per IMU sample.
type Filter interface {
	// Update advances the filter state by one sample. gyroDegPS is in
	// deg/s, accelMPS2 in m/s² (gravity included), mag in µT or nil
	// when absent, dtS the elapsed seconds since the previous update.
	Update(gyroDegPS, accelMPS2 imu.Vec3, mag *imu.Vec3, dtS float64)

	// Initialized reports whether at least one Update call has
	// succeeded. YawDeg is undefined before this is true.
	Initialized() bool

	// YawDeg returns the current heading in [0, 360).
	YawDeg() float64
}

// madgwick is a single-quaternion gradient-descent AHRS filter
// (Madgwick, 2010). Quaternion components are stored scalar-first
// (q0 + q1*i + q2*j + q3*k), normalized after every update the same way
// a DCM-from-quaternion integrator normalizes its rotating quaternion:
// divide each component by the quaternion's Euclidean norm.
type madgwick struct {
	samplePeriodS float64
	gain          float64

	q0, q1, q2, q3 float64
	initialized    bool
}

// NewMadgwick constructs the filter's only backing implementation.
// samplePeriodS is the nominal seconds-per-sample (1/imu_rate_hz); it
// is a default used only when Update is called with dtS <= 0. gain is
// the filter's beta parameter; spec.md tolerates values outside the
// standard [0, 1] range rather than rejecting them.
//
// Per spec.md §4.5/§9, the AHRS backend is an abstract capability that
// must fail loudly at construction if no implementation is available.
// madgwick is the one backing implementation this module ships, so the
// only error returned is for a non-positive samplePeriodS; the
// (Filter, error) signature lets callers handle construction failure
// uniformly with any additional implementation.
func NewMadgwick(samplePeriodS, gain float64) (Filter, error) {
	if samplePeriodS <= 0 {
		return nil, fmt.Errorf("ahrs: sample period must be positive, got %v", samplePeriodS)
	}
	return &madgwick{
		samplePeriodS: samplePeriodS,
		gain:          gain,
		q0:            1, q1: 0, q2: 0, q3: 0,
	}, nil
}

func (f *madgwick) Initialized() bool { return f.initialized }

func (f *madgwick) Update(gyroDegPS, accelMPS2 imu.Vec3, mag *imu.Vec3, dtS float64) {
	if dtS <= 0 {
		dtS = f.samplePeriodS
	}

	gx := gyroDegPS.X * math.Pi / 180
	gy := gyroDegPS.Y * math.Pi / 180
	gz := gyroDegPS.Z * math.Pi / 180

	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3

	// Rate of change of quaternion from gyroscope.
	qDot0 := 0.5 * (-q1*gx - q2*gy - q3*gz)
	qDot1 := 0.5 * (q0*gx + q2*gz - q3*gy)
	qDot2 := 0.5 * (q0*gy - q1*gz + q3*gx)
	qDot3 := 0.5 * (q0*gz + q1*gy - q2*gx)

	// Gradient-descent correction from the accelerometer, skipped when
	// the reading is degenerate (zero-length, as happens in free fall
	// or with a stubbed-zero sample).
	an := math.Sqrt(accelMPS2.X*accelMPS2.X + accelMPS2.Y*accelMPS2.Y + accelMPS2.Z*accelMPS2.Z)
	if an > 1e-9 {
		ax := accelMPS2.X / an
		ay := accelMPS2.Y / an
		az := accelMPS2.Z / an

		// Objective function and its Jacobian for gravity alignment
		// (standard Madgwick IMU-only formulation).
		f1 := 2*(q1*q3-q0*q2) - ax
		f2 := 2*(q0*q1+q2*q3) - ay
		f3 := 2*(0.5-q1*q1-q2*q2) - az

		j11 := -2 * q2
		j12 := 2 * q3
		j13 := -2 * q0
		j14 := 2 * q1
		j21 := 2 * q1
		j22 := 2 * q0
		j23 := 2 * q3
		j24 := 2 * q2
		j32 := -4 * q1
		j33 := -4 * q2

		s0 := j11*f1 + j21*f2
		s1 := j12*f1 + j22*f2 + j32*f3
		s2 := j13*f1 + j23*f2 + j33*f3
		s3 := j14*f1 + j24*f2

		sn := math.Sqrt(s0*s0 + s1*s1 + s2*s2 + s3*s3)
		if sn > 1e-9 {
			s0 /= sn
			s1 /= sn
			s2 /= sn
			s3 /= sn

			qDot0 -= f.gain * s0
			qDot1 -= f.gain * s1
			qDot2 -= f.gain * s2
			qDot3 -= f.gain * s3
		}
	}

	q0 += qDot0 * dtS
	q1 += qDot1 * dtS
	q2 += qDot2 * dtS
	q3 += qDot3 * dtS

	norm := math.Sqrt(q0*q0 + q1*q1 + q2*q2 + q3*q3)
	if norm > 1e-9 {
		q0 /= norm
		q1 /= norm
		q2 /= norm
		q3 /= norm
	}

	f.q0, f.q1, f.q2, f.q3 = q0, q1, q2, q3
	f.initialized = true

	_ = mag // magnetometer fusion is not yet incorporated into the gradient term
}

// YawDeg returns the heading component of the current orientation,
// normalized into [0, 360).
func (f *madgwick) YawDeg() float64 {
	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3
	yaw := math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
	deg := yaw * 180 / math.Pi
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
