// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sources

import (
	"testing"

	nmeaparse "github.com/adrianmo/go-nmea"
)

func TestApplyRMCClampsNegativeSpeedToZero(t *testing.T) {
	r := &SerialNMEAReader{}
	r.applyRMC(nmeaparse.RMC{
		Latitude:  1.0,
		Longitude: 2.0,
		Speed:     -3.0,
		Course:    90,
		Validity:  "A",
	})
	if r.fix.SpeedMS != 0 {
		t.Errorf("SpeedMS = %v for negative knots input, want clamped to 0", r.fix.SpeedMS)
	}
}

func TestApplyRMCConvertsPositiveKnotsToMetersPerSecond(t *testing.T) {
	r := &SerialNMEAReader{}
	r.applyRMC(nmeaparse.RMC{
		Latitude:  1.0,
		Longitude: 2.0,
		Speed:     10.0,
		Course:    0,
		Validity:  "A",
	})
	want := 10.0 * 0.514444
	if diff := r.fix.SpeedMS - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("SpeedMS = %v, want %v", r.fix.SpeedMS, want)
	}
}
