// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/navit-daemon/internal/imu"
)

func TestManagerZeroValueIsIdentityCalibration(t *testing.T) {
	m := NewManager("", 100)
	cal, run := m.Get()
	if cal != (Calibration{}) {
		t.Errorf("fresh Manager calibration = %+v, want zero value", cal)
	}
	if run.Status != RunIdle {
		t.Errorf("fresh Manager run status = %q, want %q", run.Status, RunIdle)
	}
}

func TestCalibrationJSONRoundTrip(t *testing.T) {
	want := Calibration{
		GyroBias:    imu.Vec3{X: 0.1, Y: -0.2, Z: 0.3},
		AccelOffset: imu.Vec3{X: 1, Y: 2, Z: 3},
		MagBias:     imu.Vec3{X: -1.5, Y: 0, Z: 9.9},
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Calibration
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestManagerSetThenGetReturnsSetValue(t *testing.T) {
	m := NewManager("", 100)
	bias := imu.Vec3{X: 1, Y: 2, Z: 3}
	if err := m.Set(SetPartial{GyroBias: &bias}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cal, _ := m.Get()
	if cal.GyroBias != bias {
		t.Errorf("GyroBias = %+v after Set, want %+v", cal.GyroBias, bias)
	}
}

func TestManagerSetPartialLeavesOtherFieldsUntouched(t *testing.T) {
	m := NewManager("", 100)
	offset := imu.Vec3{X: 5, Y: 5, Z: 5}
	if err := m.Set(SetPartial{AccelOffset: &offset}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	bias := imu.Vec3{X: 1, Y: 1, Z: 1}
	if err := m.Set(SetPartial{GyroBias: &bias}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cal, _ := m.Get()
	if cal.AccelOffset != offset {
		t.Errorf("AccelOffset = %+v, want it preserved as %+v", cal.AccelOffset, offset)
	}
	if cal.GyroBias != bias {
		t.Errorf("GyroBias = %+v, want %+v", cal.GyroBias, bias)
	}
}

func TestGyroRunWithIdenticalSamplesYieldsThatBias(t *testing.T) {
	m := NewManager("", 100)
	run := m.StartGyroRun(1)
	if run.Status != RunCollecting {
		t.Fatalf("StartGyroRun status = %q, want %q", run.Status, RunCollecting)
	}
	if run.SamplesNeeded != 100 {
		t.Fatalf("SamplesNeeded = %d, want 100", run.SamplesNeeded)
	}

	v := imu.Vec3{X: 0.1, Y: -0.05, Z: 0.02}
	for i := 0; i < run.SamplesNeeded; i++ {
		m.AddGyroSample(v)
	}

	cal, finalRun := m.Get()
	if finalRun.Status != RunIdle {
		t.Errorf("run status after completion = %q, want %q", finalRun.Status, RunIdle)
	}
	// The bias is accumulator / n, so it matches v up to float rounding.
	const tol = 1e-12
	if math.Abs(cal.GyroBias.X-v.X) > tol || math.Abs(cal.GyroBias.Y-v.Y) > tol || math.Abs(cal.GyroBias.Z-v.Z) > tol {
		t.Errorf("GyroBias = %+v, want %+v", cal.GyroBias, v)
	}
}

func TestGyroRunSecondsClampedToRange(t *testing.T) {
	m := NewManager("", 100)
	tooShort := m.StartGyroRun(0.01)
	if tooShort.SamplesNeeded != 50 {
		t.Errorf("SamplesNeeded for clamped-low seconds = %d, want 50 (0.5s @ 100Hz)", tooShort.SamplesNeeded)
	}
	tooLong := m.StartGyroRun(1000)
	if tooLong.SamplesNeeded != 6000 {
		t.Errorf("SamplesNeeded for clamped-high seconds = %d, want 6000 (60s @ 100Hz)", tooLong.SamplesNeeded)
	}
}

func TestAbandonRunReturnsToIdleWithoutCommittingBias(t *testing.T) {
	m := NewManager("", 100)
	m.StartGyroRun(1)
	m.AddGyroSample(imu.Vec3{X: 9, Y: 9, Z: 9})
	m.AbandonRun()

	cal, run := m.Get()
	if run.Status != RunIdle {
		t.Errorf("run status after AbandonRun = %q, want %q", run.Status, RunIdle)
	}
	if cal.GyroBias != (imu.Vec3{}) {
		t.Errorf("GyroBias after abandoned run = %+v, want zero value", cal.GyroBias)
	}
}

func TestManagerPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	m1 := NewManager(path, 100)
	bias := imu.Vec3{X: 1, Y: 2, Z: 3}
	if err := m1.Set(SetPartial{GyroBias: &bias}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	m2 := NewManager(path, 100)
	cal, _ := m2.Get()
	if cal.GyroBias != bias {
		t.Errorf("GyroBias after reload = %+v, want %+v", cal.GyroBias, bias)
	}
}

func TestManagerSurvivesMissingAndMalformedFile(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(filepath.Join(dir, "does-not-exist.json"), 100)
	if cal, _ := m.Get(); cal != (Calibration{}) {
		t.Errorf("calibration from missing file = %+v, want zero value", cal)
	}

	malformed := filepath.Join(dir, "malformed.json")
	if err := os.WriteFile(malformed, []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	m2 := NewManager(malformed, 100)
	if cal, _ := m2.Get(); cal != (Calibration{}) {
		t.Errorf("calibration from malformed file = %+v, want zero value", cal)
	}
}
