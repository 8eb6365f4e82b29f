// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sources

import "testing"

func TestHandleLineMalformedInputsLeaveStateUnchanged(t *testing.T) {
	s := NewRemoteServer(":0")

	lines := []string{
		"",
		"not json",
		"0",
		"[]",
		`{"accel":[1,2]}`,
		`{"accel":[1,2,"x"],"gyro":[0,0,0]}`,
	}
	for _, line := range lines {
		s.handleLine([]byte(line))
	}

	sample, err := s.ReadIMU()
	if err != nil {
		t.Fatalf("ReadIMU: %v", err)
	}
	if sample != nil {
		t.Errorf("ReadIMU() = %+v after malformed lines, want nil", sample)
	}

	fix, err := s.ReadFix()
	if err != nil {
		t.Fatalf("ReadFix: %v", err)
	}
	if fix != nil {
		t.Errorf("ReadFix() = %+v after malformed lines, want nil", fix)
	}
}

func TestHandleLineWellFormedIMUUpdate(t *testing.T) {
	s := NewRemoteServer(":0")
	s.handleLine([]byte(`{"accel":[0,0,9.81],"gyro":[1,2,3]}`))

	sample, err := s.ReadIMU()
	if err != nil {
		t.Fatalf("ReadIMU: %v", err)
	}
	if sample == nil {
		t.Fatal("ReadIMU() = nil, want a sample")
	}
	if sample.Accel.Z != 9.81 || sample.Gyro.X != 1 || sample.Gyro.Y != 2 || sample.Gyro.Z != 3 {
		t.Errorf("decoded sample = %+v, want accel.z=9.81 gyro=(1,2,3)", sample)
	}

	// A second read with nothing new must report "none".
	again, err := s.ReadIMU()
	if err != nil {
		t.Fatalf("ReadIMU (second call): %v", err)
	}
	if again != nil {
		t.Errorf("ReadIMU() second call = %+v, want nil (no new data)", again)
	}
}

func TestHandleLineMagnetometerPersistsAcrossIMUOnlyUpdates(t *testing.T) {
	s := NewRemoteServer(":0")
	s.handleLine([]byte(`{"accel":[0,0,9.81],"gyro":[0,0,0],"magnetometer":[10,20,30]}`))
	first, err := s.ReadIMU()
	if err != nil {
		t.Fatalf("ReadIMU: %v", err)
	}
	if first == nil || first.Mag == nil {
		t.Fatalf("ReadIMU() first = %+v, want a sample with magnetometer", first)
	}

	s.handleLine([]byte(`{"accel":[0,0,9.81],"gyro":[1,1,1]}`))
	second, err := s.ReadIMU()
	if err != nil {
		t.Fatalf("ReadIMU: %v", err)
	}
	if second == nil || second.Mag == nil {
		t.Fatalf("ReadIMU() second = %+v, want magnetometer carried over", second)
	}
	if *second.Mag != *first.Mag {
		t.Errorf("carried-over magnetometer = %+v, want %+v", *second.Mag, *first.Mag)
	}
}

func TestHandleLineGPSFixRequiresNumericLatLon(t *testing.T) {
	s := NewRemoteServer(":0")
	s.handleLine([]byte(`{"lat":"not a number","lon":1.0}`))
	if fix, _ := s.ReadFix(); fix != nil {
		t.Errorf("ReadFix() = %+v after non-numeric lat, want nil", fix)
	}

	s.handleLine([]byte(`{"lat":37.5,"lon":-122.1,"speed_ms":5,"track":90,"time_iso":"2024-01-01T00:00:00Z"}`))
	fix, err := s.ReadFix()
	if err != nil {
		t.Fatalf("ReadFix: %v", err)
	}
	if fix == nil {
		t.Fatal("ReadFix() = nil, want a fix")
	}
	if fix.Lat != 37.5 || fix.Lon != -122.1 || fix.SpeedMS != 5 || fix.Track != 90 {
		t.Errorf("decoded fix = %+v, want lat=37.5 lon=-122.1 speed=5 track=90", fix)
	}
}

func TestHandleLineClampsNegativeSpeedToZero(t *testing.T) {
	s := NewRemoteServer(":0")
	s.handleLine([]byte(`{"lat":1.0,"lon":2.0,"speed_ms":-5}`))
	fix, err := s.ReadFix()
	if err != nil {
		t.Fatalf("ReadFix: %v", err)
	}
	if fix == nil {
		t.Fatal("ReadFix() = nil, want a fix")
	}
	if fix.SpeedMS != 0 {
		t.Errorf("SpeedMS = %v for negative input, want clamped to 0", fix.SpeedMS)
	}
}

func TestHandleLineSingleLineCarriesBothIMUAndGPS(t *testing.T) {
	s := NewRemoteServer(":0")
	s.handleLine([]byte(`{"accel":[0,0,9.81],"gyro":[0,0,0],"lat":1.0,"lon":2.0}`))

	sample, _ := s.ReadIMU()
	if sample == nil {
		t.Error("ReadIMU() = nil, want a sample from combined line")
	}
	fix, _ := s.ReadFix()
	if fix == nil {
		t.Error("ReadFix() = nil, want a fix from combined line")
	}
}
