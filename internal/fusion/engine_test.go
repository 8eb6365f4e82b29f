// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"testing"

	"github.com/relabs-tech/navit-daemon/internal/gps"
)

func TestSelectHeadingSlowSpeedPrefersAHRSYaw(t *testing.T) {
	e := &Engine{}
	e.yaw = 137.0
	e.yawOK = true

	got := e.selectHeading(gps.Fix{SpeedMS: 0.1, Track: 45.0})
	if got != 137.0 {
		t.Errorf("selectHeading at slow speed = %v, want AHRS yaw 137.0", got)
	}
}

func TestSelectHeadingFastSpeedPrefersGPSTrack(t *testing.T) {
	e := &Engine{}
	e.yaw = 137.0
	e.yawOK = true

	got := e.selectHeading(gps.Fix{SpeedMS: 2.0, Track: 45.0})
	if got != 45.0 {
		t.Errorf("selectHeading at fast speed = %v, want GPS track 45.0", got)
	}
}

func TestSelectHeadingFallsBackToGPSTrackWhenAHRSUninitialized(t *testing.T) {
	e := &Engine{}

	got := e.selectHeading(gps.Fix{SpeedMS: 0.1, Track: 200.0})
	if got != 200.0 {
		t.Errorf("selectHeading with no AHRS yaw = %v, want GPS track 200.0", got)
	}
}

func TestSelectHeadingSpeedThresholdBoundary(t *testing.T) {
	e := &Engine{}
	e.yaw = 90.0
	e.yawOK = true

	atThreshold := e.selectHeading(gps.Fix{SpeedMS: 0.5, Track: 0.0})
	if atThreshold != 90.0 {
		t.Errorf("selectHeading at exactly 0.5 m/s = %v, want AHRS yaw (threshold is strictly >)", atThreshold)
	}

	justAbove := e.selectHeading(gps.Fix{SpeedMS: 0.50001, Track: 0.0})
	if justAbove != 0.0 {
		t.Errorf("selectHeading just above 0.5 m/s = %v, want GPS track", justAbove)
	}
}

func TestEmitOnceSkipsWhenNoFixOrInvalidFix(t *testing.T) {
	b := &recordingBroadcaster{}
	e := &Engine{broadcast: b}

	e.emitOnce()
	if len(b.sentences) != 0 {
		t.Errorf("emitOnce() with no fix broadcast %d sentences, want 0", len(b.sentences))
	}

	invalid := gps.Fix{Valid: false}
	e.lastFix = &invalid
	e.emitOnce()
	if len(b.sentences) != 0 {
		t.Errorf("emitOnce() with invalid fix broadcast %d sentences, want 0", len(b.sentences))
	}
}

func TestEmitOnceBroadcastsGGAAndRMCForValidFix(t *testing.T) {
	b := &recordingBroadcaster{}
	e := &Engine{broadcast: b}
	fix := gps.Fix{Valid: true, Lat: 1, Lon: 2, SpeedMS: 1.0, Track: 90}
	e.lastFix = &fix

	e.emitOnce()
	if len(b.sentences) != 2 {
		t.Fatalf("emitOnce() broadcast %d sentences, want 2 (GGA + RMC)", len(b.sentences))
	}
	if b.sentences[0][:6] != "$GPGGA" {
		t.Errorf("first sentence = %q, want $GPGGA prefix", b.sentences[0])
	}
	if b.sentences[1][:6] != "$GPRMC" {
		t.Errorf("second sentence = %q, want $GPRMC prefix", b.sentences[1])
	}
}

type recordingBroadcaster struct {
	sentences []string
}

func (r *recordingBroadcaster) Broadcast(sentence string) {
	r.sentences = append(r.sentences, sentence)
}
