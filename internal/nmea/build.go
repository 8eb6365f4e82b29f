// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package nmea builds GGA/RMC sentences from a gps.Fix plus a selected
// heading, and broadcasts them to connected TCP clients.
//
// github.com/adrianmo/go-nmea (used elsewhere in this module, in
// internal/sources, to parse incoming serial sentences) only exposes a
// parser, not a builder, so constructing the exact wire format spec.md
// §4.7 documents is done directly against the standard library.
package nmea

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BuildGGA formats a $GPGGA sentence. lat/lon are decimal degrees,
// alt meters, fixQuality/numSats pass through as integers, hdop meters,
// timeISO the fix's reported timestamp (possibly empty or malformed).
func BuildGGA(lat, lon, alt float64, fixQuality, numSats int, hdop float64, timeISO string) string {
	body := fmt.Sprintf("GPGGA,%s,%s,%s,%d,%02d,%s,%s,M,,,,",
		formatTimeOfDay(timeISO),
		formatLatitude(lat),
		formatLongitude(lon),
		fixQuality,
		clampNonNegative(numSats),
		formatFixed(hdop, 1),
		formatFixed(safeFinite(alt), 1),
	)
	return "$" + body + "*" + checksum(body) + "\r\n"
}

// BuildRMC formats a $GPRMC sentence. heading is the already-selected
// track/yaw value in degrees (need not be pre-normalized; BuildRMC
// rounds it to the field's one decimal and normalizes it to [0, 360)
// itself, so 359.96 is emitted as 0.0, never 360.0).
func BuildRMC(lat, lon, speedMS, heading float64, valid bool, timeISO string) string {
	status := "V"
	if valid {
		status = "A"
	}
	body := fmt.Sprintf("GPRMC,%s,%s,%s,%s,%s,%s,%s,,,",
		formatTimeOfDay(timeISO),
		status,
		formatLatitude(lat),
		formatLongitude(lon),
		formatFixed(clampNonNegativeF(safeFinite(speedMS))*1.943844, 1),
		formatFixed(normalizeDegrees(math.Round(safeFinite(heading)*10)/10), 1),
		formatDateOfDay(timeISO),
	)
	return "$" + body + "*" + checksum(body) + "\r\n"
}

// checksum returns the two-uppercase-hex-digit XOR of every byte in
// body (the bytes between "$" and "*").
func checksum(body string) string {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return fmt.Sprintf("%02X", c)
}

// normalizeDegrees wraps any finite value into [0, 360); non-finite
// input (NaN, +-Inf) maps to 0 rather than propagating.
func normalizeDegrees(deg float64) float64 {
	deg = safeFinite(deg)
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// safeFinite clamps non-finite floats to 0 so formatting never panics
// or emits "NaN"/"+Inf" into a sentence.
func safeFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	if n > 99 {
		return 99
	}
	return n
}

// clampNonNegativeF floors a speed (or any ≥0-by-contract quantity) at
// zero. spec.md's GpsFix invariant documents speed_ms as "≥0 after
// clamp"; this is the last line of defense if a source adapter ever
// forwards a negative value anyway.
func clampNonNegativeF(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func formatFixed(v float64, decimals int) string {
	return strings.TrimSpace(fmt.Sprintf("%.*f", decimals, safeFinite(v)))
}

// formatLatitude converts decimal degrees to ddmm.mmmm,N|S. Values
// outside [-90, 90] are clamped rather than rejected, per spec.md's
// "extreme inputs must not raise" robustness requirement.
func formatLatitude(lat float64) string {
	lat = safeFinite(lat)
	hemi := "N"
	if lat < 0 {
		hemi = "S"
		lat = -lat
	}
	if lat > 90 {
		lat = 90
	}
	deg := math.Floor(lat)
	min := (lat - deg) * 60
	return fmt.Sprintf("%02.0f%07.4f,%s", deg, min, hemi)
}

// formatLongitude converts decimal degrees to dddmm.mmmm,E|W.
func formatLongitude(lon float64) string {
	lon = safeFinite(lon)
	hemi := "E"
	if lon < 0 {
		hemi = "W"
		lon = -lon
	}
	if lon > 180 {
		lon = 180
	}
	deg := math.Floor(lon)
	min := (lon - deg) * 60
	return fmt.Sprintf("%03.0f%07.4f,%s", deg, min, hemi)
}

// formatTimeOfDay extracts hhmmss.ss from an ISO-8601 timestamp,
// defaulting to 000000.00 when timeISO is empty or doesn't parse.
func formatTimeOfDay(timeISO string) string {
	t, ok := parseISO(timeISO)
	if !ok {
		return "000000.00"
	}
	return fmt.Sprintf("%02d%02d%05.2f", t.Hour(), t.Minute(), float64(t.Second())+float64(t.Nanosecond())/1e9)
}

// formatDateOfDay extracts ddmmyy from an ISO-8601 timestamp,
// defaulting to 010100 when timeISO is empty or doesn't parse.
func formatDateOfDay(timeISO string) string {
	t, ok := parseISO(timeISO)
	if !ok {
		return "010100"
	}
	return fmt.Sprintf("%02d%02d%02d", t.Day(), int(t.Month()), t.Year()%100)
}

// parseISO accepts the UTC-suffixed ISO-8601 forms the fusion engine
// and remote ingest protocol produce. Per spec.md §9's open question,
// non-UTC offsets are not specially normalized here.
func parseISO(timeISO string) (time.Time, bool) {
	if timeISO == "" {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05Z"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, timeISO); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
