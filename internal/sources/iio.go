// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sources provides the concrete imu.Source and gps.Source
// backends: a local Industrial I/O sysfs reader, a TCP remote ingest
// server, a gpsd watcher client, and a supplemental serial-NMEA reader.
package sources

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/navit-daemon/internal/imu"
)

// IIOReader reads accelerometer, gyroscope, and optional magnetometer
// channels from a Linux Industrial I/O sysfs device directory, per
// spec.md §4.1. It implements imu.Source only — GPS has no IIO
// equivalent.
type IIOReader struct {
	accelDir string
	gyroDir  string
	magDir   string // "" when no magnetometer is configured
}

// iioRoot is where device-name discovery looks for iio:deviceN entries.
// A package var (not a const) so tests can point it at a fixture tree.
var iioRoot = "/sys/bus/iio/devices"

// knownIIOPart is one entry of the device-name table spec.md §4.1
// describes: a substring matched against an iio:deviceN/name file,
// and which IMU channels that part is known to expose.
type knownIIOPart struct {
	nameContains string
	accel        bool
	gyro         bool
	mag          bool
}

// knownIIOParts lists the parts spec.md §4.1 names explicitly. Matching
// is case-insensitive substring against the device's reported name.
var knownIIOParts = []knownIIOPart{
	{nameContains: "mpu6050", accel: true, gyro: true},
	{nameContains: "mpu9250", accel: true, gyro: true, mag: true},
	{nameContains: "lsm6ds", accel: true, gyro: true},
	{nameContains: "bno055", accel: true, gyro: true, mag: true},
	{nameContains: "icm20948", accel: true, gyro: true, mag: true},
	{nameContains: "adxl345", accel: true},
}

// NewIIOReader constructs a reader over the three device directories.
// Any of accelDir/gyroDir/magDir left empty is resolved via device-name
// discovery against iioRoot: each iio:deviceN/name file is matched
// against knownIIOParts, and a recognized device's directory is used
// for every channel it's known to provide. Each channel takes the first
// recognized device (in directory order) that provides it; a device
// serving several channels is not preferred over an earlier
// single-channel one. Explicit paths always take precedence over
// discovery.
func NewIIOReader(accelDir, gyroDir, magDir string) *IIOReader {
	if accelDir == "" || gyroDir == "" || magDir == "" {
		discAccel, discGyro, discMag := discoverIIODevices(iioRoot)
		if accelDir == "" {
			accelDir = discAccel
		}
		if gyroDir == "" {
			gyroDir = discGyro
		}
		if magDir == "" {
			magDir = discMag
		}
	}
	return &IIOReader{accelDir: accelDir, gyroDir: gyroDir, magDir: magDir}
}

// discoverIIODevices scans root for iio:deviceN entries and returns the
// directory recognized (via knownIIOParts) as providing accel, gyro,
// and magnetometer channels respectively; any channel with no
// recognized device resolves to "". The first matching device found
// for a channel wins.
func discoverIIODevices(root string) (accelDir, gyroDir, magDir string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", "", ""
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "iio:device") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		name, ok := readName(filepath.Join(dir, "name"))
		if !ok {
			continue
		}
		lower := strings.ToLower(name)

		for _, part := range knownIIOParts {
			if !strings.Contains(lower, part.nameContains) {
				continue
			}
			if part.accel && accelDir == "" {
				accelDir = dir
			}
			if part.gyro && gyroDir == "" {
				gyroDir = dir
			}
			if part.mag && magDir == "" {
				magDir = dir
			}
			break
		}
	}
	return accelDir, gyroDir, magDir
}

func readName(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// ReadIMU implements imu.Source. An accel or gyro channel that can't be
// read (missing file, unparsable value) makes the whole sample
// unavailable rather than reporting a partially-read vector — spec.md
// treats "missing files or unreadable values" as "return none for that
// sample". An unreadable magnetometer only leaves Mag nil.
func (r *IIOReader) ReadIMU() (*imu.Sample, error) {
	accel, err := readVec3(r.accelDir, "accel", false)
	if err != nil {
		return nil, nil //nolint:nilerr // per spec.md: unreadable sensor -> "none", not an error
	}
	gyro, err := readVec3(r.gyroDir, "anglvel", true)
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	sample := &imu.Sample{Accel: accel, Gyro: gyro, Time: time.Now()}

	if r.magDir != "" {
		if mag, err := readVec3(r.magDir, "magn", false); err == nil {
			sample.Mag = &mag
		}
	}
	return sample, nil
}

// readVec3 reads the three axes of one IIO "kind" (accel/anglvel/magn)
// from dir. gyroHeuristic enables the rad/s -> deg/s conversion spec.md
// describes for the gyro channel specifically.
func readVec3(dir, kind string, gyroHeuristic bool) (imu.Vec3, error) {
	sharedScale, hasSharedScale := readFloat(filepath.Join(dir, fmt.Sprintf("in_%s_scale", kind)))

	x, err := readAxis(dir, kind, "x", sharedScale, hasSharedScale, gyroHeuristic)
	if err != nil {
		return imu.Vec3{}, err
	}
	y, err := readAxis(dir, kind, "y", sharedScale, hasSharedScale, gyroHeuristic)
	if err != nil {
		return imu.Vec3{}, err
	}
	z, err := readAxis(dir, kind, "z", sharedScale, hasSharedScale, gyroHeuristic)
	if err != nil {
		return imu.Vec3{}, err
	}
	return imu.Vec3{X: x, Y: y, Z: z}, nil
}

func readAxis(dir, kind, axis string, sharedScale float64, hasSharedScale, gyroHeuristic bool) (float64, error) {
	raw, ok := readFloat(filepath.Join(dir, fmt.Sprintf("in_%s_%s_raw", kind, axis)))
	if !ok {
		return 0, fmt.Errorf("missing or unreadable in_%s_%s_raw", kind, axis)
	}

	scale := sharedScale
	hasScale := hasSharedScale
	if perAxis, ok := readFloat(filepath.Join(dir, fmt.Sprintf("in_%s_%s_scale", kind, axis))); ok {
		scale = perAxis
		hasScale = true
	}
	if !hasScale {
		scale = 1
	}

	value := raw * scale

	if offset, ok := readFloat(filepath.Join(dir, fmt.Sprintf("in_%s_%s_offset", kind, axis))); ok {
		value -= offset
	}

	if gyroHeuristic && hasScale && scale != 0 && absF(scale) < 0.01 {
		// Scale this small indicates the device reports rad/s; convert
		// to deg/s for the rest of the pipeline.
		value = value * 180 / 3.141592653589793
	}

	return value, nil
}

func readFloat(path string) (float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
