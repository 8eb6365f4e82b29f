// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values. Fields are set
// either from a KEY=VALUE file (Load) or directly by the cmd/navit-daemon
// flag parser; both paths share the same struct and the same Get().
type Config struct {
	// Source selection
	Source string // "linux", "remote", or "auto"

	// Local GPS (gpsd backend)
	GPSDHost string
	GPSDPort int

	// Local GPS (supplemental serial-NMEA backend)
	GPSSerialPort string
	GPSBaudRate   int

	// Remote ingest server (IMU + GPS over newline-JSON)
	RemotePort int

	// NMEA broadcast server
	NMEABind string
	NMEAPort int

	// Fusion engine
	IMURateHz    float64
	OutputRateHz float64
	FusionGain   float64

	// Local IIO sysfs overrides
	AccelPath        string
	GyroPath         string
	MagnetometerPath string

	// Calibration
	CalibrationFile string
	CalibrationPort int

	// Calibration status monitor (read-only WebSocket feed, opt-in)
	MonitorBind string
}

// Default returns a Config populated with the values spec.md documents
// as defaults, before any file or flag overrides are applied.
func Default() *Config {
	return &Config{
		Source:       "auto",
		GPSDHost:     "127.0.0.1",
		GPSDPort:     2947,
		GPSBaudRate:  9600,
		RemotePort:   2949,
		NMEABind:     "127.0.0.1",
		NMEAPort:     2948,
		IMURateHz:    100,
		OutputRateHz: 5,
		FusionGain:   0.5,
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads a KEY=VALUE configuration file on top of Default(). Blank
// lines and "#" comments are skipped. An unknown key or malformed value
// is a fatal configuration error, reported before the main loop starts.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setValue(key, value string) error {
	switch key {
	case "SOURCE":
		c.Source = value
	case "GPSD_HOST":
		c.GPSDHost = value
	case "GPSD_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPSD_PORT %q: %w", value, err)
		}
		c.GPSDPort = v
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = v
	case "REMOTE_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REMOTE_PORT %q: %w", value, err)
		}
		c.RemotePort = v
	case "NMEA_BIND":
		c.NMEABind = value
	case "NMEA_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid NMEA_PORT %q: %w", value, err)
		}
		c.NMEAPort = v
	case "IMU_RATE_HZ":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid IMU_RATE_HZ %q: %w", value, err)
		}
		c.IMURateHz = v
	case "OUTPUT_RATE_HZ":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid OUTPUT_RATE_HZ %q: %w", value, err)
		}
		c.OutputRateHz = v
	case "FUSION_GAIN":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FUSION_GAIN %q: %w", value, err)
		}
		c.FusionGain = v
	case "ACCEL_PATH":
		c.AccelPath = value
	case "GYRO_PATH":
		c.GyroPath = value
	case "MAGNETOMETER_PATH":
		c.MagnetometerPath = value
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "CALIBRATION_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_PORT %q: %w", value, err)
		}
		c.CalibrationPort = v
	case "MONITOR_BIND":
		c.MonitorBind = value
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}

// validate checks that Source names a known backend. Numeric ranges
// (ports, rates) are intentionally not validated here: out-of-range
// values are tolerated and treated as caller responsibility, per
// the source's own documented open question.
func (c *Config) validate() error {
	switch c.Source {
	case "linux", "remote", "auto":
	default:
		return fmt.Errorf("SOURCE must be one of linux, remote, auto, got %q", c.Source)
	}
	return nil
}

// InitGlobal initializes the global configuration from file, once.
// Subsequent calls are no-ops; use Get() to read the stored value.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// SetGlobal installs an already-constructed Config as the global
// instance, bypassing file loading. Used by cmd/navit-daemon when
// configuration comes entirely from CLI flags.
func SetGlobal(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = cfg
}

// Get returns the global configuration instance. InitGlobal or
// SetGlobal must be called first, or this returns nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
