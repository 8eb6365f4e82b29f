// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/navit-daemon/internal/ahrs"
	"github.com/relabs-tech/navit-daemon/internal/calibration"
	"github.com/relabs-tech/navit-daemon/internal/config"
	"github.com/relabs-tech/navit-daemon/internal/fusion"
	"github.com/relabs-tech/navit-daemon/internal/gps"
	"github.com/relabs-tech/navit-daemon/internal/imu"
	"github.com/relabs-tech/navit-daemon/internal/nmea"
	"github.com/relabs-tech/navit-daemon/internal/sources"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.Source, "source", cfg.Source, "IMU/GPS source: linux, remote, or auto")
	flag.StringVar(&cfg.GPSDHost, "gpsd-host", cfg.GPSDHost, "gpsd host")
	flag.IntVar(&cfg.GPSDPort, "gpsd-port", cfg.GPSDPort, "gpsd port")
	flag.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "remote ingest server port")
	flag.StringVar(&cfg.NMEABind, "nmea-bind", cfg.NMEABind, "NMEA broadcast bind address")
	flag.IntVar(&cfg.NMEAPort, "nmea-port", cfg.NMEAPort, "NMEA broadcast port")
	flag.Float64Var(&cfg.IMURateHz, "imu-rate-hz", cfg.IMURateHz, "IMU sample rate")
	flag.Float64Var(&cfg.OutputRateHz, "output-rate-hz", cfg.OutputRateHz, "NMEA emit rate")
	flag.Float64Var(&cfg.FusionGain, "fusion-gain", cfg.FusionGain, "AHRS filter gain")
	flag.StringVar(&cfg.AccelPath, "accel-path", cfg.AccelPath, "IIO accelerometer device directory")
	flag.StringVar(&cfg.GyroPath, "gyro-path", cfg.GyroPath, "IIO gyroscope device directory")
	flag.StringVar(&cfg.MagnetometerPath, "magnetometer-path", cfg.MagnetometerPath, "IIO magnetometer device directory")
	flag.StringVar(&cfg.CalibrationFile, "calibration-file", cfg.CalibrationFile, "calibration persistence file")
	flag.IntVar(&cfg.CalibrationPort, "calibration-port", cfg.CalibrationPort, "calibration control port (0 = disabled)")
	flag.StringVar(&cfg.GPSSerialPort, "gps-serial-port", cfg.GPSSerialPort, "supplemental serial GPS device path (overrides gpsd)")
	flag.IntVar(&cfg.GPSBaudRate, "gps-baud-rate", cfg.GPSBaudRate, "supplemental serial GPS baud rate")
	flag.StringVar(&cfg.MonitorBind, "monitor-bind", cfg.MonitorBind, "read-only calibration status WebSocket bind address (empty = disabled)")
	flag.Parse()

	config.SetGlobal(cfg)

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imuSource, gpsSource, startSources, err := buildSources(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}

	filter, err := ahrs.NewMadgwick(1.0/cfg.IMURateHz, cfg.FusionGain)
	if err != nil {
		return fmt.Errorf("construct ahrs backend: %w", err)
	}

	manager := calibration.NewManager(cfg.CalibrationFile, cfg.IMURateHz)
	calibrated := calibration.NewCalibratedSource(imuSource, manager)

	nmeaServer := nmea.NewServer(fmt.Sprintf("%s:%d", cfg.NMEABind, cfg.NMEAPort))
	engine := fusion.NewEngine(calibrated, gpsSource, filter, nmeaServer, cfg.IMURateHz, cfg.OutputRateHz)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("navit-daemon: shutting down")
		manager.AbandonRun()
		cancel()
	}()

	startSources()

	go func() {
		if err := nmeaServer.Run(ctx); err != nil {
			log.Printf("nmea broadcast server stopped: %v", err)
		}
	}()

	if cfg.CalibrationPort != 0 {
		calServer := calibration.NewServer(manager, fmt.Sprintf("127.0.0.1:%d", cfg.CalibrationPort))
		go func() {
			if err := calServer.Run(ctx); err != nil {
				log.Printf("calibration control server stopped: %v", err)
			}
		}()
	}

	if cfg.MonitorBind != "" {
		monitor := calibration.NewMonitor(manager)
		go func() {
			if err := calibration.Serve(ctx, cfg.MonitorBind, monitor); err != nil {
				log.Printf("calibration monitor stopped: %v", err)
			}
		}()
	}

	log.Printf("navit-daemon: starting fusion engine (source=%s imu_rate=%.1fHz output_rate=%.1fHz)",
		cfg.Source, cfg.IMURateHz, cfg.OutputRateHz)
	engine.Run(ctx)
	log.Println("navit-daemon: stopped")
	return nil
}

// buildSources constructs the IMU/GPS sources for cfg.Source and
// returns a startSources callback that begins any listener goroutines
// those sources need (only the "remote" backend has one — a single
// RemoteServer instance implements both imu.Source and gps.Source, so
// its listener must be started exactly once).
func buildSources(ctx context.Context, cfg *config.Config) (imu.Source, gps.Source, func(), error) {
	switch cfg.Source {
	case "remote":
		remote := sources.NewRemoteServer(fmt.Sprintf(":%d", cfg.RemotePort))
		start := func() {
			go func() {
				if err := remote.Run(ctx); err != nil {
					log.Printf("remote ingest server stopped: %v", err)
				}
			}()
		}
		return remote, remote, start, nil

	case "linux", "auto":
		imuSource := sources.NewIIOReader(cfg.AccelPath, cfg.GyroPath, cfg.MagnetometerPath)

		var gpsSource gps.Source
		var err error
		if cfg.GPSSerialPort != "" {
			gpsSource, err = sources.NewSerialNMEAReader(cfg.GPSSerialPort, cfg.GPSBaudRate)
		} else {
			gpsSource, err = sources.NewGPSDReader(cfg.GPSDHost, cfg.GPSDPort)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		return imuSource, gpsSource, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unrecognized source %q", cfg.Source)
	}
}
