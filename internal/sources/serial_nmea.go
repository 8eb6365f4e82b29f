// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sources

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"

	nmeaparse "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/navit-daemon/internal/gps"
)

// SerialNMEAReader is a supplemental local GPS backend beyond what
// spec.md requires (gpsd only): it reads raw NMEA sentences directly
// off a serial port and parses GGA/RMC, mirroring how
// relabs-tech-inertial_computer's own gps_producer.go already talks to
// a GPS module before republishing over MQTT. Selected with
// -gps-serial-port.
type SerialNMEAReader struct {
	port io.ReadWriteCloser

	mu    sync.Mutex
	fix   gps.Fix
	fresh bool
}

// NewSerialNMEAReader opens portName at baudRate and starts a
// background goroutine parsing incoming NMEA sentences.
func NewSerialNMEAReader(portName string, baudRate int) (*SerialNMEAReader, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open GPS serial port %s: %w", portName, err)
	}

	r := &SerialNMEAReader{port: port}
	go r.readLoop()
	return r, nil
}

func (r *SerialNMEAReader) readLoop() {
	reader := bufio.NewReader(r.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("GPS serial read error: %v", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmeaparse.Parse(line)
		if err != nil {
			continue
		}

		switch s := sentence.(type) {
		case nmeaparse.RMC:
			r.applyRMC(s)
		case nmeaparse.GGA:
			r.applyGGA(s)
		default:
			// GSA/VTG/GSV/GLL carry no field spec.md's GpsFix needs.
		}
	}
}

func (r *SerialNMEAReader) applyRMC(m nmeaparse.RMC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fix.Lat = m.Latitude
	r.fix.Lon = m.Longitude
	speed := m.Speed * 0.514444
	if speed < 0 {
		speed = 0
	}
	r.fix.SpeedMS = speed
	r.fix.Track = normalizeTrack(m.Course)
	r.fix.Valid = string(m.Validity) == "A"
	if m.Date.Valid && m.Time.Valid {
		r.fix.TimeISO = fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
			2000+m.Date.YY, m.Date.MM, m.Date.DD,
			m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond)
	}
	r.fresh = true
}

func (r *SerialNMEAReader) applyGGA(m nmeaparse.GGA) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fix.Lat = m.Latitude
	r.fix.Lon = m.Longitude
	r.fix.Alt = m.Altitude
	r.fix.NumSats = int(m.NumSatellites)
	r.fix.HDOP = m.HDOP
	if q, err := fixQualityToInt(m.FixQuality); err == nil {
		r.fix.FixQuality = q
	}
	r.fresh = true
}

func fixQualityToInt(q string) (int, error) {
	switch q {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	case "2":
		return 2, nil
	case "4":
		return 4, nil
	case "5":
		return 5, nil
	default:
		return 0, fmt.Errorf("unrecognized fix quality %q", q)
	}
}

func normalizeTrack(track float64) float64 {
	t := track
	t = t - 360*floorDiv(t, 360)
	if t < 0 {
		t += 360
	}
	return t
}

func floorDiv(a, b float64) float64 {
	return math.Floor(a / b)
}

// ReadFix implements gps.Source.
func (r *SerialNMEAReader) ReadFix() (*gps.Fix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fresh {
		return nil, nil
	}
	r.fresh = false
	fix := r.fix
	return &fix, nil
}

// Close releases the serial port.
func (r *SerialNMEAReader) Close() error {
	return r.port.Close()
}
