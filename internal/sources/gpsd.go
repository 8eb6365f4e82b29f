// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sources

import (
	"fmt"
	"sync"

	gpsd "github.com/stratoberry/go-gpsd"

	"github.com/relabs-tech/navit-daemon/internal/gps"
)

// GPSDReader is the local GPS backend that subscribes to a gpsd daemon
// in watcher mode and converts TPV reports into gps.Fix, per spec.md
// §4.1.
type GPSDReader struct {
	session *gpsd.Session

	mu    sync.Mutex
	fix   *gps.Fix
	fresh bool
}

// NewGPSDReader dials gpsd at host:port and subscribes to TPV reports.
func NewGPSDReader(host string, port int) (*GPSDReader, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	session, err := gpsd.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("connect to gpsd at %s: %w", addr, err)
	}

	r := &GPSDReader{session: session}

	session.AddFilter("TPV", func(report interface{}) {
		tpv, ok := report.(*gpsd.TPVReport)
		if !ok {
			return
		}
		speed := tpv.Speed
		if speed < 0 {
			speed = 0
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.fix = &gps.Fix{
			Lat:     tpv.Lat,
			Lon:     tpv.Lon,
			Alt:     tpv.Alt,
			SpeedMS: speed,
			Track:   tpv.Track,
			TimeISO: tpv.Time.UTC().Format("2006-01-02T15:04:05Z"),
			Valid:   tpv.Mode >= 2,
		}
		r.fresh = true
	})

	session.Watch()
	return r, nil
}

// ReadFix implements gps.Source.
func (r *GPSDReader) ReadFix() (*gps.Fix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fresh {
		return nil, nil
	}
	r.fresh = false
	fix := *r.fix
	return &fix, nil
}

// Close releases the gpsd session.
func (r *GPSDReader) Close() error {
	r.session.Close()
	return nil
}
