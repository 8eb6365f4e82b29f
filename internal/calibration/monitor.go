// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Monitor is a read-only WebSocket status feed for the calibration
// manager: each connected client receives a JSON snapshot of the
// current calibration and run state on the first poll after it
// connects and whenever the
// run status (idle/collecting) changes; calibration changes that leave
// the run status as it was are not pushed. It is
// additive to, not a replacement for, the line-oriented TCP control
// protocol in server.go — operators still mutate calibration through
// Server; Monitor exists only so a browser-based dashboard can observe
// state without polling the TCP protocol.
type Monitor struct {
	manager  *Manager
	upgrader websocket.Upgrader
}

// NewMonitor returns a Monitor bound to manager.
func NewMonitor(manager *Manager) *Monitor {
	return &Monitor{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams status snapshots, polled
// every 500ms, until a write to the client fails. It has no context of
// its own, so shutting down the Serve HTTP server does not end it.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration monitor: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastStatus RunStatus = "__unset__"
	for range ticker.C {
		cal, run := m.manager.Get()
		if run.Status == lastStatus {
			continue
		}
		lastStatus = run.Status
		snapshot := map[string]interface{}{
			"gyro_bias":          vecToSlice(cal.GyroBias),
			"accel_offset":       vecToSlice(cal.AccelOffset),
			"magnetometer_bias":  vecToSlice(cal.MagBias),
			"calibration_status": string(run.Status),
			"samples_collected":  run.SamplesCollected,
			"samples_needed":     run.SamplesNeeded,
		}
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}
}

// Serve runs an HTTP server exposing the monitor at /ws/status until ctx
// is cancelled. It is started only when the operator configures a
// monitor bind address; the daemon functions fully without it.
func Serve(ctx context.Context, bind string, monitor *Monitor) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", monitor.ServeHTTP)

	srv := &http.Server{Addr: bind, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
