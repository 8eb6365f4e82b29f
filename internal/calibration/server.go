// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/relabs-tech/navit-daemon/internal/imu"
)

// request is the line-oriented JSON envelope the control protocol
// accepts. Only one of the three operations is meaningful per line;
// unmarshalling never fails on extra or missing keys, matching the
// source's "dynamic typing in wire protocol" design note.
type request struct {
	GetCalibration bool             `json:"get_calibration"`
	SetCalibration *json.RawMessage `json:"set_calibration"`
	CalibrateGyro  *calibrateGyroReq `json:"calibrate_gyro"`
}

type calibrateGyroReq struct {
	Seconds float64 `json:"seconds"`
}

type setCalibrationReq struct {
	GyroBias    *[3]json.Number `json:"gyro_bias"`
	AccelOffset *[3]json.Number `json:"accel_offset"`
	MagBias     *[3]json.Number `json:"magnetometer_bias"`
}

// Server is the loopback-only TCP JSON RPC control plane described in
// spec.md §4.4: one request line in, one response line out, serialized
// at the Manager's lock but never blocking the connection on anything
// else.
type Server struct {
	manager *Manager
	bind    string
}

// NewServer binds the calibration control protocol to bind (host:port).
func NewServer(manager *Manager, bind string) *Server {
	return &Server{manager: manager, bind: bind}
}

// Run listens and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return fmt.Errorf("calibration server listen on %s: %w", s.bind, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("calibration control server listening on %s", s.bind)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("calibration server accept error: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		line := scanner.Bytes()
		resp := s.handleLine(line)
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Printf("calibration server: failed to marshal response: %v", err)
			continue
		}
		if _, err := conn.Write(append(payload, '\n')); err != nil {
			return
		}
	}
}

// handleLine never raises on any input: malformed JSON, an unrecognized
// shape, or an empty line all produce an error response, not a dropped
// connection.
func (s *Server) handleLine(line []byte) interface{} {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid request: %v", err))
	}

	switch {
	case req.GetCalibration:
		cal, run := s.manager.Get()
		return map[string]interface{}{
			"gyro_bias":          vecToSlice(cal.GyroBias),
			"accel_offset":       vecToSlice(cal.AccelOffset),
			"magnetometer_bias":  vecToSlice(cal.MagBias),
			"calibration_status": string(run.Status),
			"samples_collected":  run.SamplesCollected,
			"samples_needed":     run.SamplesNeeded,
		}

	case req.SetCalibration != nil:
		var body setCalibrationReq
		if err := json.Unmarshal(*req.SetCalibration, &body); err != nil {
			return errorResponse(fmt.Sprintf("invalid set_calibration: %v", err))
		}
		partial, err := toSetPartial(body)
		if err != nil {
			return errorResponse(err.Error())
		}
		if err := s.manager.Set(partial); err != nil {
			return errorResponse(err.Error())
		}
		return map[string]interface{}{"ok": true}

	case req.CalibrateGyro != nil:
		run := s.manager.StartGyroRun(req.CalibrateGyro.Seconds)
		return map[string]interface{}{
			"status":         string(run.Status),
			"samples_needed": run.SamplesNeeded,
		}

	default:
		return errorResponse("unrecognized request")
	}
}

func toSetPartial(body setCalibrationReq) (SetPartial, error) {
	var partial SetPartial
	if body.GyroBias != nil {
		v, err := toVec3(*body.GyroBias)
		if err != nil {
			return partial, fmt.Errorf("gyro_bias: %w", err)
		}
		partial.GyroBias = &v
	}
	if body.AccelOffset != nil {
		v, err := toVec3(*body.AccelOffset)
		if err != nil {
			return partial, fmt.Errorf("accel_offset: %w", err)
		}
		partial.AccelOffset = &v
	}
	if body.MagBias != nil {
		v, err := toVec3(*body.MagBias)
		if err != nil {
			return partial, fmt.Errorf("magnetometer_bias: %w", err)
		}
		partial.MagBias = &v
	}
	return partial, nil
}

func toVec3(n [3]json.Number) (imu.Vec3, error) {
	x, err := n[0].Float64()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("non-numeric element: %w", err)
	}
	y, err := n[1].Float64()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("non-numeric element: %w", err)
	}
	z, err := n[2].Float64()
	if err != nil {
		return imu.Vec3{}, fmt.Errorf("non-numeric element: %w", err)
	}
	return imu.Vec3{X: x, Y: y, Z: z}, nil
}

func vecToSlice(v imu.Vec3) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func errorResponse(reason string) map[string]interface{} {
	return map[string]interface{}{"error": reason}
}
