// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package nmea

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const clientQueueDepth = 32

// Server is the NMEA broadcast listener: the emit loop calls Broadcast
// once per sentence, and every connected client receives it through its
// own bounded queue so a slow client can never back-pressure the
// fusion pipeline, per spec.md §4.7/§9.
type Server struct {
	bind string

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	queue chan string
	conn  net.Conn
}

// NewServer constructs a broadcast server bound to bind (host:port).
func NewServer(bind string) *Server {
	return &Server{bind: bind, clients: make(map[*client]struct{})}
}

// Run listens and accepts clients until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return fmt.Errorf("nmea broadcast server listen on %s: %w", s.bind, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("nmea broadcast server listening on %s", s.bind)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("nmea broadcast server accept error: %v", err)
				continue
			}
		}
		s.addClient(ctx, conn)
	}
}

func (s *Server) addClient(ctx context.Context, conn net.Conn) {
	c := &client{queue: make(chan string, clientQueueDepth), conn: conn}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sentence, ok := <-c.queue:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if _, err := conn.Write([]byte(sentence)); err != nil {
					return
				}
			}
		}
	}()
}

// Broadcast enqueues sentence for every connected client. A client
// whose queue is full has its oldest pending sentence dropped to make
// room — the emit loop's enqueue never blocks.
func (s *Server) Broadcast(sentence string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.queue <- sentence:
		default:
			select {
			case <-c.queue:
			default:
			}
			select {
			case c.queue <- sentence:
			default:
			}
		}
	}
}
