// Package server implements the listener and the fixed-capacity
// connection table. Each accepted connection is handed to its own
// goroutine running the session state machine (internal/session); the
// server itself only owns accept, the capacity gate, and a map of
// live connections kept for introspection.
package server

import (
	"errors"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/fmtt"
	"github.com/solemnwarning/ice-9/internal/session"
)

// DefaultCapacity is the fixed connection-table size: connections beyond
// this many concurrent sessions are accepted and immediately closed.
const DefaultCapacity = 16

// Server accepts connections on a single listening socket and drives one
// session.Conn per accepted connection.
type Server struct {
	log      *zap.Logger
	spawner  session.Spawner
	slots    *slotPool
	nextID   atomic.Int64
	onClosed func(info session.Info)

	mu    sync.RWMutex
	conns map[int64]*session.Conn
}

// New constructs a Server. capacity <= 0 uses DefaultCapacity.
func New(log *zap.Logger, spawner session.Spawner, capacity int) *Server {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Server{
		log:     log.Named("server"),
		spawner: spawner,
		slots:   newSlotPool(capacity),
		conns:   make(map[int64]*session.Conn),
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed). It does not return during normal operation;
// the daemon runs this loop for its entire lifetime.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("capacity", s.slots.capacity()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.handleAccept(nc)
	}
}

func (s *Server) handleAccept(nc net.Conn) {
	id := s.nextID.Add(1)

	if !s.slots.tryAcquire(id) {
		s.log.Warn("connection table full, rejecting",
			zap.Int64("conn_id", id),
			zap.String("remote", nc.RemoteAddr().String()),
			zap.Int("capacity", s.slots.capacity()))
		nc.Close()
		return
	}

	conn := session.New(id, nc, s.log, s.spawner)
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	s.log.Info("accepted", zap.Int64("conn_id", id), zap.String("remote", nc.RemoteAddr().String()))

	go s.run(id, conn)
}

func (s *Server) run(id int64, conn *session.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.slots.release(id)
		if s.onClosed != nil {
			s.onClosed(conn.Snapshot())
		}
	}()

	if err := conn.Run(); err != nil {
		s.log.Info("connection closed", zap.Int64("conn_id", id), zap.Error(err))
		fmtt.PrintErrChainDebug(os.Stderr, err)
	} else {
		s.log.Info("connection closed", zap.Int64("conn_id", id))
	}
}

// OnClosed registers a callback invoked with a final snapshot whenever a
// connection is torn down — used by the optional audit sink.
func (s *Server) OnClosed(fn func(info session.Info)) {
	s.onClosed = fn
}

// Sessions returns a snapshot of every currently open connection, newest
// first by id — used by the optional admin API.
func (s *Server) Sessions() []session.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]session.Info, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Capacity returns the configured connection table size.
func (s *Server) Capacity() int { return s.slots.capacity() }

// Occupied returns the number of connections currently open.
func (s *Server) Occupied() int { return s.slots.current() }
