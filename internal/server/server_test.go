package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/session"
)

// blockingSpawner never actually spawns a child: the tests in this
// package exercise accept/capacity/registry behavior, not the session
// state machine, so connections are simply left in the Setup state
// until the test closes them.
type blockingSpawner struct{}

func (blockingSpawner) Spawn(appPath, cmdLine, workDir string) (session.Process, error) {
	return nil, errors.New("blockingSpawner: Spawn should not be called in these tests")
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestCapacityRejectsBeyondLimit(t *testing.T) {
	ln := listen(t)
	defer ln.Close()

	srv := New(zap.NewNop(), blockingSpawner{}, 2)
	go srv.Serve(ln)

	var accepted []net.Conn
	defer func() {
		for _, c := range accepted {
			c.Close()
		}
	}()

	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		accepted = append(accepted, c)
	}

	waitForOccupied(t, srv, 2)

	rejected, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial rejected: %v", err)
	}
	defer rejected.Close()

	rejected.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := rejected.Read(buf); err != io.EOF {
		t.Fatalf("got err=%v, want io.EOF for a connection beyond capacity", err)
	}

	for _, c := range accepted {
		c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, err := c.Read(buf)
		if !isTimeout(err) {
			t.Fatalf("accepted connection closed unexpectedly: %v", err)
		}
	}
}

func TestSessionsAndOnClosed(t *testing.T) {
	ln := listen(t)
	defer ln.Close()

	srv := New(zap.NewNop(), blockingSpawner{}, DefaultCapacity)

	var mu sync.Mutex
	var closedIDs []int64
	closed := make(chan struct{}, 1)
	srv.OnClosed(func(info session.Info) {
		mu.Lock()
		closedIDs = append(closedIDs, info.ID)
		mu.Unlock()
		closed <- struct{}{}
	})

	go srv.Serve(ln)

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForOccupied(t, srv, 1)

	sessions := srv.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].State != "setup" {
		t.Fatalf("got state %q, want setup", sessions[0].State)
	}

	c.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed was not invoked after client disconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(closedIDs) != 1 {
		t.Fatalf("got %d closed callbacks, want 1", len(closedIDs))
	}
	if srv.Occupied() != 0 {
		t.Fatalf("got occupied=%d after close, want 0", srv.Occupied())
	}
}

func waitForOccupied(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Occupied() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("occupied never reached %d, stuck at %d", n, srv.Occupied())
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
