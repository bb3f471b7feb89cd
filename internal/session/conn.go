// Package session implements the per-connection state machine: frame
// parsing, the Setup→Running→Closing lifecycle, the receive/send buffer
// invariants, and translation of child process I/O into outbound frames.
package session

import (
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/ioendpoint"
)

// State is a connection slot's lifecycle state.
type State int

const (
	StateSetup State = iota
	StateRunning
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	// RecvBufCap is the receive buffer capacity (~72 KiB).
	RecvBufCap = 72 * 1024
	// SendBufCap is the send buffer capacity (~128 KiB).
	SendBufCap = 128 * 1024
	// PipeChunk is the maximum size of a single pipe read (~32 KiB).
	PipeChunk = 32 * 1024
	// SockChunk bounds a single socket read.
	SockChunk = 32 * 1024
)

// Spawner starts a child process for a Conn. It is an injection seam so
// tests can substitute a fake without touching os/exec.
type Spawner interface {
	Spawn(appPath, cmdLine, workDir string) (Process, error)
}

// Process is the subset of a spawned child's surface the state machine
// needs: its standard handles and a way to learn its exit code.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int32, error)
	// Pid returns the child's process id, for introspection only.
	Pid() int
	// Kill forcibly terminates the child as part of teardown.
	Kill()
}

// Conn is one connection slot: the per-connection state machine.
type Conn struct {
	ID  int64
	log *zap.Logger

	nc      net.Conn
	spawner Spawner

	sockRead  *ioendpoint.Reader
	sockWrite *ioendpoint.Writer

	recvBuf *ringBuffer
	sendBuf *ringBuffer

	mu        sync.Mutex
	state     State
	appPath   string
	cmdLine   string
	workDir   string
	hasWorkDr bool
	startedAt time.Time

	proc         Process
	stdinWriteEP *ioendpoint.Writer // nil once stdin closed or before spawn
	stdoutReadEP *ioendpoint.Reader
	stderrReadEP *ioendpoint.Reader
	stdoutEOF    bool
	stderrEOF    bool

	childExitCh  chan childExit
	pendingExit  *int32
	lastExitCode *int32
}

type childExit struct {
	code int32
	err  error
}

// New constructs a Conn for an accepted socket. The caller must call Run.
func New(id int64, nc net.Conn, log *zap.Logger, spawner Spawner) *Conn {
	return &Conn{
		ID:      id,
		log:     log.With(zap.Int64("conn_id", id)),
		nc:      nc,
		spawner: spawner,

		sockRead:  ioendpoint.NewReader(nc),
		sockWrite: ioendpoint.NewWriter(nc),

		recvBuf: newRingBuffer(RecvBufCap),
		sendBuf: newRingBuffer(SendBufCap),

		state: StateSetup,

		childExitCh: make(chan childExit, 1),
	}
}

// Info is a read-only snapshot of a connection's state, for the admin API
// and the audit sink.
type Info struct {
	ID         int64
	State      string
	AppPath    string
	CmdLine    string
	WorkDir    string
	Pid        int
	StartedAt  time.Time
	RemoteAddr string
	ExitCode   *int32
}

// Snapshot returns the current state for introspection. Safe for
// concurrent use with Run.
func (c *Conn) Snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		ID:        c.ID,
		State:     c.state.String(),
		AppPath:   c.appPath,
		CmdLine:   c.cmdLine,
		WorkDir:   c.workDir,
		StartedAt: c.startedAt,
	}
	if c.nc != nil {
		info.RemoteAddr = c.nc.RemoteAddr().String()
	}
	if c.proc != nil {
		info.Pid = c.proc.Pid()
	}
	info.ExitCode = c.lastExitCode
	return info
}

func (c *Conn) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
