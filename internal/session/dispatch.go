package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/frame"
	"github.com/solemnwarning/ice-9/internal/ioendpoint"
)

// fatalErr marks an error that requires immediate teardown without an
// exit frame: a protocol violation, an I/O error, or a spawn failure.
type fatalErr struct{ err error }

func (f *fatalErr) Error() string { return f.err.Error() }
func (f *fatalErr) Unwrap() error { return f.err }

func fatal(format string, args ...any) error {
	return &fatalErr{err: fmt.Errorf(format, args...)}
}

// drainFrames decodes and dispatches every complete frame at the head of
// recvBuf, compacting as it goes. It stops when the buffer holds only a
// partial frame (normal) or when a non-empty 'I' frame stalls behind a
// pending stdin write — in the latter case the frame is left un-consumed
// for a later call to retry.
func (c *Conn) drainFrames() error {
	for {
		cmd, payload, consumed, ok := frame.Peek(c.recvBuf.Bytes())
		if !ok {
			return nil
		}

		stalled, err := c.dispatch(cmd, payload)
		if err != nil {
			return err
		}
		if stalled {
			return nil
		}
		c.recvBuf.Compact(consumed)
	}
}

// dispatch handles one decoded frame. stalled is true if the frame must
// be retried later (left in the buffer) rather than consumed now.
func (c *Conn) dispatch(cmd byte, payload []byte) (stalled bool, err error) {
	state := c.getState()

	switch cmd {
	case frame.CmdAppPath:
		if state != StateSetup {
			return false, fatal("'A' frame outside Setup state")
		}
		c.mu.Lock()
		c.appPath = string(payload)
		c.mu.Unlock()
		return false, nil

	case frame.CmdCmdLine:
		if state != StateSetup {
			return false, fatal("'C' frame outside Setup state")
		}
		c.mu.Lock()
		c.cmdLine = string(payload)
		c.mu.Unlock()
		return false, nil

	case frame.CmdWorkDir:
		if state != StateSetup {
			return false, fatal("'W' frame outside Setup state")
		}
		c.mu.Lock()
		c.workDir = string(payload)
		c.hasWorkDr = true
		c.mu.Unlock()
		return false, nil

	case frame.CmdExecute:
		if state != StateSetup {
			return false, fatal("'E' frame outside Setup state")
		}
		if err := c.spawn(); err != nil {
			return false, err
		}
		return false, nil

	case frame.CmdStdin:
		if state != StateRunning {
			return false, fatal("'I' frame outside Running state")
		}
		return c.handleStdin(payload)

	default:
		return false, fatal("unknown command tag %q", cmd)
	}
}

// handleStdin implements the 'I' frame rule: empty payload closes stdin;
// non-empty payload is written, or stalled if a write is already
// pending.
func (c *Conn) handleStdin(payload []byte) (stalled bool, err error) {
	if len(payload) == 0 {
		c.closeStdin()
		return false, nil
	}

	c.mu.Lock()
	ep := c.stdinWriteEP
	c.mu.Unlock()
	if ep == nil {
		// stdin already closed by a prior empty 'I' frame; further data
		// has nowhere to go. Not a protocol violation worth tearing
		// the connection down over — the child simply won't see it.
		c.log.Warn("stdin data received after stdin was closed")
		return false, nil
	}

	if ep.Pending() {
		return true, nil // stall: retry once the pending write completes
	}
	if err := ep.Initiate(payload); err != nil {
		if errors.Is(err, ioendpoint.ErrPending) {
			// The previous write has completed but its result is not yet
			// collected; onStdinWriteDone collects it and retries.
			return true, nil
		}
		return false, fatal("stdin write initiate: %w", err)
	}
	return false, nil
}

func (c *Conn) closeStdin() {
	c.mu.Lock()
	ep := c.stdinWriteEP
	c.stdinWriteEP = nil
	c.mu.Unlock()
	if ep == nil {
		return
	}
	// Close the pipe before joining the endpoint's helper: a write still
	// in flight only returns once the pipe is closed.
	if c.proc != nil {
		c.proc.Stdin().Close()
	}
	ep.Close()
}

// write appends a frame to the send buffer: insufficient capacity is an
// unrecoverable overrun and tears the connection down.
func (c *Conn) write(cmd byte, payload []byte) error {
	need := frame.Size(len(payload))
	if c.sendBuf.Free() < need {
		return fatal("send buffer overrun: need %d, free %d", need, c.sendBuf.Free())
	}
	buf, err := frame.Encode(nil, cmd, payload)
	if err != nil {
		return fatal("encode: %w", err)
	}
	if !c.sendBuf.Append(buf) {
		// Can't happen given the capacity check above, but keep the
		// invariant enforced defensively.
		return fatal("send buffer overrun appending %d bytes", len(buf))
	}
	return nil
}

// logFatal logs a fatal condition encountered during teardown.
func (c *Conn) logFatal(stage string, err error) {
	c.log.Warn("connection teardown", zap.String("stage", stage), zap.Error(err))
}
