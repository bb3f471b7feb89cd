package session

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/frame"
	"github.com/solemnwarning/ice-9/internal/ioendpoint"
)

// Run drives the connection's event loop until the connection is fully
// torn down — destroyed once the send buffer has fully drained or on any
// fatal error. It never returns an error for the ordinary end-of-session
// case; the return value is purely informational for logging.
//
// Each connection runs its own goroutine with a select over every event
// source (socket readable/writable, stdout/stderr readable, stdin
// writable, child exited), gated by backpressure rules evaluated in
// arm(). A channel that nobody has armed with Initiate simply never
// fires, which is what makes that gating sufficient on its own — the
// select statement does not need per-iteration nil-ing.
func (c *Conn) Run() error {
	defer c.teardown()

	for {
		if done, err := c.maybeFinish(); done {
			return err
		}
		c.arm()

		select {
		case <-c.sockRead.Event():
			if err := c.onSockRead(); err != nil {
				return err
			}
		case <-c.sockWrite.Event():
			if err := c.onSockWrite(); err != nil {
				return err
			}
		case <-c.stdoutEvent():
			if err := c.onPipeRead(frame.CmdStdout, c.stdoutReadEP, &c.stdoutEOF); err != nil {
				return err
			}
		case <-c.stderrEvent():
			if err := c.onPipeRead(frame.CmdStderr, c.stderrReadEP, &c.stderrEOF); err != nil {
				return err
			}
		case <-c.stdinEvent():
			if err := c.onStdinWriteDone(); err != nil {
				return err
			}
		case ce := <-c.childExitCh:
			code := ce.code
			c.pendingExit = &code
			if ce.err != nil {
				c.log.Warn("error waiting for child", zap.Error(ce.err))
			}
		}
	}
}

// maybeFinish reports whether the connection is fully drained and ready
// to be destroyed: in the Closing state with an empty send buffer.
func (c *Conn) maybeFinish() (bool, error) {
	if c.getState() != StateClosing {
		return false, nil
	}
	if c.sendBuf.Used() > 0 || c.sockWrite.Pending() {
		return false, nil
	}
	return true, nil
}

// arm initiates every operation the current backpressure gates permit.
func (c *Conn) arm() {
	if c.recvBuf.Free() > 0 && !c.sockRead.Pending() {
		n := c.recvBuf.Free()
		if n > SockChunk {
			n = SockChunk
		}
		_ = c.sockRead.Initiate(n)
	}
	if c.sendBuf.Used() > 0 && !c.sockWrite.Pending() {
		_ = c.sockWrite.Initiate(c.sendBuf.Bytes())
	}

	if c.getState() != StateRunning {
		return
	}

	// Each in-flight pipe read is a commitment to append one max-size
	// frame to sendBuf whenever it completes, and completions are not
	// re-gated against the buffer once initiated (the data has already
	// left the pipe). Reserve room for every read already outstanding
	// plus the one about to be armed, so two reads landing back to back
	// can never jointly overrun the buffer: the first read in a round is
	// gated against a single frame, the second against two.
	outstanding := 0
	if c.stdoutReadEP != nil && c.stdoutReadEP.Pending() {
		outstanding++
	}
	if c.stderrReadEP != nil && c.stderrReadEP.Pending() {
		outstanding++
	}

	if c.stdoutReadEP != nil && !c.stdoutEOF && !c.stdoutReadEP.Pending() &&
		c.sendBuf.Free() >= frame.Size(PipeChunk)*(outstanding+1) {
		_ = c.stdoutReadEP.Initiate(PipeChunk)
		outstanding++
	}
	if c.stderrReadEP != nil && !c.stderrEOF && !c.stderrReadEP.Pending() &&
		c.sendBuf.Free() >= frame.Size(PipeChunk)*(outstanding+1) {
		_ = c.stderrReadEP.Initiate(PipeChunk)
		outstanding++
	}
	c.tryEmitExit()
}

func (c *Conn) stdoutEvent() <-chan struct{} {
	if c.stdoutReadEP == nil {
		return nil
	}
	return c.stdoutReadEP.Event()
}

func (c *Conn) stderrEvent() <-chan struct{} {
	if c.stderrReadEP == nil {
		return nil
	}
	return c.stderrReadEP.Event()
}

func (c *Conn) stdinEvent() <-chan struct{} {
	c.mu.Lock()
	ep := c.stdinWriteEP
	c.mu.Unlock()
	if ep == nil {
		return nil
	}
	return ep.Event()
}

// onSockRead handles a completed socket read: append to recvBuf and
// drain any complete frames.
func (c *Conn) onSockRead() error {
	buf, err := c.sockRead.Result()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Peer closed the connection. A session that had fully
			// drained would already have finished in maybeFinish, so
			// this is an abrupt disconnect: end the connection rather
			// than re-arming a read that can only report EOF again.
			return fatal("peer closed the connection in %s state", c.getState())
		}
		return fatal("socket read: %w", err)
	}
	if len(buf) == 0 {
		return nil // zero-length read, discard and let arm() re-initiate
	}
	if !c.recvBuf.Append(buf) {
		return fatal("recv buffer overrun")
	}
	return c.drainFrames()
}

// onSockWrite handles a completed socket write: compact the sent prefix.
func (c *Conn) onSockWrite() error {
	n, err := c.sockWrite.Result()
	if err != nil {
		return fatal("socket write: %w", err)
	}
	c.sendBuf.Compact(n)
	return nil
}

// onPipeRead handles a completed read on one child output pipe.
func (c *Conn) onPipeRead(cmd byte, ep *ioendpoint.Reader, eofFlag *bool) error {
	buf, err := ep.Result()
	if err != nil {
		if errors.Is(err, io.EOF) || isBrokenPipe(err) {
			*eofFlag = true
			return c.write(cmd, nil) // empty frame signals stream EOF
		}
		return fatal("pipe read (%c): %w", cmd, err)
	}
	if len(buf) == 0 {
		return nil // zero-length read, discard
	}
	return c.write(cmd, buf)
}

// onStdinWriteDone handles completion of a pending stdin write.
func (c *Conn) onStdinWriteDone() error {
	c.mu.Lock()
	ep := c.stdinWriteEP
	c.mu.Unlock()
	if ep == nil {
		return nil
	}
	if _, err := ep.Result(); err != nil {
		return fatal("stdin write: %w", err)
	}
	// A previous 'I' frame may have stalled behind this write: it was
	// left un-consumed in recvBuf, so retry the decode now that the
	// endpoint is Idle again.
	return c.drainFrames()
}

// tryEmitExit sends the 'X' frame once both output pipes have reached
// EOF and the send buffer has room for it, not before.
func (c *Conn) tryEmitExit() {
	if c.pendingExit == nil || !c.stdoutEOF || !c.stderrEOF {
		return
	}
	if c.sendBuf.Free() < frame.Size(4) {
		return
	}
	code := *c.pendingExit
	c.pendingExit = nil
	if err := c.write(frame.CmdExit, frame.EncodeExit(code)); err != nil {
		c.logFatal("emit exit frame", err)
		return
	}
	c.mu.Lock()
	c.lastExitCode = &code
	c.state = StateClosing
	c.mu.Unlock()
	c.log.Info("session complete", zap.Int32("exit_code", code))
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
