package session

import (
	"golang.org/x/sync/errgroup"
)

// teardown closes the socket, kills a live child, and releases every
// resource. Closing a pipe whose helper is blocked in a read does not
// deadlock here (see ioendpoint.Reader.Close), so nothing is leaked: the
// child is killed first (which unblocks any goroutine blocked reading
// its stdout/stderr or writing its stdin), the socket is closed (which
// unblocks the socket endpoints), and then every endpoint's helper
// goroutine is joined concurrently with errgroup.
func (c *Conn) teardown() {
	c.setState(StateClosing)

	if c.proc != nil {
		c.proc.Kill()
	}
	c.nc.Close()

	var g errgroup.Group
	g.Go(func() error { c.sockRead.Close(); return nil })
	g.Go(func() error { c.sockWrite.Close(); return nil })
	if c.stdoutReadEP != nil {
		g.Go(func() error { c.stdoutReadEP.Close(); return nil })
	}
	if c.stderrReadEP != nil {
		g.Go(func() error { c.stderrReadEP.Close(); return nil })
	}
	c.mu.Lock()
	stdinEP := c.stdinWriteEP
	c.mu.Unlock()
	if stdinEP != nil {
		g.Go(func() error { stdinEP.Close(); return nil })
	}
	g.Wait()

	if c.proc != nil {
		c.proc.Stdin().Close()
		c.proc.Stdout().Close()
		c.proc.Stderr().Close()
	}
}
