package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/ioendpoint"
)

// spawn implements the 'E' frame effect: resolve the application path,
// spawn the child, wire up its pipes, and transition to Running. On any
// failure the connection is torn down without an exit frame.
func (c *Conn) spawn() error {
	c.mu.Lock()
	appPath, cmdLine, workDir := c.appPath, c.cmdLine, c.workDir
	c.mu.Unlock()

	proc, err := c.spawner.Spawn(appPath, cmdLine, workDir)
	if err != nil {
		return fatal("spawn %q: %w", appPath, err)
	}

	c.proc = proc
	c.stdinWriteEP = ioendpoint.NewWriter(proc.Stdin())
	c.stdoutReadEP = ioendpoint.NewReader(proc.Stdout())
	c.stderrReadEP = ioendpoint.NewReader(proc.Stderr())

	if err := c.stdoutReadEP.Initiate(PipeChunk); err != nil {
		return fatal("initiate stdout read: %w", err)
	}
	if err := c.stderrReadEP.Initiate(PipeChunk); err != nil {
		return fatal("initiate stderr read: %w", err)
	}

	go func() {
		code, werr := proc.Wait()
		c.childExitCh <- childExit{code: code, err: werr}
	}()

	c.mu.Lock()
	c.state = StateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("child spawned",
		zap.String("app_path", appPath),
		zap.String("cmd_line", cmdLine),
		zap.Int("pid", proc.Pid()))
	return nil
}
