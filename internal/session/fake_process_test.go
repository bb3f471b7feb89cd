package session

import (
	"io"
	"sync"
)

// fakeProcess is a Process test double backed by in-memory pipes, so a
// test can play the role of the child: write bytes the connection should
// forward as stdout/stderr, read bytes the connection forwarded from
// stdin, and signal an exit code on demand.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	pid    int
	exitCh chan int32

	mu     sync.Mutex
	killed bool
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exitCh: make(chan int32, 1)}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Wait() (int32, error) {
	return <-p.exitCh, nil
}

// exit signals Wait to return code. Call once the test has finished
// driving stdout/stderr to their intended EOF.
func (p *fakeProcess) exit(code int32) { p.exitCh <- code }

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.mu.Unlock()

	p.stdinR.Close()
	p.stdoutW.Close()
	p.stderrW.Close()
}

// fakeSpawner returns a pre-built fakeProcess and records the arguments
// it was spawned with.
type fakeSpawner struct {
	proc *fakeProcess

	mu      sync.Mutex
	appPath string
	cmdLine string
	workDir string
	err     error
}

func (s *fakeSpawner) Spawn(appPath, cmdLine, workDir string) (Process, error) {
	s.mu.Lock()
	s.appPath, s.cmdLine, s.workDir = appPath, cmdLine, workDir
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.proc, nil
}
