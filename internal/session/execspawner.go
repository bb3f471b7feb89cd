package session

import (
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/solemnwarning/ice-9/internal/pathresolve"
	"github.com/solemnwarning/ice-9/internal/quoting"
)

// ExecSpawner is the real Spawner, backed by os/exec. It resolves the
// application path via pathresolve and recovers argv from the
// client-supplied command line via quoting.Split, since os/exec always
// takes an argument vector rather than a single command-line string.
type ExecSpawner struct {
	// Env is the environment passed to every spawned child. The daemon
	// never propagates a client-supplied environment: every child
	// inherits the server process's own.
	Env []string
}

func (s *ExecSpawner) Spawn(appPath, cmdLine, workDir string) (Process, error) {
	resolved, found := pathresolve.Resolve(appPath)
	if !found {
		return nil, fmt.Errorf("executable not found: %s", appPath)
	}

	argv := quoting.Split(cmdLine)
	if len(argv) == 0 {
		argv = []string{resolved}
	}

	cmd := exec.Command(resolved, argv[1:]...)
	cmd.Args = argv // argv[0] is whatever the client's command line named, not necessarily resolved
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = s.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // isolate into its own process group so teardown can signal it as a unit
	}

	stdout, stderr, stdin, err := pipesFor(cmd)
	if err != nil {
		return nil, fmt.Errorf("pipe setup: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// pipesFor allocates stdin/stdout/stderr pipes for cmd, closing any
// already-created pipe if a later one fails so a partial setup never
// leaks file descriptors.
func pipesFor(cmd *exec.Cmd) (stdout, stderr io.ReadCloser, stdin io.WriteCloser, err error) {
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	stdin, err = cmd.StdinPipe()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	return stdout, stderr, stdin, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser  { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser  { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser  { return p.stderr }
func (p *execProcess) Pid() int               { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int32, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return int32(ee.ExitCode()), nil
	}
	return -1, err
}

func (p *execProcess) Kill() {
	if p.cmd.Process == nil {
		return
	}
	// Signal the whole process group. This is immediate and forcible,
	// not graceful: teardown does not wait for the child to exit on
	// its own.
	pid := p.cmd.Process.Pid
	syscall.Kill(-pid, syscall.SIGKILL)
	p.cmd.Process.Kill()
}
