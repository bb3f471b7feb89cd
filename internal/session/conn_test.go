package session

import (
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/frame"
)

const testTimeout = 2 * time.Second

func newTestConn(t *testing.T, proc *fakeProcess) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	client.SetDeadline(time.Now().Add(testTimeout))

	spawner := &fakeSpawner{proc: proc}
	conn := New(1, server, zap.NewNop(), spawner)

	done := make(chan error, 1)
	go func() { done <- conn.Run() }()
	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("Run did not return after client close")
		}
	})
	return conn, client
}

func writeFrame(t *testing.T, c net.Conn, cmd byte, payload []byte) {
	t.Helper()
	buf, err := frame.Encode(nil, cmd, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := c.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c net.Conn) (cmd byte, payload []byte) {
	t.Helper()
	var hdr [frame.HeaderSize]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := int(hdr[1]) | int(hdr[2])<<8
	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return hdr[0], payload
}

func TestEchoAndExit(t *testing.T) {
	proc := newFakeProcess(4242)
	_, client := newTestConn(t, proc)

	writeFrame(t, client, frame.CmdAppPath, []byte(`C:\WINDOWS\COMMAND.COM`))
	writeFrame(t, client, frame.CmdCmdLine, []byte(`COMMAND.COM /C echo hi`))
	writeFrame(t, client, frame.CmdExecute, nil)

	if _, err := proc.stdoutW.Write([]byte("hello")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	cmd, payload := readFrame(t, client)
	if cmd != frame.CmdStdout || string(payload) != "hello" {
		t.Fatalf("got cmd=%c payload=%q, want stdout %q", cmd, payload, "hello")
	}

	proc.stdoutW.Close()
	cmd, payload = readFrame(t, client)
	if cmd != frame.CmdStdout || len(payload) != 0 {
		t.Fatalf("got cmd=%c payload=%q, want empty stdout EOF frame", cmd, payload)
	}

	proc.stderrW.Close()
	cmd, payload = readFrame(t, client)
	if cmd != frame.CmdStderr || len(payload) != 0 {
		t.Fatalf("got cmd=%c payload=%q, want empty stderr EOF frame", cmd, payload)
	}

	proc.exit(7)
	cmd, payload = readFrame(t, client)
	if cmd != frame.CmdExit {
		t.Fatalf("got cmd=%c, want exit frame", cmd)
	}
	code, err := frame.DecodeExit(payload)
	if err != nil {
		t.Fatalf("decode exit: %v", err)
	}
	if code != 7 {
		t.Fatalf("got exit code %d, want 7", code)
	}
}

func TestStdinForwardingAndClose(t *testing.T) {
	proc := newFakeProcess(99)
	_, client := newTestConn(t, proc)

	writeFrame(t, client, frame.CmdAppPath, []byte(`CAT.EXE`))
	writeFrame(t, client, frame.CmdCmdLine, []byte(`CAT.EXE`))
	writeFrame(t, client, frame.CmdExecute, nil)

	writeFrame(t, client, frame.CmdStdin, []byte("ping"))
	got := make([]byte, 4)
	if _, err := io.ReadFull(proc.stdinR, got); err != nil {
		t.Fatalf("read forwarded stdin: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}

	writeFrame(t, client, frame.CmdStdin, nil) // empty payload closes stdin
	buf := make([]byte, 1)
	if _, err := proc.stdinR.Read(buf); err != io.EOF {
		t.Fatalf("got err=%v, want io.EOF after stdin close", err)
	}

	proc.stdoutW.Close()
	proc.stderrW.Close()
	proc.exit(0)
	readFrame(t, client) // stdout EOF
	readFrame(t, client) // stderr EOF
	readFrame(t, client) // exit
}

func TestStdinStallIsRetriedAfterPendingWriteCompletes(t *testing.T) {
	proc := newFakeProcess(100)
	_, client := newTestConn(t, proc)

	writeFrame(t, client, frame.CmdAppPath, []byte(`CAT.EXE`))
	writeFrame(t, client, frame.CmdCmdLine, []byte(`CAT.EXE`))
	writeFrame(t, client, frame.CmdExecute, nil)

	// Send two 'I' frames in a single write so both land in the
	// connection's receive buffer before the first stdin write can
	// possibly complete: io.Pipe's Write blocks until Read consumes it,
	// so the first forwarded write stays pending until this test reads
	// it, and the second frame must stall behind it.
	var wire []byte
	wire, _ = frame.Encode(wire, frame.CmdStdin, []byte("first"))
	wire, _ = frame.Encode(wire, frame.CmdStdin, []byte("second"))
	if _, err := client.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := make([]byte, 5)
	if _, err := io.ReadFull(proc.stdinR, first); err != nil {
		t.Fatalf("read first forwarded chunk: %v", err)
	}
	if string(first) != "first" {
		t.Fatalf("got %q, want %q", first, "first")
	}

	second := make([]byte, 6)
	if _, err := io.ReadFull(proc.stdinR, second); err != nil {
		t.Fatalf("read second forwarded chunk: %v", err)
	}
	if string(second) != "second" {
		t.Fatalf("got %q, want %q", second, "second")
	}

	proc.stdoutW.Close()
	proc.stderrW.Close()
	proc.exit(0)
	readFrame(t, client) // stdout EOF
	readFrame(t, client) // stderr EOF
	readFrame(t, client) // exit
}

func TestProtocolViolationTearsDownWithoutExitFrame(t *testing.T) {
	proc := newFakeProcess(1)
	_, client := newTestConn(t, proc)

	// 'I' frame before 'E' is a protocol violation: no command was ever
	// executed, so the connection must be torn down with no exit frame.
	writeFrame(t, client, frame.CmdStdin, []byte("x"))

	buf := make([]byte, 1)
	if _, err := client.Read(buf); err != io.EOF {
		t.Fatalf("got err=%v, want io.EOF (connection closed without any frame)", err)
	}
}
