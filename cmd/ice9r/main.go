// Command ice9r is a minimal ICE-9 client: it connects to an ice9d
// daemon, asks it to run a command, streams the command's stdout/stderr
// back to this process's own stdout/stderr, forwards this process's
// stdin to the remote command, and exits with the remote command's exit
// code.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/solemnwarning/ice-9/internal/frame"
	"github.com/solemnwarning/ice-9/internal/quoting"
)

const defaultPort = 5424

// stdinChunk bounds a single 'I' frame payload sent from local stdin.
const stdinChunk = 1024

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ice9r", flag.ContinueOnError)
	port := fs.Int("p", defaultPort, "daemon port")
	rawCmdLine := fs.String("e", "", "raw command line to send verbatim, mutually exclusive with positional args")
	workDir := fs.String("d", "", "working directory for the remote command")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <host> [-p port] [-d workdir] <executable> [args...]\n", fs.Name())
		fmt.Fprintf(os.Stderr, "       %s <host> [-p port] -e \"<raw command line>\"\n", fs.Name())
		fs.PrintDefaults()
	}

	// The flag package stops scanning for flags at the first positional
	// argument, so <host> must be pulled off before fs.Parse sees the
	// rest: otherwise "-p" never parses when it follows <host>, as the
	// usage string above shows.
	if len(args) < 1 {
		fs.Usage()
		return 2
	}
	host := args[0]

	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	rest := fs.Args()

	var appPath, cmdLine string
	if *rawCmdLine != "" {
		if len(rest) > 0 {
			fmt.Fprintln(os.Stderr, "ice9r: -e and positional <executable> [args...] are mutually exclusive")
			return 2
		}
		argv := quoting.Split(*rawCmdLine)
		if len(argv) == 0 {
			fmt.Fprintln(os.Stderr, "ice9r: -e command line is empty")
			return 2
		}
		appPath = argv[0]
		cmdLine = *rawCmdLine
	} else {
		if len(rest) < 1 {
			fs.Usage()
			return 2
		}
		appPath = rest[0]
		cmdLine = quoting.Quote(rest)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(*port))
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ice9r: dial %s: %v\n", addr, err)
		return 1
	}
	defer nc.Close()

	if err := sendSetup(nc, appPath, cmdLine, *workDir); err != nil {
		fmt.Fprintf(os.Stderr, "ice9r: %v\n", err)
		return 1
	}

	go forwardStdin(nc)

	code, err := streamOutput(nc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ice9r: %v\n", err)
		return 1
	}
	return int(code)
}

func sendSetup(nc net.Conn, appPath, cmdLine, workDir string) error {
	var wire []byte
	var err error
	wire, err = frame.Encode(wire, frame.CmdAppPath, []byte(appPath))
	if err != nil {
		return err
	}
	wire, err = frame.Encode(wire, frame.CmdCmdLine, []byte(cmdLine))
	if err != nil {
		return err
	}
	if workDir != "" {
		wire, err = frame.Encode(wire, frame.CmdWorkDir, []byte(workDir))
		if err != nil {
			return err
		}
	}
	wire, err = frame.Encode(wire, frame.CmdExecute, nil)
	if err != nil {
		return err
	}
	_, err = nc.Write(wire)
	return err
}

// forwardStdin relays this process's stdin to the remote command in
// bounded chunks, sending an empty 'I' frame once local stdin reaches
// EOF. Errors writing to the (possibly already-closed) connection are
// ignored: the read side of main() is authoritative for reporting
// failure.
func forwardStdin(nc net.Conn) {
	buf := make([]byte, stdinChunk)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			wire, encErr := frame.Encode(nil, frame.CmdStdin, buf[:n])
			if encErr == nil {
				if _, werr := nc.Write(wire); werr != nil {
					return
				}
			}
		}
		if err != nil {
			wire, _ := frame.Encode(nil, frame.CmdStdin, nil)
			nc.Write(wire)
			return
		}
	}
}

// streamOutput reads frames from nc until the 'X' frame arrives,
// printing 'O'/'E' frames to the local stdout/stderr, and returns the
// remote command's exit code.
func streamOutput(nc net.Conn) (int32, error) {
	var hdr [frame.HeaderSize]byte
	for {
		if _, err := io.ReadFull(nc, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("connection closed before an exit frame arrived")
			}
			return 0, fmt.Errorf("read frame header: %w", err)
		}
		length := int(hdr[1]) | int(hdr[2])<<8
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(nc, payload); err != nil {
				return 0, fmt.Errorf("read frame payload: %w", err)
			}
		}

		switch hdr[0] {
		case frame.CmdStdout:
			os.Stdout.Write(payload)
		case frame.CmdStderr:
			os.Stderr.Write(payload)
		case frame.CmdExit:
			return frame.DecodeExit(payload)
		default:
			return 0, fmt.Errorf("unexpected frame tag %q from daemon", hdr[0])
		}
	}
}
