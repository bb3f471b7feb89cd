package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		cmd     byte
		payload []byte
	}{
		{"empty", CmdExecute, nil},
		{"small", CmdStdin, []byte("abc\r\n")},
		{"exit", CmdExit, EncodeExit(-1)},
		{"max", CmdStdout, bytes.Repeat([]byte{'x'}, MaxPayload)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(nil, tc.cmd, tc.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			cmd, payload, consumed, ok := Peek(buf)
			if !ok {
				t.Fatalf("Peek: expected a complete frame")
			}
			if consumed != len(buf) {
				t.Fatalf("consumed = %d, want %d", consumed, len(buf))
			}
			if cmd != tc.cmd {
				t.Fatalf("cmd = %q, want %q", cmd, tc.cmd)
			}
			if !bytes.Equal(payload, tc.payload) {
				t.Fatalf("payload mismatch")
			}
		})
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(nil, CmdStdout, make([]byte, MaxPayload+1))
	if err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestPeekPartial(t *testing.T) {
	full, _ := Encode(nil, CmdStdout, []byte("hello"))

	for n := 0; n < len(full); n++ {
		if _, _, _, ok := Peek(full[:n]); ok {
			t.Fatalf("Peek on %d/%d bytes reported a complete frame", n, len(full))
		}
	}
	if _, _, _, ok := Peek(full); !ok {
		t.Fatalf("Peek on full frame reported incomplete")
	}
}

func TestDecodeExit(t *testing.T) {
	for _, code := range []int32{0, 1, -1, 42, 1 << 20, -(1 << 20)} {
		got, err := DecodeExit(EncodeExit(code))
		if err != nil {
			t.Fatalf("DecodeExit: %v", err)
		}
		if got != code {
			t.Fatalf("got %d, want %d", got, code)
		}
	}
}

func TestDecodeExitWrongLength(t *testing.T) {
	if _, err := DecodeExit([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short exit payload")
	}
}
