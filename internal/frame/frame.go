// Package frame implements the ICE-9 wire framing codec: a fixed 3-byte
// header (1-byte command tag, 2-byte little-endian payload length)
// followed by that many payload bytes.
package frame

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the number of bytes preceding a frame's payload.
const HeaderSize = 3

// MaxPayload is the largest payload a single frame may carry. The length
// field is a 16-bit unsigned integer, so this is its maximum value.
const MaxPayload = 0xFFFF

// Command tags. 'E' is deliberately overloaded: on the client→server
// direction it means "execute"; on the server→client direction the same
// byte carries stderr output (CmdStderr) — see the note on CmdStderr.
const (
	// Client → Server
	CmdAppPath = 'A' // application path
	CmdCmdLine = 'C' // command line
	CmdWorkDir = 'W' // working directory
	CmdExecute = 'E' // execute (empty payload)
	CmdStdin   = 'I' // stdin bytes (empty = EOF)

	// Server → Client
	CmdStdout = 'O' // stdout bytes
	CmdStderr = 'E' // stderr bytes (empty = stream EOF) — same byte as CmdExecute; direction disambiguates
	CmdExit   = 'X' // exit status, exactly 4 bytes little-endian signed
)

// ErrPayloadTooLarge is returned by Encode when payload exceeds MaxPayload.
var ErrPayloadTooLarge = fmt.Errorf("frame: payload exceeds %d bytes", MaxPayload)

// Encode appends the header and payload for cmd to dst and returns the
// extended slice. It never reslices dst's existing bytes.
func Encode(dst []byte, cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, ErrPayloadTooLarge
	}
	dst = append(dst, cmd, byte(len(payload)), byte(len(payload)>>8))
	dst = append(dst, payload...)
	return dst, nil
}

// Size returns the total wire size (header + payload) of a frame whose
// payload is payloadLen bytes.
func Size(payloadLen int) int {
	return HeaderSize + payloadLen
}

// Peek inspects buf for a complete frame at its head. It reports the
// command tag, a view over the payload (aliasing buf — callers that need
// to retain it must copy), and the number of bytes the frame occupies.
// ok is false if buf does not yet hold a complete frame (a partial frame
// at the tail, per the receive-buffer invariant).
func Peek(buf []byte) (cmd byte, payload []byte, consumed int, ok bool) {
	if len(buf) < HeaderSize {
		return 0, nil, 0, false
	}
	length := int(binary.LittleEndian.Uint16(buf[1:3]))
	total := HeaderSize + length
	if len(buf) < total {
		return 0, nil, 0, false
	}
	return buf[0], buf[3:total], total, true
}

// EncodeExit renders an exit-status payload: 4 bytes, little-endian signed.
func EncodeExit(code int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(code))
	return b[:]
}

// DecodeExit parses an exit-status payload. It requires exactly 4 bytes.
func DecodeExit(payload []byte) (int32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("frame: exit payload must be 4 bytes, got %d", len(payload))
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}
