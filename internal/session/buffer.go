package session

import "fmt"

// ringBuffer is a fixed-capacity, contiguous byte buffer with a single
// high-water mark. Despite the name it is not circular: consumed bytes
// are reclaimed by a block-move of the unconsumed tail down to offset
// zero, not by wrapping the write cursor.
type ringBuffer struct {
	buf  []byte
	used int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *ringBuffer) Cap() int { return len(b.buf) }

// Used returns the number of valid bytes currently held.
func (b *ringBuffer) Used() int { return b.used }

// Free returns remaining capacity.
func (b *ringBuffer) Free() int { return len(b.buf) - b.used }

// Bytes returns a view over the valid prefix. Callers must not retain it
// across a Compact or Append call.
func (b *ringBuffer) Bytes() []byte { return b.buf[:b.used] }

// Tail returns a writable view over the free suffix, sized at most
// maxLen bytes (0 meaning "all remaining free space").
func (b *ringBuffer) Tail(maxLen int) []byte {
	free := b.Free()
	if maxLen > 0 && maxLen < free {
		free = maxLen
	}
	return b.buf[b.used : b.used+free]
}

// Commit records that n bytes were written into the slice returned by the
// most recent Tail call.
func (b *ringBuffer) Commit(n int) {
	b.used += n
}

// Append copies p onto the tail. It reports false without copying
// anything if p does not fit — callers must treat that as an
// unrecoverable overrun and tear the connection down.
func (b *ringBuffer) Append(p []byte) bool {
	if len(p) > b.Free() {
		return false
	}
	copy(b.buf[b.used:], p)
	b.used += len(p)
	return true
}

// Compact discards the first n consumed bytes, block-moving the
// remaining tail down to offset zero.
func (b *ringBuffer) Compact(n int) {
	if n <= 0 {
		return
	}
	if n > b.used {
		panic(fmt.Sprintf("ringBuffer: Compact(%d) exceeds used=%d", n, b.used))
	}
	copy(b.buf, b.buf[n:b.used])
	b.used -= n
}

// Reset empties the buffer.
func (b *ringBuffer) Reset() { b.used = 0 }
