package hostfuncs

import (
	"bytes"
)

// DefaultMaxRequestSize limits a request read out of guest memory (1MB), so a
// guest cannot make the host allocate by declaring a huge length.
const DefaultMaxRequestSize = 1 << 20

// DefaultMaxReadFileSize limits a single read_file response (1MB).
const DefaultMaxReadFileSize = 1 << 20

// BoundedBuffer is an io.Writer that keeps at most limit bytes and records
// whether anything was dropped.
type BoundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	Truncated bool
}

// NewBoundedBuffer creates a buffer holding at most limit bytes.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{limit: limit}
}

// Write keeps what fits and reports the whole slice as written.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buffer.Len()
	if len(p) > remaining {
		b.Truncated = true
		if remaining > 0 {
			b.buffer.Write(p[:remaining])
		}
		return len(p), nil
	}
	return b.buffer.Write(p)
}

// Bytes returns the buffered bytes.
func (b *BoundedBuffer) Bytes() []byte { return b.buffer.Bytes() }

// String returns the buffered bytes as a string.
func (b *BoundedBuffer) String() string { return b.buffer.String() }

// Len returns the number of buffered bytes.
func (b *BoundedBuffer) Len() int { return b.buffer.Len() }

// Reset empties the buffer and clears Truncated.
func (b *BoundedBuffer) Reset() {
	b.buffer.Reset()
	b.Truncated = false
}
