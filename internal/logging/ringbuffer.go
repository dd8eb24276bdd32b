package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the most recent max bytes written to it. It implements
// io.Writer; older data is discarded once the cap is reached. Used as the
// in-memory tail of the log stream for crash dumps.
type RingBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{max: size, data: make([]byte, 0, size)}
}

// Write implements io.Writer. Never fails; when the buffer would exceed
// its cap, the oldest bytes are dropped.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(p) >= rb.max {
		rb.data = append(rb.data[:0], p[len(p)-rb.max:]...)
		return len(p), nil
	}

	// Drop the oldest bytes first so append never grows the backing
	// array past the cap.
	if excess := len(rb.data) + len(p) - rb.max; excess > 0 {
		n := copy(rb.data, rb.data[excess:])
		rb.data = rb.data[:n]
	}
	rb.data = append(rb.data, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffered tail in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]byte, len(rb.data))
	copy(out, rb.data)
	return out
}

// DumpToFile writes the buffered tail to a file.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
