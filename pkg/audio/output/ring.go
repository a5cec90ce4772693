// ABOUTME: Byte ring buffer between the writer and an audio callback
// ABOUTME: Thread-safe, zero-fills reads on underrun
package output

import "sync"

// RingBuffer provides thread-safe circular buffer for audio bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int // Number of bytes currently in buffer
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in bytes)
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
}

// Write adds as much of p as fits and returns the number of bytes taken.
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(p), rb.size-rb.count)
	first := min(n, rb.size-rb.writePos)
	copy(rb.buffer[rb.writePos:], p[:first])
	copy(rb.buffer, p[first:n])
	rb.writePos = (rb.writePos + n) % rb.size
	rb.count += n
	return n
}

// Read fills p from the buffer and zero-fills the rest on underrun. It
// returns the number of real bytes read.
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(p), rb.count)
	first := min(n, rb.size-rb.readPos)
	copy(p, rb.buffer[rb.readPos:rb.readPos+first])
	copy(p[first:n], rb.buffer)
	rb.readPos = (rb.readPos + n) % rb.size
	rb.count -= n

	clear(p[n:])
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free bytes in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Reset discards buffered data.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
}

// ringReader adapts a RingBuffer to io.Reader for pull-based players.
// It always fills p so the player sees silence instead of EOF.
type ringReader struct{ rb *RingBuffer }

func (r ringReader) Read(p []byte) (int, error) {
	r.rb.Read(p)
	return len(p), nil
}
