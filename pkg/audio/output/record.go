// ABOUTME: Recording output device for tests and offline simulation
// ABOUTME: Paces like the null device and keeps every accepted byte
package output

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Chunk describes one accepted Write.
type Chunk struct {
	Offset int // byte offset into Data
	Bytes  int
	Flags  WriteFlags
}

// Record is a Null device that remembers what was written to it.
type Record struct {
	*Null

	mu     sync.Mutex
	data   []byte
	chunks []Chunk
	opens  []audio.Format
	resets int
}

// NewRecord creates an unopened recording device.
func NewRecord(cfg Config) *Record {
	return &Record{Null: NewNull(cfg)}
}

func (r *Record) Open(preferred audio.Format) (audio.Format, error) {
	f, err := r.Null.Open(preferred)
	if err != nil {
		return f, err
	}
	r.mu.Lock()
	r.opens = append(r.opens, f)
	r.mu.Unlock()
	return f, nil
}

func (r *Record) Write(data []byte, flags WriteFlags) (int, error) {
	n, err := r.Null.Write(data, flags)
	if n > 0 || flags&FinalChunk != 0 {
		r.mu.Lock()
		r.chunks = append(r.chunks, Chunk{Offset: len(r.data), Bytes: n, Flags: flags})
		r.data = append(r.data, data[:n]...)
		r.mu.Unlock()
	}
	return n, err
}

func (r *Record) Reset() {
	r.Null.Reset()
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

// Data returns a copy of every byte accepted so far.
func (r *Record) Data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

// Chunks returns the accepted writes in order.
func (r *Record) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

// Opens returns the format negotiated by each Open call.
func (r *Record) Opens() []audio.Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Format(nil), r.opens...)
}

// Resets counts Reset calls.
func (r *Record) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// Duration is the playback time of everything recorded.
func (r *Record) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	bps := r.Format().BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(len(r.data)) / float64(bps)
}
