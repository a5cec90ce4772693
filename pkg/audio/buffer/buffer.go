// ABOUTME: Single-format PCM sample queue
// ABOUTME: Holds decoded audio between the decoder, filter chain and device
package buffer

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// ErrOutOfMemory is returned when growth would exceed the configured limit.
// It is fatal for the stream that hit it.
var ErrOutOfMemory = errors.New("audio buffer limit exceeded")

// Buffer is a FIFO of samples that all share one format. Data in a
// different format can only be accepted after Reinit.
type Buffer struct {
	format   audio.Format
	planes   [][]byte
	offset   int // samples already consumed from the head of planes
	samples  int
	capacity int
	limit    int
}

// New creates an empty buffer. limit caps the number of queued samples;
// zero or negative means no cap.
func New(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Reinit drops all content and switches the buffer to format f.
func (b *Buffer) Reinit(f audio.Format) {
	b.format = f
	b.planes = make([][]byte, f.Planes())
	b.offset = 0
	b.samples = 0
	b.capacity = 0
}

// Format returns the current buffer format.
func (b *Buffer) Format() audio.Format {
	return b.format
}

// Samples returns the number of queued samples.
func (b *Buffer) Samples() int {
	return b.samples
}

// Bytes returns the queued size in interleaved bytes.
func (b *Buffer) Bytes() int {
	return b.samples * b.format.FrameBytes()
}

// Duration returns the queued length in seconds.
func (b *Buffer) Duration() float64 {
	return b.format.Duration(b.samples)
}

// Reserve makes room for n more samples without further allocation.
func (b *Buffer) Reserve(n int) error {
	want := b.samples + n
	if b.limit > 0 && want > b.limit {
		return fmt.Errorf("reserve %d samples (have %d, limit %d): %w", n, b.samples, b.limit, ErrOutOfMemory)
	}
	if want <= b.capacity {
		return nil
	}
	b.compact()
	stride := b.format.PlaneStride()
	for i, p := range b.planes {
		if cap(p) < want*stride {
			np := make([]byte, len(p), want*stride)
			copy(np, p)
			b.planes[i] = np
		}
	}
	b.capacity = want
	return nil
}

// WriteAvailable returns how many samples fit in the reserved space.
func (b *Buffer) WriteAvailable() int {
	if b.capacity <= b.samples {
		return 0
	}
	return b.capacity - b.samples
}

// Append copies fr to the tail. Appending a frame in a different format is
// a caller bug and panics.
func (b *Buffer) Append(fr *audio.Frame) error {
	if fr.Format != b.format {
		panic(fmt.Sprintf("buffer: append %s to buffer holding %s", fr.Format, b.format))
	}
	if fr.Samples == 0 {
		return nil
	}
	if err := b.grow(fr.Samples); err != nil {
		return err
	}
	n := fr.Samples * b.format.PlaneStride()
	for i := range b.planes {
		b.planes[i] = append(b.planes[i], fr.Planes[i][:n]...)
	}
	b.samples += fr.Samples
	return nil
}

// AppendSilence adds n samples of silence to the tail.
func (b *Buffer) AppendSilence(n int) error {
	if n <= 0 {
		return nil
	}
	if err := b.grow(n); err != nil {
		return err
	}
	fill := b.format.Sample.SilenceByte()
	n *= b.format.PlaneStride()
	for i := range b.planes {
		for j := 0; j < n; j++ {
			b.planes[i] = append(b.planes[i], fill)
		}
	}
	b.samples += n / b.format.PlaneStride()
	return nil
}

// Prepend inserts n samples of silence at the head.
func (b *Buffer) Prepend(n int) error {
	if n <= 0 {
		return nil
	}
	if b.limit > 0 && b.samples+n > b.limit {
		return fmt.Errorf("prepend %d samples: %w", n, ErrOutOfMemory)
	}
	stride := b.format.PlaneStride()
	fill := b.format.Sample.SilenceByte()
	for i, p := range b.planes {
		live := p[b.offset*stride:]
		np := make([]byte, n*stride, (n+b.samples)*stride)
		if fill != 0 {
			for j := range np {
				np[j] = fill
			}
		}
		b.planes[i] = append(np, live...)
	}
	b.offset = 0
	b.samples += n
	if b.capacity < b.samples {
		b.capacity = b.samples
	}
	return nil
}

// Peek returns a view of up to n samples from the head. The view borrows
// buffer memory and is invalidated by the next mutation.
func (b *Buffer) Peek(n int) *audio.Frame {
	if n > b.samples {
		n = b.samples
	}
	if n < 0 {
		n = 0
	}
	stride := b.format.PlaneStride()
	fr := &audio.Frame{Format: b.format, Samples: n, PTS: audio.NoPTS}
	fr.Planes = make([][]byte, len(b.planes))
	for i, p := range b.planes {
		start := b.offset * stride
		fr.Planes[i] = p[start : start+n*stride]
	}
	return fr
}

// Skip drops up to n samples from the head.
func (b *Buffer) Skip(n int) {
	if n >= b.samples {
		b.Clear()
		return
	}
	if n <= 0 {
		return
	}
	b.offset += n
	b.samples -= n
}

// KeepLast drops everything except the newest n samples.
func (b *Buffer) KeepLast(n int) {
	if n < b.samples {
		b.Skip(b.samples - n)
	}
}

// Clear drops all samples but keeps the format and allocation.
func (b *Buffer) Clear() {
	for i := range b.planes {
		b.planes[i] = b.planes[i][:0]
	}
	b.offset = 0
	b.samples = 0
}

func (b *Buffer) grow(n int) error {
	if b.limit > 0 && b.samples+n > b.limit {
		return fmt.Errorf("append %d samples (have %d, limit %d): %w", n, b.samples, b.limit, ErrOutOfMemory)
	}
	if b.offset > 0 && b.offset >= b.samples {
		b.compact()
	}
	if b.capacity < b.samples+n {
		b.capacity = b.samples + n
	}
	return nil
}

// compact moves live data to the start of each plane.
func (b *Buffer) compact() {
	if b.offset == 0 {
		return
	}
	stride := b.format.PlaneStride()
	for i, p := range b.planes {
		live := p[b.offset*stride:]
		b.planes[i] = p[:copy(p, live)]
	}
	b.offset = 0
}
