// ABOUTME: Tests for the PCM sample queue
// ABOUTME: Covers exact accounting, format guards, limits and silence fill
package buffer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

func frameOf(f audio.Format, samples int, value byte) *audio.Frame {
	fr := audio.NewFrame(f, samples)
	for _, p := range fr.Planes {
		for i := range p {
			p[i] = value
		}
	}
	return fr
}

func TestAccountingIsExact(t *testing.T) {
	f := audio.NewFormat(audio.SampleS16, 2, 48000)
	b := New(0)
	b.Reinit(f)

	rng := rand.New(rand.NewSource(1))
	appended, skipped := 0, 0
	for i := 0; i < 500; i++ {
		n := rng.Intn(700)
		if err := b.Append(frameOf(f, n, byte(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
		appended += n
		if i%3 == 0 {
			s := rng.Intn(b.Samples() + 1)
			b.Skip(s)
			skipped += s
		}
		if got := b.Samples(); got != appended-skipped {
			t.Fatalf("iteration %d: expected %d samples, got %d", i, appended-skipped, got)
		}
	}
}

func TestFIFOOrder(t *testing.T) {
	f := audio.NewFormat(audio.SampleU8, 1, 8000)
	b := New(0)
	b.Reinit(f)
	b.Append(frameOf(f, 3, 1))
	b.Append(frameOf(f, 2, 2))
	b.Skip(2)

	got := b.Peek(10)
	if got.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", got.Samples)
	}
	want := []byte{1, 2, 2}
	if string(got.Planes[0]) != string(want) {
		t.Errorf("expected %v, got %v", want, got.Planes[0])
	}
}

func TestAppendFormatMismatchPanics(t *testing.T) {
	b := New(0)
	b.Reinit(audio.NewFormat(audio.SampleS16, 2, 48000))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on format mismatch")
		}
	}()
	b.Append(audio.NewFrame(audio.NewFormat(audio.SampleS16, 2, 44100), 10))
}

func TestReinitAcceptsNewFormat(t *testing.T) {
	b := New(0)
	b.Reinit(audio.NewFormat(audio.SampleS16, 2, 48000))
	b.Append(audio.NewFrame(b.Format(), 10))

	nf := audio.NewFormat(audio.SampleFloatP, 6, 44100)
	b.Reinit(nf)
	if b.Samples() != 0 {
		t.Fatalf("reinit must drop content, have %d samples", b.Samples())
	}
	if err := b.Append(audio.NewFrame(nf, 32)); err != nil {
		t.Fatalf("append after reinit: %v", err)
	}
	if v := b.Peek(32); len(v.Planes) != 6 || len(v.Planes[5]) != 32*4 {
		t.Errorf("unexpected planar view shape")
	}
}

func TestLimit(t *testing.T) {
	b := New(100)
	b.Reinit(audio.NewFormat(audio.SampleS16, 1, 8000))

	if err := b.Append(audio.NewFrame(b.Format(), 80)); err != nil {
		t.Fatalf("append under limit: %v", err)
	}
	err := b.Append(audio.NewFrame(b.Format(), 30))
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if b.Samples() != 80 {
		t.Errorf("failed append must not change content, have %d", b.Samples())
	}
	if err := b.Reserve(50); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected reserve to fail, got %v", err)
	}
}

func TestReserveAndWriteAvailable(t *testing.T) {
	b := New(0)
	b.Reinit(audio.NewFormat(audio.SampleS16, 2, 48000))
	if b.WriteAvailable() != 0 {
		t.Fatalf("fresh buffer has no reserved space")
	}
	if err := b.Reserve(1000); err != nil {
		t.Fatal(err)
	}
	b.Append(audio.NewFrame(b.Format(), 400))
	if got := b.WriteAvailable(); got != 600 {
		t.Errorf("expected 600 available, got %d", got)
	}
}

func TestPrependSilence(t *testing.T) {
	f := audio.NewFormat(audio.SampleU8, 1, 8000)
	b := New(0)
	b.Reinit(f)
	b.Append(frameOf(f, 2, 9))
	b.Skip(1)

	if err := b.Prepend(3); err != nil {
		t.Fatal(err)
	}
	got := b.Peek(b.Samples()).Planes[0]
	want := []byte{0x80, 0x80, 0x80, 9}
	if string(got) != string(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestKeepLastAndClear(t *testing.T) {
	f := audio.NewFormat(audio.SampleU8, 1, 8000)
	b := New(0)
	b.Reinit(f)
	b.Append(frameOf(f, 5, 1))
	b.Append(frameOf(f, 5, 2))

	b.KeepLast(4)
	if b.Samples() != 4 || b.Peek(1).Planes[0][0] != 2 {
		t.Fatalf("KeepLast kept the wrong data")
	}
	b.KeepLast(100)
	if b.Samples() != 4 {
		t.Fatalf("KeepLast larger than content must be a no-op")
	}
	b.Clear()
	if b.Samples() != 0 || b.Bytes() != 0 {
		t.Errorf("clear left %d samples", b.Samples())
	}
	if b.Format() != f {
		t.Errorf("clear must keep the format")
	}
}

func TestAppendSilenceDuration(t *testing.T) {
	b := New(0)
	b.Reinit(audio.NewFormat(audio.SampleS16, 2, 1000))
	b.AppendSilence(250)
	if d := b.Duration(); d != 0.25 {
		t.Errorf("expected 0.25s, got %v", d)
	}
	if b.Bytes() != 1000 {
		t.Errorf("expected 1000 bytes, got %d", b.Bytes())
	}
}
