// ABOUTME: Tests for formats, channel maps and frames
// ABOUTME: Verifies size arithmetic, comparability and frame views
package audio

import "testing"

func TestFormatArithmetic(t *testing.T) {
	tests := []struct {
		name       string
		format     Format
		frameBytes int
		planes     int
		stride     int
	}{
		{"s16 stereo", NewFormat(SampleS16, 2, 48000), 4, 1, 4},
		{"s24 stereo", NewFormat(SampleS24, 2, 96000), 6, 1, 6},
		{"floatp 6ch", NewFormat(SampleFloatP, 6, 48000), 24, 6, 4},
		{"u8 mono", NewFormat(SampleU8, 1, 8000), 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameBytes(); got != tt.frameBytes {
				t.Errorf("FrameBytes: expected %d, got %d", tt.frameBytes, got)
			}
			if got := tt.format.Planes(); got != tt.planes {
				t.Errorf("Planes: expected %d, got %d", tt.planes, got)
			}
			if got := tt.format.PlaneStride(); got != tt.stride {
				t.Errorf("PlaneStride: expected %d, got %d", tt.stride, got)
			}
			if got := tt.format.BytesPerSecond(); got != tt.frameBytes*tt.format.Rate {
				t.Errorf("BytesPerSecond: got %d", got)
			}
		})
	}
}

func TestFormatEquality(t *testing.T) {
	a := NewFormat(SampleS16, 2, 44100)
	b := NewFormat(SampleS16, 2, 44100)
	if a != b {
		t.Fatal("identical formats must compare equal")
	}
	c := a
	c.Channels = NewChannelMap(SpeakerFR, SpeakerFL)
	if a == c {
		t.Fatal("different speaker order must not compare equal")
	}
}

func TestDefaultChannelMap(t *testing.T) {
	if DefaultChannelMap(0).Valid() || DefaultChannelMap(MaxChannels+1).Valid() {
		t.Fatal("out of range counts must be invalid")
	}
	for n := 1; n <= MaxChannels; n++ {
		m := DefaultChannelMap(n)
		if !m.Valid() || m.Num != n {
			t.Errorf("layout %d: got %+v", n, m)
		}
	}
	if got := DefaultChannelMap(2).String(); got != "stereo" {
		t.Errorf("expected stereo, got %q", got)
	}
	if idx := DefaultChannelMap(6).Index(SpeakerLFE); idx != 3 {
		t.Errorf("expected LFE at 3, got %d", idx)
	}
}

func TestParseSampleFormat(t *testing.T) {
	sf, err := ParseSampleFormat(" S24 ")
	if err != nil || sf != SampleS24 {
		t.Fatalf("expected s24, got %v (%v)", sf, err)
	}
	if _, err := ParseSampleFormat("s12"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFrameSliceShiftsPTS(t *testing.T) {
	f := NewFormat(SampleS16, 2, 1000)
	fr := NewFrame(f, 1000)
	fr.PTS = 2.0
	v := fr.Slice(500, 530)
	if v.Samples != 30 {
		t.Fatalf("expected 30 samples, got %d", v.Samples)
	}
	if v.PTS != 2.5 {
		t.Errorf("expected pts 2.5, got %v", v.PTS)
	}
	v.Planes[0][0] = 7
	if fr.Planes[0][500*4] != 7 {
		t.Error("slice must share memory with the source frame")
	}
}

func TestFrameInterleavedPlanar(t *testing.T) {
	f := NewFormat(SampleS16P, 2, 48000)
	fr := NewFrame(f, 2)
	fr.Planes[0] = []byte{1, 0, 2, 0}
	fr.Planes[1] = []byte{3, 0, 4, 0}
	got := fr.Interleaved()
	want := []byte{1, 0, 3, 0, 2, 0, 4, 0}
	if string(got) != string(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNewSilenceUnsigned(t *testing.T) {
	fr := NewSilence(NewFormat(SampleU8, 1, 8000), 4)
	for _, b := range fr.Planes[0] {
		if b != 0x80 {
			t.Fatalf("expected 0x80 fill, got %#x", b)
		}
	}
	if HasPTS(fr.PTS) {
		t.Error("new frames carry no pts")
	}
}
