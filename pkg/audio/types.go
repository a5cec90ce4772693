// ABOUTME: Sample conversion helpers
// ABOUTME: Reads and writes individual samples in any supported encoding
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// SampleToInt16 converts a 24-bit range int32 sample to int16
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// ReadSample decodes one sample at the start of b into the range [-1, 1).
func ReadSample(sf SampleFormat, b []byte) float64 {
	switch sf {
	case SampleU8:
		return (float64(b[0]) - 128) / 128
	case SampleS16, SampleS16P:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case SampleS24:
		return float64(SampleFrom24Bit([3]byte{b[0], b[1], b[2]})) / 8388608
	case SampleS32, SampleS32P:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	case SampleFloat, SampleFloatP:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case SampleDouble, SampleDoubleP:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// WriteSample encodes v into b. Integer formats clip to their range.
func WriteSample(sf SampleFormat, b []byte, v float64) {
	switch sf {
	case SampleU8:
		b[0] = byte(clipInt(v*128, -128, 127) + 128)
	case SampleS16, SampleS16P:
		binary.LittleEndian.PutUint16(b, uint16(int16(clipInt(v*32768, -32768, 32767))))
	case SampleS24:
		s := SampleTo24Bit(int32(clipInt(v*8388608, Min24Bit, Max24Bit)))
		copy(b, s[:])
	case SampleS32, SampleS32P:
		binary.LittleEndian.PutUint32(b, uint32(int32(clipInt(v*2147483648, math.MinInt32, math.MaxInt32))))
	case SampleFloat, SampleFloatP:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case SampleDouble, SampleDoubleP:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func clipInt(v float64, lo, hi int64) int64 {
	r := math.Round(v)
	if r < float64(lo) {
		return lo
	}
	if r > float64(hi) {
		return hi
	}
	return int64(r)
}
