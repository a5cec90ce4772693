// ABOUTME: Audio encoder package for encoding PCM to packets
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode turns generated PCM into packets so that synthetic sources
// can exercise the same decode path as real streams.
//
// All encoders accept interleaved int32 samples in 24-bit range.
//
// Example:
//
//	enc, err := encode.New(audio.CodecParams{Codec: "opus", SampleRate: 48000, Channels: 2})
//	pkt, err := enc.Encode(samples[:enc.FrameSize()*2])
package encode
