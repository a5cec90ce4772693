// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines sample formats, channel maps, formats and frames
// Package audio provides the PCM types shared by the decode, filter and
// output layers.
//
//   - SampleFormat: encoding of one sample (u8, s16, s24, s32, float, double
//     and the planar variants)
//   - ChannelMap: positional speaker layout, comparable by value
//   - Format: sample format, channel map and rate
//   - Frame: decoded samples with an optional pts (NoPTS when unknown)
//
// Example:
//
//	f := audio.NewFormat(audio.SampleS16, 2, 48000)
//	fr := audio.NewSilence(f, f.SamplesFor(0.02))
package audio
