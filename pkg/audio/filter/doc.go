// ABOUTME: Audio filter package
// ABOUTME: Converts decoded audio to the format the output device expects
// Package filter holds the conversion pipeline between decoder and device:
// sample format conversion, channel remapping, resampling (which also
// implements playback speed) and software volume.
//
// Internally all processing happens on packed float64 samples.
package filter
