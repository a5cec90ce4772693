// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Device interface and its null, record, oto and malgo backends
// Package output provides non-blocking audio sinks.
//
// A Device owns a buffer. The playback driver polls FreeSpace, writes
// whole frames and reads Delay to know how far ahead of the speaker it is.
//
// Example:
//
//	dev, err := output.New("oto", output.Config{})
//	format, err := dev.Open(preferred)
//	n, err := dev.Write(data, 0)
package output
