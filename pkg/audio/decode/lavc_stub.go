//go:build !lavc

// ABOUTME: Stub for builds without FFmpeg
// ABOUTME: The lavc backend is only registered when built with the lavc tag
package decode

func lavcEntries() []Entry {
	return nil
}
