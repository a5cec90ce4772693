// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides the Backend interface, implementations and the registry
// Package decode turns packets into PCM frames.
//
// Backends: pcm, opus (libopus), gopus (pure Go Opus), mp3 (go-mp3),
// flac (mewkiz/flac) and, with the lavc build tag, any FFmpeg decoder.
//
// Backends are looked up through a Registry, an explicit ordered list.
// Opening falls through candidates that fail with ErrBackendInit.
//
// Example:
//
//	b, name, err := decode.DefaultRegistry().Open(params, nil, logger)
//	consumed, err := b.SendPacket(pkt)
//	frame, err := b.ReceiveFrame()
package decode
