// ABOUTME: Sentinel errors of the playback engine
// ABOUTME: Callers match them with errors.Is
package playback

import "errors"

var (
	// ErrFormatChanged is returned by AudioDecoder.Decode when decoded audio
	// switched format and the filter chain must be reconfigured.
	ErrFormatChanged = errors.New("audio format changed")

	// ErrTimingAnomaly describes a start-sync difference too large to be
	// real. It is logged, never returned.
	ErrTimingAnomaly = errors.New("audio timing anomaly")

	// ErrNoAudio means the audio side of a session stopped for good.
	ErrNoAudio = errors.New("no audio")

	// ErrNoStreams is returned for a session with neither audio nor video.
	ErrNoStreams = errors.New("session has no streams")

	// errSyncPending means start-sync wrote silence and needs another pass.
	errSyncPending = errors.New("audio sync pending")
)
