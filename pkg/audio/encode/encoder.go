// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for the packet producers used by synthetic sources
package encode

import "github.com/Resonate-Protocol/resonate-av/pkg/audio"

// Encoder encodes interleaved int32 samples (24-bit range) into packets.
type Encoder interface {
	// Encode converts one frame of samples to a packet payload
	Encode(samples []int32) ([]byte, error)

	// Params describes the stream the encoder produces
	Params() audio.CodecParams

	// FrameSize is the number of samples per channel each Encode call expects,
	// or 0 when any size is accepted
	FrameSize() int

	// Close releases encoder resources
	Close() error
}

// New returns an encoder for params.Codec.
func New(params audio.CodecParams) (Encoder, error) {
	if params.Codec == "opus" {
		return NewOpus(params)
	}
	return NewPCM(params)
}
