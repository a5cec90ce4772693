//go:build lavc

// ABOUTME: FFmpeg decoder backend via go-astiav
// ABOUTME: Decodes any libavcodec audio codec and converts output to packed s16
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/demux"
)

// lavcNames maps engine codec names to libavcodec decoder names where
// they differ.
var lavcNames = map[string]string{
	"pcm": "pcm_s16le",
}

func lavcEntries() []Entry {
	return []Entry{{Name: "lavc", New: NewLavc}}
}

type lavcBackend struct {
	params   audio.CodecParams
	cc       *astiav.CodecContext
	pkt      *astiav.Packet
	src      *astiav.Frame
	dst      *astiav.Frame
	swr      *astiav.SoftwareResampleContext
	layout   astiav.ChannelLayout
	nextPTS  float64
	draining bool
}

// NewLavc opens a libavcodec decoder for params.Codec.
func NewLavc(params audio.CodecParams) (Backend, error) {
	name := params.Codec
	if n, ok := lavcNames[name]; ok {
		name = n
	}
	codec := astiav.FindDecoderByName(name)
	if codec == nil {
		return nil, fmt.Errorf("lavc has no decoder %q: %w", name, ErrBackendInit)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("lavc alloc context: %w", ErrBackendInit)
	}
	if params.SampleRate > 0 {
		cc.SetSampleRate(params.SampleRate)
	}
	layout := astiav.ChannelLayoutStereo
	if params.Channels == 1 {
		layout = astiav.ChannelLayoutMono
	}
	cc.SetChannelLayout(layout)
	if len(params.Extradata) > 0 {
		if err := cc.SetExtraData(params.Extradata); err != nil {
			cc.Free()
			return nil, fmt.Errorf("lavc extradata: %v: %w", err, ErrBackendInit)
		}
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("lavc open %s: %v: %w", name, err, ErrBackendInit)
	}
	return &lavcBackend{
		params:  params,
		cc:      cc,
		pkt:     astiav.AllocPacket(),
		src:     astiav.AllocFrame(),
		dst:     astiav.AllocFrame(),
		swr:     astiav.AllocSoftwareResampleContext(),
		nextPTS: audio.NoPTS,
	}, nil
}

func lavcRetry(err error) bool {
	var e astiav.Error
	return errors.As(err, &e) && e.Is(astiav.ErrEagain)
}

func lavcEOF(err error) bool {
	var e astiav.Error
	return errors.As(err, &e) && e.Is(astiav.ErrEof)
}

func (b *lavcBackend) SendPacket(p *demux.Packet) (bool, error) {
	if p == nil {
		if !b.draining {
			b.draining = true
			if err := b.cc.SendPacket(nil); err != nil && !lavcEOF(err) {
				return true, fmt.Errorf("lavc drain: %v: %w", err, ErrDecode)
			}
		}
		return true, nil
	}
	b.pkt.Unref()
	if err := b.pkt.FromData(p.Data); err != nil {
		return true, fmt.Errorf("lavc packet: %v: %w", err, ErrDecode)
	}
	if err := b.cc.SendPacket(b.pkt); err != nil {
		if lavcRetry(err) {
			return false, nil
		}
		return true, fmt.Errorf("lavc send: %v: %w", err, ErrDecode)
	}
	if audio.HasPTS(p.PTS) && !audio.HasPTS(b.nextPTS) {
		b.nextPTS = p.PTS
	}
	return true, nil
}

func (b *lavcBackend) ReceiveFrame() (*audio.Frame, error) {
	b.src.Unref()
	if err := b.cc.ReceiveFrame(b.src); err != nil {
		switch {
		case lavcRetry(err):
			return nil, ErrNeedInput
		case lavcEOF(err):
			return nil, io.EOF
		}
		return nil, fmt.Errorf("lavc receive: %v: %w", err, ErrDecode)
	}

	channels := b.cc.ChannelLayout().Channels()
	b.dst.Unref()
	b.dst.SetNbSamples(b.src.NbSamples())
	b.dst.SetChannelLayout(b.cc.ChannelLayout())
	b.dst.SetSampleRate(b.src.SampleRate())
	b.dst.SetSampleFormat(astiav.SampleFormatS16)
	if err := b.dst.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("lavc dst alloc: %v: %w", err, ErrDecode)
	}
	if err := b.swr.ConvertFrame(b.src, b.dst); err != nil {
		return nil, fmt.Errorf("lavc convert: %v: %w", err, ErrDecode)
	}
	data, err := b.dst.Data().Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("lavc dst bytes: %v: %w", err, ErrDecode)
	}

	f := audio.NewFormat(audio.SampleS16, channels, b.src.SampleRate())
	n := b.dst.NbSamples()
	if limit := len(data) / f.FrameBytes(); n > limit {
		n = limit
	}
	fr := audio.NewFrame(f, n)
	copy(fr.Planes[0], data)
	fr.PTS = b.nextPTS
	b.nextPTS = audio.NoPTS
	return fr, nil
}

func (b *lavcBackend) Reset() {
	b.cc.FlushBuffers()
	b.draining = false
	b.nextPTS = audio.NoPTS
}

func (b *lavcBackend) Close() error {
	b.swr.Free()
	b.dst.Free()
	b.src.Free()
	b.pkt.Free()
	b.cc.Free()
	return nil
}
