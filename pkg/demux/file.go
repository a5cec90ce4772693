// ABOUTME: File and URL demuxers
// ABOUTME: WAV files are unpacked to PCM packets, MP3/FLAC streams pass through as raw chunks
package demux

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// rawChunkSize is how much of an mp3 or flac byte stream goes into one packet.
const rawChunkSize = 4096

// Open creates a demuxer from a file path or HTTP URL. An empty location
// yields an endless test tone.
func Open(location string) (Demuxer, error) {
	if location == "" {
		t, err := NewTone(ToneConfig{})
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		slog.Info("streaming from HTTP URL", "url", location)
		resp, err := http.Get(location)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch %s: %s", location, resp.Status)
		}
		codec := "mp3"
		if strings.HasSuffix(strings.ToLower(resp.Request.URL.Path), ".flac") {
			codec = "flac"
		}
		return NewRaw(resp.Body, audio.CodecParams{Codec: codec}), nil
	}

	if _, err := os.Stat(location); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", location)
	}

	switch ext := strings.ToLower(filepath.Ext(location)); ext {
	case ".wav":
		w, err := OpenWAV(location)
		if err != nil {
			return nil, err
		}
		return w, nil
	case ".mp3", ".flac":
		f, err := os.Open(location)
		if err != nil {
			return nil, err
		}
		return NewRaw(f, audio.CodecParams{Codec: ext[1:]}), nil
	case ".opus", ".ogg":
		o, err := OpenOgg(location)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// Raw splits a byte stream into fixed-size packets. Only the first packet
// has a pts; the decoder derives the rest from its output.
type Raw struct {
	r      io.ReadCloser
	params audio.CodecParams
	first  bool
}

// NewRaw wraps r. The decoder probes the actual rate and layout from the stream.
func NewRaw(r io.ReadCloser, params audio.CodecParams) *Raw {
	return &Raw{r: r, params: params, first: true}
}

func (s *Raw) ReadPacket() (*Packet, error) {
	buf := make([]byte, rawChunkSize)
	n, err := io.ReadFull(s.r, buf)
	if n == 0 {
		if err == io.ErrUnexpectedEOF || err == nil {
			err = io.EOF
		}
		return nil, err
	}
	pts := audio.NoPTS
	if s.first {
		pts = 0
		s.first = false
	}
	return &Packet{Data: buf[:n], PTS: pts}, nil
}

func (s *Raw) Params() audio.CodecParams { return s.params }

func (s *Raw) Close() error { return s.r.Close() }

// WAV reads a RIFF/WAVE file and emits 20ms PCM packets.
type WAV struct {
	f       *os.File
	dec     *wav.Decoder
	params  audio.CodecParams
	buf     *goaudio.IntBuffer
	samples uint64
}

// OpenWAV opens a WAV file for packet reading.
func OpenWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV encoding %d (only integer PCM)", dec.WavAudioFormat)
	}

	params := audio.CodecParams{
		Codec:      "pcm",
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if _, err := params.PCMFormat(); err != nil {
		f.Close()
		return nil, err
	}
	frame := params.SampleRate / 50
	return &WAV{
		f:      f,
		dec:    dec,
		params: params,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: params.Channels, SampleRate: params.SampleRate},
			Data:   make([]int, frame*params.Channels),
		},
	}, nil
}

func (w *WAV) ReadPacket() (*Packet, error) {
	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("wav read: %w", err)
	}
	n -= n % w.params.Channels
	if n == 0 {
		return nil, io.EOF
	}

	sf, _ := w.params.PCMFormat()
	width := sf.Bytes()
	data := make([]byte, n*width)
	for i, v := range w.buf.Data[:n] {
		b := data[i*width:]
		switch width {
		case 1:
			b[0] = byte(v)
		case 2:
			b[0], b[1] = byte(v), byte(v>>8)
		case 3:
			b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
		case 4:
			b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		}
	}

	pts := float64(w.samples) / float64(w.params.SampleRate)
	w.samples += uint64(n / w.params.Channels)
	return &Packet{Data: data, PTS: pts}, nil
}

func (w *WAV) Params() audio.CodecParams { return w.params }

func (w *WAV) Close() error { return w.f.Close() }
