// ABOUTME: Malgo-based audio output implementation with 24-bit support
// ABOUTME: Uses miniaudio library via malgo for true hi-res audio playback
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	cfg      Config
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	paused   bool

	// Ring buffer for callback-based playback
	ring *RingBuffer
	mu   sync.Mutex
}

// NewMalgo creates a new Malgo output
func NewMalgo(cfg Config) *Malgo {
	return &Malgo{cfg: cfg.withDefaults()}
}

var malgoFormats = map[audio.SampleFormat]malgo.FormatType{
	audio.SampleS16:   malgo.FormatS16,
	audio.SampleS24:   malgo.FormatS24,
	audio.SampleS32:   malgo.FormatS32,
	audio.SampleFloat: malgo.FormatF32,
}

// Open initializes the output device with specified format
func (m *Malgo) Open(preferred audio.Format) (audio.Format, error) {
	f := negotiate(preferred, []audio.SampleFormat{
		audio.SampleS16, audio.SampleS24, audio.SampleS32, audio.SampleFloat,
	}, 0)

	m.mu.Lock()
	defer m.mu.Unlock()

	// If already initialized with same format, reuse
	if m.device != nil && m.format == f {
		m.cfg.Logger.Debug("audio output already initialized with same format, reusing device")
		m.ring.Reset()
		return f, nil
	}

	// If format changed, reinitialize
	if m.device != nil {
		m.cfg.Logger.Info("format change detected, reinitializing device",
			"from", m.format.String(), "to", f.String())
		m.closeDevice()
	}

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return audio.Format{}, fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	m.ring = NewRingBuffer(wholeFrames(f, int(ringBuffer.Seconds()*float64(f.BytesPerSecond()))))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgoFormats[f.Sample]
	deviceConfig.Playback.Channels = uint32(f.NumChannels())
	deviceConfig.SampleRate = uint32(f.Rate)
	deviceConfig.Alsa.NoMMap = 1

	ring := m.ring
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			ring.Read(pOutputSample)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return audio.Format{}, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return audio.Format{}, fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.format = f
	m.paused = false

	m.cfg.Logger.Info("audio output initialized", "backend", "malgo", "format", f.String())
	return f, nil
}

func (m *Malgo) Write(data []byte, flags WriteFlags) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return 0, ErrNotOpen
	}
	n := wholeFrames(m.format, min(len(data), m.ring.Free()))
	return m.ring.Write(data[:n]), nil
}

func (m *Malgo) FreeSpace() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring == nil {
		return 0
	}
	return wholeFrames(m.format, m.ring.Free())
}

func (m *Malgo) Delay() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring == nil {
		return 0
	}
	return float64(m.ring.Available()) / float64(m.format.BytesPerSecond())
}

func (m *Malgo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring != nil {
		m.ring.Reset()
	}
}

func (m *Malgo) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil && !m.paused {
		if err := m.device.Stop(); err != nil {
			m.cfg.Logger.Warn("device stop error", "err", err)
		}
		m.paused = true
	}
}

func (m *Malgo) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil && m.paused {
		if err := m.device.Start(); err != nil {
			m.cfg.Logger.Warn("device start error", "err", err)
		}
		m.paused = false
	}
}

// Close releases output resources
func (m *Malgo) Close(drain bool) error {
	if drain {
		m.mu.Lock()
		paused := m.paused
		m.mu.Unlock()
		if !paused {
			m.cfg.Sleep(time.Duration(m.Delay() * float64(time.Second)))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			m.cfg.Logger.Warn("malgo context uninit error", "err", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.cfg.Logger.Warn("device stop error", "err", err)
		}
		m.device.Uninit()
		m.device = nil
	}
}

func (m *Malgo) Untimed() bool { return false }
