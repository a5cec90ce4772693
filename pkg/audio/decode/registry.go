// ABOUTME: Explicit list of decoder backends
// ABOUTME: Resolves a codec to ordered candidates and opens the first that works
package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

// ErrNoDecoder is returned when every candidate failed to open.
var ErrNoDecoder = fmt.Errorf("no usable decoder: %w", ErrBackendInit)

// Factory opens a backend for a stream.
type Factory func(params audio.CodecParams) (Backend, error)

// Entry is one registered backend.
type Entry struct {
	Name   string
	Codecs []string // nil accepts any codec
	New    Factory
}

func (e Entry) supports(codec string) bool {
	return e.Codecs == nil || slices.Contains(e.Codecs, codec)
}

// Registry holds backends in registration order.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(entries ...Entry) *Registry {
	return &Registry{entries: entries}
}

// DefaultRegistry lists every backend compiled into this build. Native
// libraries come before pure Go fallbacks for the same codec; lavc is the
// catch-all when built with the lavc tag.
func DefaultRegistry() *Registry {
	r := NewRegistry(
		Entry{Name: "pcm", Codecs: []string{"pcm"}, New: NewPCM},
		Entry{Name: "opus", Codecs: []string{"opus"}, New: NewOpus},
		Entry{Name: "gopus", Codecs: []string{"opus"}, New: NewGopus},
		Entry{Name: "mp3", Codecs: []string{"mp3"}, New: NewMP3},
		Entry{Name: "flac", Codecs: []string{"flac"}, New: NewFLAC},
	)
	for _, e := range lavcEntries() {
		r.Register(e)
	}
	return r
}

// Register appends an entry.
func (r *Registry) Register(e Entry) {
	r.entries = append(r.entries, e)
}

// Names lists registered backend names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Candidates returns the entries that accept codec. Names listed in prefer
// come first in that order; the rest keep registration order.
func (r *Registry) Candidates(codec string, prefer []string) []Entry {
	var out []Entry
	for _, name := range prefer {
		for _, e := range r.entries {
			if e.Name == name && e.supports(codec) {
				out = append(out, e)
			}
		}
	}
	for _, e := range r.entries {
		if e.supports(codec) && !slices.Contains(prefer, e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Open tries each candidate in turn. Backends that fail with ErrBackendInit
// are skipped; any other error aborts.
func (r *Registry) Open(params audio.CodecParams, prefer []string, log *slog.Logger) (Backend, string, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, e := range r.Candidates(params.Codec, prefer) {
		b, err := e.New(params)
		if err == nil {
			log.Debug("opened decoder", "backend", e.Name, "params", params.String())
			return b, e.Name, nil
		}
		if !errors.Is(err, ErrBackendInit) {
			return nil, "", err
		}
		log.Info("decoder backend unavailable, trying next", "backend", e.Name, "error", err)
	}
	return nil, "", fmt.Errorf("codec %q: %w", params.Codec, ErrNoDecoder)
}
