// ABOUTME: Snapshot of playback state for status displays
// ABOUTME: Published by the driver after every iteration and safe to read concurrently
package playback

import "github.com/Resonate-Protocol/resonate-av/pkg/audio"

// Stats is a point-in-time view of a session.
type Stats struct {
	SessionID string
	State     State
	Backend   string
	Input     audio.Format
	Output    audio.Format

	WrittenPTS   float64
	PlayingPTS   float64
	VideoPTS     float64
	Delay        float64 // audio written ahead of the master clock
	AVDifference float64
	Correction   float64 // sum of drift corrections since the last seek
	Buffered     float64 // seconds queued in the device

	Frames  int
	Dropped int
	Speed   float64
	Paused  bool
}

// Stats returns the snapshot taken at the end of the last Tick.
func (d *Driver) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Driver) publishStats(buffered float64) {
	s := d.s
	st := Stats{
		SessionID:    s.ID(),
		State:        s.State(),
		VideoPTS:     d.videoPTS,
		AVDifference: d.lastAVDiff,
		Buffered:     max(buffered, 0),
		Frames:       d.frames,
		Dropped:      d.dropTotal,
		Speed:        d.speed(),
		Paused:       d.paused,
		WrittenPTS:   audio.NoPTS,
		PlayingPTS:   audio.NoPTS,
	}
	if s.dec != nil {
		st.Backend = s.dec.BackendName()
		st.Input = s.dec.InputFormat()
		st.Output = s.devFormat
		st.Delay = s.sync.Delay()
		st.Correction = s.sync.totalChange
		if s.deviceOpen {
			st.WrittenPTS = s.sync.WrittenPTS()
			st.PlayingPTS = s.sync.PlayingPTS()
		}
	}
	d.statsMu.Lock()
	d.stats = st
	d.statsMu.Unlock()
}
