// ABOUTME: Channel layout definitions
// ABOUTME: Positional speaker lists with default layouts per channel count
package audio

import "strings"

// MaxChannels is the largest channel count the engine handles.
const MaxChannels = 8

// Speaker is a loudspeaker position.
type Speaker uint8

const (
	SpeakerNone Speaker = iota
	SpeakerFL
	SpeakerFR
	SpeakerFC
	SpeakerLFE
	SpeakerBL
	SpeakerBR
	SpeakerBC
	SpeakerSL
	SpeakerSR
)

var speakerNames = [...]string{"na", "fl", "fr", "fc", "lfe", "bl", "br", "bc", "sl", "sr"}

func (s Speaker) String() string {
	if int(s) < len(speakerNames) {
		return speakerNames[s]
	}
	return "na"
}

// ChannelMap is an ordered list of speakers. It is a value type so that
// formats stay comparable with ==.
type ChannelMap struct {
	Num      int
	Speakers [MaxChannels]Speaker
}

var defaultLayouts = [MaxChannels + 1][]Speaker{
	1: {SpeakerFC},
	2: {SpeakerFL, SpeakerFR},
	3: {SpeakerFL, SpeakerFR, SpeakerFC},
	4: {SpeakerFL, SpeakerFR, SpeakerBL, SpeakerBR},
	5: {SpeakerFL, SpeakerFR, SpeakerFC, SpeakerBL, SpeakerBR},
	6: {SpeakerFL, SpeakerFR, SpeakerFC, SpeakerLFE, SpeakerBL, SpeakerBR},
	7: {SpeakerFL, SpeakerFR, SpeakerFC, SpeakerLFE, SpeakerBC, SpeakerSL, SpeakerSR},
	8: {SpeakerFL, SpeakerFR, SpeakerFC, SpeakerLFE, SpeakerBL, SpeakerBR, SpeakerSL, SpeakerSR},
}

// DefaultChannelMap returns the conventional layout for n channels.
// Out of range counts yield an invalid map.
func DefaultChannelMap(n int) ChannelMap {
	if n < 1 || n > MaxChannels {
		return ChannelMap{}
	}
	return NewChannelMap(defaultLayouts[n]...)
}

// NewChannelMap builds a map from an explicit speaker order.
func NewChannelMap(speakers ...Speaker) ChannelMap {
	var m ChannelMap
	if len(speakers) > MaxChannels {
		return m
	}
	m.Num = len(speakers)
	copy(m.Speakers[:], speakers)
	return m
}

// Valid reports whether the map has between 1 and MaxChannels entries.
func (m ChannelMap) Valid() bool {
	return m.Num >= 1 && m.Num <= MaxChannels
}

// Index returns the channel index of speaker s, or -1.
func (m ChannelMap) Index(s Speaker) int {
	for i := 0; i < m.Num; i++ {
		if m.Speakers[i] == s {
			return i
		}
	}
	return -1
}

func (m ChannelMap) String() string {
	if m.Num == 1 && m.Speakers[0] == SpeakerFC {
		return "mono"
	}
	if m == DefaultChannelMap(2) {
		return "stereo"
	}
	parts := make([]string, m.Num)
	for i := 0; i < m.Num; i++ {
		parts[i] = m.Speakers[i].String()
	}
	return strings.Join(parts, "-")
}
