// ABOUTME: Wire messages of the streaming server protocol
// ABOUTME: JSON control messages and the binary audio chunk layout
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Message types used by the stream source.
const (
	TypeClientHello  = "client/hello"
	TypeServerHello  = "server/hello"
	TypePlayerUpdate = "player/update"
	TypeClientTime   = "client/time"
	TypeServerTime   = "server/time"
	TypeStreamStart  = "stream/start"
	TypeStreamEnd    = "stream/end"
	TypeStreamClear  = "stream/clear"
	TypeCommand      = "server/command"
)

// AudioChunkType is the first byte of a binary audio chunk.
const AudioChunkType = 0

// chunkHeader is the type byte plus the big-endian microsecond timestamp.
const chunkHeader = 9

// ErrShortChunk is returned for binary messages without a full header.
var ErrShortChunk = errors.New("binary chunk too short")

// Message is the envelope of every JSON message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into an envelope of type typ.
func NewMessage(typ string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Message{Type: typ, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// ClientHello opens the handshake.
type ClientHello struct {
	ClientID       string         `json:"client_id"`
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	SupportedRoles []string       `json:"supported_roles"`
	DeviceInfo     *DeviceInfo    `json:"device_info,omitempty"`
	PlayerSupport  *PlayerSupport `json:"player_support,omitempty"`
}

// DeviceInfo identifies the player.
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// PlayerSupport lists what the player can decode.
type PlayerSupport struct {
	SupportFormats    []AudioFormat `json:"support_formats,omitempty"`
	BufferCapacity    int           `json:"buffer_capacity,omitempty"`
	SupportedCommands []string      `json:"supported_commands,omitempty"`
}

// AudioFormat is one codec configuration.
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ServerHello answers ClientHello.
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientState is reported in player/update.
type ClientState struct {
	State  string `json:"state"`
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// ServerCommand is a control message from the server.
type ServerCommand struct {
	Command string `json:"command"`
	Volume  int    `json:"volume,omitempty"`
	Mute    bool   `json:"mute,omitempty"`
}

// StreamStart announces a new stream and its codec.
type StreamStart struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	BitDepth    int    `json:"bit_depth"`
	CodecHeader string `json:"codec_header,omitempty"` // base64
}

// ClientTime asks for a clock sample. Times are microseconds.
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime answers ClientTime.
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// AudioChunk is a binary audio message: when to play it, in server
// microseconds, and the encoded payload.
type AudioChunk struct {
	Timestamp int64
	Data      []byte
}

// ParseAudioChunk splits a binary message. Data aliases b.
func ParseAudioChunk(b []byte) (AudioChunk, error) {
	if len(b) < chunkHeader {
		return AudioChunk{}, ErrShortChunk
	}
	if b[0] != AudioChunkType {
		return AudioChunk{}, fmt.Errorf("unknown binary message type %d", b[0])
	}
	return AudioChunk{
		Timestamp: int64(binary.BigEndian.Uint64(b[1:chunkHeader])),
		Data:      b[chunkHeader:],
	}, nil
}

// Encode returns the binary form of c.
func (c AudioChunk) Encode() []byte {
	b := make([]byte, chunkHeader+len(c.Data))
	b[0] = AudioChunkType
	binary.BigEndian.PutUint64(b[1:chunkHeader], uint64(c.Timestamp))
	copy(b[chunkHeader:], c.Data)
	return b
}
