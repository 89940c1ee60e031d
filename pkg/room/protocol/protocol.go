// Package protocol defines the wire frames exchanged with the realtime
// room server. Text frames are JSON envelopes tagged by "type"; inbound
// audio arrives as an audio_chunk_header text frame followed by one
// binary websocket message carrying raw PCM.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// Named text-stream topics used by the agent runtime.
	TopicTranscription = "transcription"
	TopicChat          = "chat"

	// Stream attribute keys.
	AttrFinal     = "final"
	AttrSegmentID = "segment_id"
)

// DecodeError describes a malformed or unsupported frame.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badFrame(message string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message}
}

// AudioFormat describes the negotiated PCM shape for a session.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// CaptureSettings carries the audio-quality and feedback-prevention
// parameters requested for the local microphone. They are passed through
// to the media server verbatim.
type CaptureSettings struct {
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
	Channels         int  `json:"channels"`
	SampleRateHz     int  `json:"sample_rate_hz"`
}

// Participant identifies a room member.
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	IsLocal  bool   `json:"is_local,omitempty"`
}

// --- Client frames ---

// ClientJoin is the first frame sent after the websocket opens.
type ClientJoin struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Token           string          `json:"token"`
	Audio           CaptureSettings `json:"audio"`
}

// ClientAudioFrame carries one outbound microphone frame.
type ClientAudioFrame struct {
	Type        string `json:"type"`
	Seq         int64  `json:"seq"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
	DataB64     string `json:"data_b64"`
}

// ClientData publishes a raw data packet to the room.
type ClientData struct {
	Type       string `json:"type"`
	Topic      string `json:"topic,omitempty"`
	PayloadB64 string `json:"payload_b64"`
}

// ClientText publishes structured text to a named stream topic.
type ClientText struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Text  string `json:"text"`
}

// ClientMicrophone toggles local capture and carries the requested
// settings so the server can adjust processing.
type ClientMicrophone struct {
	Type     string           `json:"type"`
	Enabled  bool             `json:"enabled"`
	Settings *CaptureSettings `json:"settings,omitempty"`
}

// ClientControl carries session-level operations: mute, unmute, leave.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// --- Server frames ---

// ServerJoined acknowledges the join and names the local participant.
type ServerJoined struct {
	Type     string      `json:"type"`
	Room     string      `json:"room"`
	Local    Participant `json:"local"`
	Metadata string      `json:"metadata,omitempty"`
}

// ServerState reports a transport connection-state change.
type ServerState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ServerData delivers a raw data packet from another participant.
type ServerData struct {
	Type       string      `json:"type"`
	Sender     Participant `json:"sender"`
	Topic      string      `json:"topic,omitempty"`
	PayloadB64 string      `json:"payload_b64"`
}

// ServerStreamOpen starts a named text stream.
type ServerStreamOpen struct {
	Type       string            `json:"type"`
	StreamID   string            `json:"stream_id"`
	Topic      string            `json:"topic"`
	Sender     Participant       `json:"sender"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ServerStreamChunk appends text to an open stream.
type ServerStreamChunk struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// ServerStreamClose completes a stream; the accumulated text is final.
type ServerStreamClose struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// ServerParticipantMetadata reports a participant metadata change.
type ServerParticipantMetadata struct {
	Type     string      `json:"type"`
	Sender   Participant `json:"sender"`
	Metadata string      `json:"metadata"`
}

// ServerRoomMetadata reports a room metadata change.
type ServerRoomMetadata struct {
	Type     string `json:"type"`
	Metadata string `json:"metadata"`
}

// ServerTrack announces a subscribed remote track.
type ServerTrack struct {
	Type   string      `json:"type"`
	Kind   string      `json:"kind"`
	Sender Participant `json:"sender"`
	Format AudioFormat `json:"format"`
}

// ServerAudioChunkHeader precedes one binary websocket message of PCM.
type ServerAudioChunkHeader struct {
	Type   string `json:"type"`
	Seq    int64  `json:"seq"`
	Sender string `json:"sender,omitempty"`
}

// ServerLeave tells the client the session is over.
type ServerLeave struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ServerError reports a server-side failure.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerFrame is implemented by every decoded server frame.
type ServerFrame interface {
	serverFrameType() string
}

func (f ServerJoined) serverFrameType() string              { return "joined" }
func (f ServerState) serverFrameType() string               { return "state" }
func (f ServerData) serverFrameType() string                { return "data" }
func (f ServerStreamOpen) serverFrameType() string          { return "stream_open" }
func (f ServerStreamChunk) serverFrameType() string         { return "stream_chunk" }
func (f ServerStreamClose) serverFrameType() string         { return "stream_close" }
func (f ServerParticipantMetadata) serverFrameType() string { return "participant_metadata" }
func (f ServerRoomMetadata) serverFrameType() string        { return "room_metadata" }
func (f ServerTrack) serverFrameType() string               { return "track" }
func (f ServerAudioChunkHeader) serverFrameType() string    { return "audio_chunk_header" }
func (f ServerLeave) serverFrameType() string               { return "leave" }
func (f ServerError) serverFrameType() string               { return "error" }

// UnknownFrame preserves frames this client version does not understand.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (f UnknownFrame) serverFrameType() string { return f.Type }

// DecodeServerFrame decodes one JSON text frame from the room server.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame(fmt.Sprintf("decode frame envelope: %v", err))
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("frame missing type")
	}

	decode := func(v any) (ServerFrame, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, badFrame(fmt.Sprintf("decode %s: %v", typ, err))
		}
		return nil, nil
	}

	switch typ {
	case "joined":
		var f ServerJoined
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "state":
		var f ServerState
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		if strings.TrimSpace(f.State) == "" {
			return nil, badFrame("state frame missing state")
		}
		return f, nil
	case "data":
		var f ServerData
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "stream_open":
		var f ServerStreamOpen
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		if strings.TrimSpace(f.StreamID) == "" {
			return nil, badFrame("stream_open missing stream_id")
		}
		return f, nil
	case "stream_chunk":
		var f ServerStreamChunk
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "stream_close":
		var f ServerStreamClose
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "participant_metadata":
		var f ServerParticipantMetadata
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "room_metadata":
		var f ServerRoomMetadata
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "track":
		var f ServerTrack
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "audio_chunk_header":
		var f ServerAudioChunkHeader
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "leave":
		var f ServerLeave
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "error":
		var f ServerError
		if _, err := decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return UnknownFrame{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
