// Package room defines the realtime transport boundary the session core
// drives: a Room abstraction with participants, data packets, named text
// streams and audio tracks, plus a websocket-backed implementation.
//
// The session depends only on the Room interface and a Factory; the
// concrete client is injected at construction time so hosts and tests can
// swap the transport.
package room

import (
	"context"
	"log/slog"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/audio"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room/protocol"
)

// ConnectionState mirrors the transport's connection lifecycle.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Participant identifies a room member as seen by this client.
type Participant struct {
	Identity string
	Name     string
}

// CaptureOptions are the audio-quality and feedback-prevention parameters
// requested when enabling the local microphone. They are passed through to
// the transport, not interpreted here.
type CaptureOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	Channels         int
	SampleRateHz     int
}

// DefaultCaptureOptions is the full capture configuration tried first.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		Channels:         1,
		SampleRateHz:     16000,
	}
}

// MinimalCaptureOptions is the bare enable retried when the full
// configuration is rejected by the device.
func MinimalCaptureOptions() CaptureOptions {
	return CaptureOptions{Channels: 1, SampleRateHz: 16000}
}

func (o CaptureOptions) wire() protocol.CaptureSettings {
	return protocol.CaptureSettings{
		EchoCancellation: o.EchoCancellation,
		NoiseSuppression: o.NoiseSuppression,
		AutoGainControl:  o.AutoGainControl,
		Channels:         o.Channels,
		SampleRateHz:     o.SampleRateHz,
	}
}

// Config constructs one Room.
type Config struct {
	// URL and Token come from the credential endpoint.
	URL   string
	Token string

	// Capture settings sent with the join frame.
	Capture CaptureOptions

	// Source supplies microphone PCM; nil disables outbound audio.
	Source audio.Source
	// Sink receives remote-track PCM; nil discards inbound audio.
	Sink audio.Sink

	Logger *slog.Logger
}

// Event is the tagged sum of everything a Room reports upward.
type Event interface {
	roomEventType() string
}

// ConnectedEvent fires once after the join is acknowledged.
type ConnectedEvent struct {
	Room  string
	Local Participant
}

// DisconnectedEvent fires once when the transport ends.
type DisconnectedEvent struct {
	Reason string
}

// StateChangedEvent reports transport connection-state transitions.
type StateChangedEvent struct {
	State ConnectionState
}

// DataReceivedEvent carries one inbound binary data packet.
type DataReceivedEvent struct {
	Payload []byte
	Sender  Participant
	Topic   string
}

// TextStreamEvent carries one named text stream, read to completion.
type TextStreamEvent struct {
	Topic      string
	Sender     Participant
	Text       string
	Attributes map[string]string
}

// ParticipantMetadataEvent reports a participant metadata change.
type ParticipantMetadataEvent struct {
	Sender   Participant
	Metadata string
}

// RoomMetadataEvent reports a room metadata change.
type RoomMetadataEvent struct {
	Metadata string
}

// TrackSubscribedEvent reports a subscribed remote track. Audio payload is
// routed to the configured Sink, not surfaced through events.
type TrackSubscribedEvent struct {
	Kind   string
	Sender Participant
	Format protocol.AudioFormat
}

func (e ConnectedEvent) roomEventType() string           { return "connected" }
func (e DisconnectedEvent) roomEventType() string        { return "disconnected" }
func (e StateChangedEvent) roomEventType() string        { return "state_changed" }
func (e DataReceivedEvent) roomEventType() string        { return "data_received" }
func (e TextStreamEvent) roomEventType() string          { return "text_stream" }
func (e ParticipantMetadataEvent) roomEventType() string { return "participant_metadata" }
func (e RoomMetadataEvent) roomEventType() string        { return "room_metadata" }
func (e TrackSubscribedEvent) roomEventType() string     { return "track_subscribed" }

// Room is the transport capability the session manager drives.
type Room interface {
	// Events yields inbound room events. The channel is buffered from the
	// first frame so consumers attached right after construction miss
	// nothing; it closes when the room ends.
	Events() <-chan Event

	// LocalIdentity returns the local participant identity, empty until
	// the join is acknowledged.
	LocalIdentity() string

	EnableMicrophone(ctx context.Context, opts CaptureOptions) error
	DisableMicrophone(ctx context.Context) error
	// MicrophoneEnabled queries live transport state; it is never a
	// cached copy of what the caller last requested.
	MicrophoneEnabled() bool

	PublishData(ctx context.Context, payload []byte) error
	PublishText(ctx context.Context, topic, text string) error

	Close() error
}

// Factory dials and returns an already-joined Room.
type Factory func(ctx context.Context, cfg Config) (Room, error)
