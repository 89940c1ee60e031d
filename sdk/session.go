// Package shivai implements the realtime calling client for ShivAI agent
// sessions: credential acquisition, room transport orchestration, and the
// normalization of every inbound signal shape into one canonical message
// stream a host UI can render.
//
// A Session is owned and constructed by the host, one instance per active
// UI session; there is no package-level singleton.
package shivai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/audio"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/core"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room/protocol"
)

// State is the session connection lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Status is the synchronous, side-effect-free connection snapshot.
type Status struct {
	IsConnected  bool
	IsConnecting bool
}

const (
	defaultTokenTimeout = 15 * time.Second
	defaultLanguageTag  = "en-US"
)

// Session owns the lifecycle of one realtime session with a deployed
// agent. At most one connection is active per Session; a second Connect
// while connecting or connected is a logged no-op.
type Session struct {
	tokenURL        string
	httpClient      *http.Client
	logger          *slog.Logger
	tracer          trace.Tracer
	factory         room.Factory
	source          audio.Source
	sink            audio.Sink
	capture         room.CaptureOptions
	playbackVolume  float64
	tokenTimeout    time.Duration
	defaultLanguage string
	metrics         *Metrics

	callbacks callbackSet

	mu          sync.Mutex
	state       State
	gen         uint64
	room        room.Room
	agentTarget string
	language    string
	callID      string
	startedAt   time.Time
	lastError   string

	dedup        *dedupWindow
	lastSentText string
	lastSentAt   time.Time
}

// NewSession creates a session manager for the given token endpoint.
func NewSession(tokenURL string, opts ...Option) *Session {
	s := &Session{
		tokenURL:        tokenURL,
		logger:          slog.Default(),
		factory:         room.WebSocket,
		capture:         room.DefaultCaptureOptions(),
		playbackVolume:  audio.DefaultPlaybackVolume,
		tokenTimeout:    defaultTokenTimeout,
		defaultLanguage: defaultLanguageTag,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = newDefaultHTTPClient()
	}
	return s
}

// Connect starts a realtime session with the given agent. language falls
// back to the session default when empty.
//
// Fatal failures reset the session to disconnected and are reported
// through OnError/OnStatus as well as the returned error. There is no
// automatic retry; the caller may Connect again. A Disconnect issued while
// the connection is still being established aborts it cleanly: OnConnected
// never fires and no room is left behind.
func (s *Session) Connect(ctx context.Context, agentTarget, language string) error {
	agentTarget = strings.TrimSpace(agentTarget)
	if agentTarget == "" {
		err := core.NewInvalidRequestError("agent target must not be empty")
		s.reportError(err.Message)
		return err
	}
	if strings.TrimSpace(language) == "" {
		language = s.defaultLanguage
	}

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("connect ignored; session already active", "state", state)
		return nil
	}
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.agentTarget = agentTarget
	s.language = language
	s.callID = uuid.NewString()
	callID := s.callID
	s.startedAt = time.Now()
	s.lastError = ""
	s.dedup = newDedupWindow()
	s.lastSentText = ""
	s.mu.Unlock()

	s.metrics.sessionStarted()
	s.callbacks.state(StateConnecting)
	s.callbacks.status("Connecting...", StateConnecting)

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "session.connect")
		defer span.End()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.tokenTimeout)
	cred, err := s.fetchCredential(fetchCtx, agentTarget, language, callID)
	cancel()
	if s.aborted(gen) {
		return nil
	}
	if err != nil {
		return s.failConnect(gen, err)
	}

	if s.sink != nil {
		s.sink.SetVolume(s.playbackVolume)
	}

	rm, err := s.factory(ctx, room.Config{
		URL:     cred.URL,
		Token:   cred.Token,
		Capture: s.capture,
		Source:  s.source,
		Sink:    s.sink,
		Logger:  s.logger,
	})
	if err != nil {
		if s.aborted(gen) {
			return nil
		}
		return s.failConnect(gen, &TransportError{Op: "room dial", URL: cred.URL, Err: err})
	}

	// The caller may have disconnected while the dial was in flight; a
	// room constructed after that point must not survive.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = rm.Close()
		return nil
	}
	s.room = rm
	s.mu.Unlock()

	// The room buffers events from its first frame, so the drain attached
	// here observes everything including the initial connected event.
	go s.drainEvents(rm, gen)
	return nil
}

// Disconnect ends the active session, or cancels an in-flight connection
// attempt. Always safe to call, including when idle.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	rm := s.room
	s.room = nil
	wasActive := s.state == StateConnecting || s.state == StateConnected
	s.gen++
	s.state = StateDisconnected
	s.dedup = nil
	s.mu.Unlock()

	if rm != nil {
		_ = rm.Close()
	}
	if wasActive {
		// Drop any agent audio still queued for playback.
		if s.sink != nil {
			s.sink.Flush()
		}
		s.metrics.sessionEnded()
		s.callbacks.state(StateDisconnected)
		s.callbacks.status("Disconnected", StateDisconnected)
		s.callbacks.disconnected("disconnect requested")
	}
	return nil
}

type chatEnvelope struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// SendText sends typed text to the agent. The text is echoed locally as a
// canonical chat message before any network round trip completes; the
// transcription stream echoing the same text back within the dedup window
// is suppressed.
func (s *Session) SendText(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.logger.Warn("ignoring empty message send")
		return nil
	}

	s.mu.Lock()
	rm := s.room
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || rm == nil {
		s.logger.Warn("cannot send message; session not connected")
		return nil
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSentText = trimmed
	s.lastSentAt = now
	s.mu.Unlock()

	// Local echo, synchronous and unconditional: a repeated identical
	// send is a new message. The fingerprint is recorded so the server's
	// re-delivery of this text is suppressed, but it never gates the echo.
	s.echoLocalMessage(trimmed, now)

	err := rm.PublishText(ctx, protocol.TopicChat, trimmed)
	if err != nil {
		// Fall back to a raw data publish carrying the chat envelope.
		envelope, mErr := json.Marshal(chatEnvelope{
			Type:      "chat",
			Text:      trimmed,
			Timestamp: now.UnixMilli(),
			Source:    "typed",
		})
		if mErr == nil {
			if dErr := rm.PublishData(ctx, envelope); dErr == nil {
				return nil
			} else {
				err = dErr
			}
		}
		// Both publish paths failing means the link is gone.
		s.surfaceError(core.NewTransportError(fmt.Sprintf("failed to send message: %v", err)))
		return err
	}
	return nil
}

// echoLocalMessage appends the typed text to the transcript immediately,
// before any network round trip completes.
func (s *Session) echoLocalMessage(text string, now time.Time) {
	s.mu.Lock()
	window := s.dedup
	s.mu.Unlock()
	if window != nil {
		window.record(true, text)
	}

	msg := newMessage(text, true, ChannelChat, now)
	s.metrics.messageNormalized(ChannelChat)
	s.callbacks.message(msg)
}

// ToggleMute flips the local microphone and returns the new enabled state,
// queried fresh from the transport. Returns false when not connected.
func (s *Session) ToggleMute(ctx context.Context) (bool, error) {
	s.mu.Lock()
	rm := s.room
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || rm == nil {
		s.logger.Warn("cannot toggle mute; session not connected")
		return false, nil
	}

	if rm.MicrophoneEnabled() {
		if err := rm.DisableMicrophone(ctx); err != nil {
			s.logger.Warn("disable microphone failed", "error", err)
		}
	} else {
		s.enableMicrophone(ctx, rm)
	}
	return rm.MicrophoneEnabled(), nil
}

// Status is a pure read of the connection snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsConnected:  s.state == StateConnected,
		IsConnecting: s.state == StateConnecting,
	}
}

// CallID returns the call id of the current or most recent attempt.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *Session) aborted(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

func (s *Session) failConnect(gen uint64, err error) error {
	if s.aborted(gen) {
		return nil
	}
	s.mu.Lock()
	s.state = StateDisconnected
	s.room = nil
	s.lastError = err.Error()
	s.mu.Unlock()

	s.metrics.sessionEnded()
	s.metrics.errorReported()
	s.callbacks.error(err.Error())
	s.callbacks.status("Connection failed", StateDisconnected)
	s.callbacks.state(StateDisconnected)
	s.logger.Error("connect failed", "agent", s.agentTarget, "error", err)
	return err
}

func (s *Session) reportError(message string) {
	s.metrics.errorReported()
	s.logger.Error(message)
	s.callbacks.error(message)
}

// surfaceError routes a post-connect error by severity: degraded
// conditions (media errors) are reported and the call continues, fatal
// ones end the session.
func (s *Session) surfaceError(err *core.Error) {
	s.reportError(err.Message)
	if !err.IsFatal() {
		return
	}
	_ = s.Disconnect(context.Background())
}

// drainEvents consumes the room's event stream for one connection
// generation. A stale generation stops consuming immediately so a
// cancelled attempt cannot fire late callbacks.
func (s *Session) drainEvents(rm room.Room, gen uint64) {
	for ev := range rm.Events() {
		if s.aborted(gen) {
			return
		}
		switch e := ev.(type) {
		case room.ConnectedEvent:
			s.handleConnected(rm, gen)
		case room.DisconnectedEvent:
			s.handleRoomDisconnected(gen, e.Reason)
			return
		case room.StateChangedEvent:
			s.callbacks.state(mapConnectionState(e.State))
		case room.DataReceivedEvent:
			s.handleData(e, rm.LocalIdentity())
		case room.TextStreamEvent:
			s.handleTextStream(e, rm.LocalIdentity())
		case room.ParticipantMetadataEvent:
			s.handleParticipantMetadata(e, rm.LocalIdentity())
		case room.RoomMetadataEvent:
			s.handleRoomMetadata(e)
		case room.TrackSubscribedEvent:
			s.logger.Info("remote track subscribed", "kind", e.Kind, "sender", e.Sender.Identity)
		}
	}
}

func (s *Session) handleConnected(rm room.Room, gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.mu.Unlock()

	s.callbacks.state(StateConnected)
	s.callbacks.status("Connected", StateConnected)

	// Microphone and playback setup are degraded-but-continue: the
	// session stays up even if both fail.
	if s.source != nil {
		s.enableMicrophone(context.Background(), rm)
	}
	if s.sink != nil {
		if err := s.sink.Resume(); err != nil {
			s.logger.Debug("audio playback resume failed", "error", err)
		}
	}

	s.callbacks.connected()
}

// enableMicrophone tries the full capture configuration, then a minimal
// enable, and reports a non-fatal error if both are rejected.
func (s *Session) enableMicrophone(ctx context.Context, rm room.Room) {
	if err := rm.EnableMicrophone(ctx, s.capture); err != nil {
		s.logger.Warn("microphone enable with full config failed; retrying minimal", "error", err)
		if err := rm.EnableMicrophone(ctx, room.MinimalCaptureOptions()); err != nil {
			s.surfaceError(core.NewMediaError(fmt.Sprintf("microphone unavailable: %v", err)))
		}
	}
}

func (s *Session) handleRoomDisconnected(gen uint64, reason string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.room = nil
	s.dedup = nil
	if reason != "" {
		s.lastError = reason
	}
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Flush()
	}
	s.metrics.sessionEnded()
	s.callbacks.state(StateDisconnected)
	s.callbacks.status("Disconnected", StateDisconnected)
	s.callbacks.disconnected(reason)
}

func (s *Session) matchesLastSent(text string) bool {
	trimmed := strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSentText != "" &&
		trimmed == s.lastSentText &&
		time.Since(s.lastSentAt) <= dedupTTL
}

func mapConnectionState(state room.ConnectionState) State {
	switch state {
	case room.StateConnected:
		return StateConnected
	case room.StateConnecting, room.StateReconnecting:
		return StateConnecting
	default:
		return StateDisconnected
	}
}
