package shivai

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/audio"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room"
)

// Option is a function that configures a Session.
type Option func(*Session)

// WithHTTPClient sets a custom HTTP client for the token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.httpClient = client
	}
}

// WithLogger sets the logger for the session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the session.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithRoomFactory injects the transport factory. The default dials the
// room server over websocket.
func WithRoomFactory(f room.Factory) Option {
	return func(s *Session) {
		s.factory = f
	}
}

// WithAudio wires a microphone source and speaker sink. Either may be nil
// for a text-only or listen-only session.
func WithAudio(source audio.Source, sink audio.Sink) Option {
	return func(s *Session) {
		s.source = source
		s.sink = sink
	}
}

// WithCaptureOptions overrides the full capture configuration tried first
// when enabling the microphone.
func WithCaptureOptions(opts room.CaptureOptions) Option {
	return func(s *Session) {
		s.capture = opts
	}
}

// WithPlaybackVolume overrides the attenuated playback volume applied to
// remote audio. Tuning value, not a contract.
func WithPlaybackVolume(v float64) Option {
	return func(s *Session) {
		if v > 0 && v <= 1 {
			s.playbackVolume = v
		}
	}
}

// WithTokenTimeout bounds the credential fetch.
func WithTokenTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tokenTimeout = d
		}
	}
}

// WithDefaultLanguage sets the language tag used when Connect is called
// without one.
func WithDefaultLanguage(tag string) Option {
	return func(s *Session) {
		if tag != "" {
			s.defaultLanguage = tag
		}
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}
