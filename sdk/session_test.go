package shivai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room"
)

// fakeRoom is an in-memory Room for session tests.
type fakeRoom struct {
	mu        sync.Mutex
	events    chan room.Event
	closeOnce sync.Once
	closed    bool
	micOn     bool

	// fullConfigErr makes EnableMicrophone reject the detailed capture
	// configuration while accepting the minimal one.
	fullConfigErr bool
	// micErr makes EnableMicrophone fail regardless of configuration.
	micErr error
	// textErr forces PublishText to fail so SendText falls back to a raw
	// data publish; dataErr fails the fallback too.
	textErr error
	dataErr error

	texts []publishedText
	data  [][]byte
}

type publishedText struct {
	topic string
	text  string
}

func newFakeRoom() *fakeRoom {
	fr := &fakeRoom{events: make(chan room.Event, 32)}
	fr.events <- room.ConnectedEvent{Room: "call-1", Local: room.Participant{Identity: localIdentity}}
	return fr
}

func (f *fakeRoom) Events() <-chan room.Event { return f.events }
func (f *fakeRoom) LocalIdentity() string     { return localIdentity }

func (f *fakeRoom) EnableMicrophone(_ context.Context, opts room.CaptureOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micErr != nil {
		return f.micErr
	}
	if f.fullConfigErr && opts.EchoCancellation {
		return context.DeadlineExceeded
	}
	f.micOn = true
	return nil
}

func (f *fakeRoom) DisableMicrophone(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micOn = false
	return nil
}

func (f *fakeRoom) MicrophoneEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.micOn
}

func (f *fakeRoom) PublishData(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dataErr != nil {
		return f.dataErr
	}
	f.data = append(f.data, append([]byte(nil), payload...))
	return nil
}

func (f *fakeRoom) PublishText(_ context.Context, topic, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, publishedText{topic: topic, text: text})
	return nil
}

func (f *fakeRoom) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeRoom) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSource satisfies audio.Source without hardware.
type fakeSource struct{}

func (fakeSource) Start() error             { return nil }
func (fakeSource) Stop() error              { return nil }
func (fakeSource) Read(p []byte) (int, error) { return 0, io.EOF }
func (fakeSource) Close() error             { return nil }

// fakeSink records playback lifecycle calls.
type fakeSink struct {
	mu      sync.Mutex
	volume  float64
	resumed bool
	flushed bool
}

func (s *fakeSink) Write(p []byte) (int, error) { return len(p), nil }

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Resume() error {
	s.mu.Lock()
	s.resumed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	s.flushed = true
	s.mu.Unlock()
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) wasFlushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushed
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Credential{URL: "wss://media.example", Token: "tok"})
	}))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestSession(t *testing.T, factory room.Factory, opts ...Option) *Session {
	t.Helper()
	server := newTokenServer(t)
	t.Cleanup(server.Close)
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRoomFactory(factory),
	}, opts...)
	return NewSession(server.URL, opts...)
}

func TestConnect_EndToEnd(t *testing.T) {
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		if cfg.URL != "wss://media.example" || cfg.Token != "tok" {
			t.Errorf("room config = %q/%q", cfg.URL, cfg.Token)
		}
		return fr, nil
	})

	var connected atomic.Int32
	s.OnConnected(func() { connected.Add(1) })

	if err := s.Connect(context.Background(), "agent-123", "en-US"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")
	waitFor(t, func() bool { return connected.Load() == 1 }, "OnConnected not fired")

	status := s.Status()
	if !status.IsConnected || status.IsConnecting {
		t.Fatalf("status=%+v", status)
	}
	if s.CallID() == "" {
		t.Fatal("call id not assigned")
	}
}

func TestConnect_EmptyAgentTarget(t *testing.T) {
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		t.Error("factory must not be called")
		return nil, nil
	})
	var errMsg atomic.Value
	s.OnError(func(m string) { errMsg.Store(m) })

	if err := s.Connect(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty agent target")
	}
	if errMsg.Load() == nil {
		t.Fatal("OnError not fired")
	}
	if s.Status().IsConnecting || s.Status().IsConnected {
		t.Fatalf("status=%+v", s.Status())
	}
}

func TestConnect_IdempotentGuard(t *testing.T) {
	release := make(chan struct{})
	var factoryCalls atomic.Int32
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		factoryCalls.Add(1)
		<-release
		return fr, nil
	})

	go func() { _ = s.Connect(context.Background(), "agent-123", "") }()
	waitFor(t, func() bool { return s.Status().IsConnecting }, "first connect never started")

	// Second connect while the first is in flight is a no-op.
	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("re-entrant Connect() error = %v", err)
	}

	close(release)
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")
	if got := factoryCalls.Load(); got != 1 {
		t.Fatalf("transport sessions created = %d, want 1", got)
	}
}

func TestConnect_CancelledMidFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		close(entered)
		<-release
		return fr, nil
	})

	var connected atomic.Int32
	s.OnConnected(func() { connected.Add(1) })

	connectDone := make(chan error, 1)
	go func() { connectDone <- s.Connect(context.Background(), "agent-123", "") }()

	<-entered
	// The credential resolved and the dial is in flight; disconnect now.
	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	close(release)

	if err := <-connectDone; err != nil {
		t.Fatalf("cancelled Connect() error = %v", err)
	}
	waitFor(t, func() bool { return fr.isClosed() }, "orphaned room left open")
	if connected.Load() != 0 {
		t.Fatal("OnConnected fired after cancellation")
	}
	status := s.Status()
	if status.IsConnected || status.IsConnecting {
		t.Fatalf("status=%+v", status)
	}
}

func TestConnect_TokenFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no token for you", http.StatusUnauthorized)
	}))
	defer server.Close()

	s := NewSession(server.URL,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRoomFactory(func(ctx context.Context, cfg room.Config) (room.Room, error) {
			t.Error("factory must not be called after token failure")
			return nil, nil
		}))
	var errMsg atomic.Value
	s.OnError(func(m string) { errMsg.Store(m) })

	if err := s.Connect(context.Background(), "agent-123", ""); err == nil {
		t.Fatal("expected error from token failure")
	}
	if errMsg.Load() == nil {
		t.Fatal("OnError not fired")
	}
	status := s.Status()
	if status.IsConnected || status.IsConnecting {
		t.Fatalf("status=%+v", status)
	}
}

func TestSendText_LocalEchoAndSelfEchoDedup(t *testing.T) {
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})

	var mu sync.Mutex
	var got []Message
	s.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	if err := s.SendText(context.Background(), "Hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	// Local echo is synchronous.
	mu.Lock()
	if len(got) != 1 {
		mu.Unlock()
		t.Fatalf("messages=%d, want 1", len(got))
	}
	echo := got[0]
	mu.Unlock()
	if !echo.FromLocalUser || echo.Channel != ChannelChat || echo.Text != "Hello there" {
		t.Fatalf("echo=%+v", echo)
	}

	fr.mu.Lock()
	if len(fr.texts) != 1 || fr.texts[0].topic != "chat" || fr.texts[0].text != "Hello there" {
		fr.mu.Unlock()
		t.Fatalf("published=%+v", fr.texts)
	}
	fr.mu.Unlock()

	// The server echoes the typed text back as a local transcription;
	// exactly one message with that text must ever be emitted.
	fr.events <- room.TextStreamEvent{
		Topic:  "transcription",
		Sender: room.Participant{Identity: localIdentity},
		Text:   "Hello there",
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("messages=%d after echo, want 1", len(got))
	}
}

func TestSendText_RepeatedTextEchoesEveryTime(t *testing.T) {
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})

	var mu sync.Mutex
	var got []Message
	s.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	// The user typing the same answer twice is two messages, not a
	// duplicate.
	if err := s.SendText(context.Background(), "yes"); err != nil {
		t.Fatalf("first SendText() error = %v", err)
	}
	if err := s.SendText(context.Background(), "yes"); err != nil {
		t.Fatalf("second SendText() error = %v", err)
	}

	mu.Lock()
	if len(got) != 2 {
		mu.Unlock()
		t.Fatalf("local echoes = %d, want 2", len(got))
	}
	for _, m := range got {
		if !m.FromLocalUser || m.Text != "yes" || m.Channel != ChannelChat {
			mu.Unlock()
			t.Fatalf("echo = %+v", m)
		}
	}
	mu.Unlock()

	// The server's re-delivery of the sent text is still suppressed.
	fr.events <- room.TextStreamEvent{
		Topic:  "transcription",
		Sender: room.Participant{Identity: localIdentity},
		Text:   "yes",
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("messages = %d after server echo, want 2", len(got))
	}
}

func TestSendText_FallbackToDataPublish(t *testing.T) {
	fr := newFakeRoom()
	fr.textErr = context.DeadlineExceeded
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	if err := s.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.data) != 1 {
		t.Fatalf("data publishes=%d, want 1", len(fr.data))
	}
	var envelope chatEnvelope
	if err := json.Unmarshal(fr.data[0], &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Type != "chat" || envelope.Text != "hi" || envelope.Source != "typed" {
		t.Fatalf("envelope=%+v", envelope)
	}
}

func TestSendText_GuardsWhenNotConnected(t *testing.T) {
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return newFakeRoom(), nil
	})
	var messages atomic.Int32
	s.OnMessage(func(Message) { messages.Add(1) })

	if err := s.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendText() while idle error = %v", err)
	}
	if err := s.SendText(context.Background(), "   "); err != nil {
		t.Fatalf("SendText() empty text error = %v", err)
	}
	if messages.Load() != 0 {
		t.Fatal("guarded SendText emitted a message")
	}
}

func TestToggleMute(t *testing.T) {
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})

	// Not connected: no-op, returns false.
	if enabled, err := s.ToggleMute(context.Background()); err != nil || enabled {
		t.Fatalf("ToggleMute() while idle = %v, %v", enabled, err)
	}

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	enabled, err := s.ToggleMute(context.Background())
	if err != nil || !enabled {
		t.Fatalf("first toggle = %v, %v, want true", enabled, err)
	}
	enabled, err = s.ToggleMute(context.Background())
	if err != nil || enabled {
		t.Fatalf("second toggle = %v, %v, want false", enabled, err)
	}
}

func TestConnect_MicrophoneFallback(t *testing.T) {
	fr := newFakeRoom()
	fr.fullConfigErr = true
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	}, WithAudio(fakeSource{}, nil))

	var errCount atomic.Int32
	s.OnError(func(string) { errCount.Add(1) })

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")
	waitFor(t, func() bool { return fr.MicrophoneEnabled() }, "minimal capture fallback never enabled the mic")
	if errCount.Load() != 0 {
		t.Fatal("fallback success still reported an error")
	}
}

func TestSendText_PublishFailureEndsSession(t *testing.T) {
	fr := newFakeRoom()
	fr.textErr = context.DeadlineExceeded
	fr.dataErr = context.DeadlineExceeded
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})
	var errMsg atomic.Value
	s.OnError(func(m string) { errMsg.Store(m) })

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	if err := s.SendText(context.Background(), "hello"); err == nil {
		t.Fatal("expected error when both publish paths fail")
	}
	if errMsg.Load() == nil {
		t.Fatal("OnError not fired")
	}
	// Both publish paths failing means the link is dead; the session ends.
	if s.Status().IsConnected {
		t.Fatal("still connected after transport failure")
	}
	waitFor(t, func() bool { return fr.isClosed() }, "room left open after transport failure")
}

func TestConnect_MicrophoneUnavailableStaysConnected(t *testing.T) {
	fr := newFakeRoom()
	fr.micErr = context.DeadlineExceeded
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	}, WithAudio(fakeSource{}, nil))

	var errMsg atomic.Value
	s.OnError(func(m string) { errMsg.Store(m) })

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")
	waitFor(t, func() bool { return errMsg.Load() != nil }, "OnError not fired")

	// Microphone loss is degraded, not fatal: the call stays up.
	if !s.Status().IsConnected {
		t.Fatal("session ended over a microphone failure")
	}
}

func TestDisconnect_FlushesPlayback(t *testing.T) {
	fr := newFakeRoom()
	sink := &fakeSink{}
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	}, WithAudio(nil, sink))

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !sink.wasFlushed() {
		t.Fatal("buffered playback not flushed on disconnect")
	}
}

func TestDisconnect_WhileIdle(t *testing.T) {
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return newFakeRoom(), nil
	})
	var disconnects atomic.Int32
	s.OnDisconnected(func(string) { disconnects.Add(1) })

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	status := s.Status()
	if status.IsConnected || status.IsConnecting {
		t.Fatalf("status=%+v", status)
	}
	if disconnects.Load() != 0 {
		t.Fatal("idle disconnect fired OnDisconnected")
	}
}

func TestRoomDisconnect_SurfacesReason(t *testing.T) {
	fr := newFakeRoom()
	s := newTestSession(t, func(ctx context.Context, cfg room.Config) (room.Room, error) {
		return fr, nil
	})

	var reason atomic.Value
	s.OnDisconnected(func(r string) { reason.Store(r) })

	if err := s.Connect(context.Background(), "agent-123", ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool { return s.Status().IsConnected }, "session never connected")

	fr.events <- room.DisconnectedEvent{Reason: "agent hung up"}
	waitFor(t, func() bool { return reason.Load() != nil }, "OnDisconnected not fired")
	if got := reason.Load().(string); got != "agent hung up" {
		t.Fatalf("reason=%q", got)
	}
	if s.Status().IsConnected {
		t.Fatal("still connected after room disconnect")
	}
}
