package room

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room/protocol"
)

const (
	defaultDialTimeout = 15 * time.Second
	eventBufferSize    = 256

	// One outbound microphone frame every 20ms at 16kHz mono s16le.
	micFrameBytes = 640
)

// WebSocket is the default Factory: it dials the room server, performs the
// join handshake, and returns a Room whose events buffer from the first
// frame so handlers attached immediately after construction miss nothing.
func WebSocket(ctx context.Context, cfg Config) (Room, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("room url must not be empty")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("room token must not be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+cfg.Token)

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("room dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("room dial failed: %w", err)
	}

	join := protocol.ClientJoin{
		Type:            "join",
		ProtocolVersion: protocol.ProtocolVersion1,
		Token:           cfg.Token,
		Audio:           cfg.Capture.wire(),
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultDialTimeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first room frame type %d", messageType)
	}

	first, err := protocol.DecodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch f := first.(type) {
	case protocol.ServerJoined:
		r := &wsRoom{
			conn:   conn,
			cfg:    cfg,
			logger: logger,
			local:  Participant{Identity: f.Local.Identity, Name: f.Local.Name},
			events: make(chan Event, eventBufferSize),
			done:   make(chan struct{}),
		}
		r.emit(ConnectedEvent{Room: f.Room, Local: r.local})
		go r.readLoop()
		return r, nil
	case protocol.ServerError:
		_ = conn.Close()
		return nil, fmt.Errorf("room rejected join: %s", strings.TrimSpace(f.Message))
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first room frame %T", first)
	}
}

type wsRoom struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger
	local  Participant

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	micMu   sync.Mutex
	micOn   bool
	micStop chan struct{}

	audioSeq atomic.Int64
}

var _ Room = (*wsRoom)(nil)

func (r *wsRoom) Events() <-chan Event { return r.events }

func (r *wsRoom) LocalIdentity() string { return r.local.Identity }

func (r *wsRoom) EnableMicrophone(ctx context.Context, opts CaptureOptions) error {
	if r.cfg.Source == nil {
		return fmt.Errorf("no capture source configured")
	}
	r.micMu.Lock()
	defer r.micMu.Unlock()
	if r.micOn {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.cfg.Source.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	settings := opts.wire()
	if err := r.sendJSON(protocol.ClientMicrophone{Type: "microphone", Enabled: true, Settings: &settings}); err != nil {
		_ = r.cfg.Source.Stop()
		return err
	}
	stop := make(chan struct{})
	r.micStop = stop
	r.micOn = true
	go r.pumpMicrophone(stop)
	return nil
}

func (r *wsRoom) DisableMicrophone(ctx context.Context) error {
	r.micMu.Lock()
	defer r.micMu.Unlock()
	if !r.micOn {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	close(r.micStop)
	r.micStop = nil
	r.micOn = false
	if r.cfg.Source != nil {
		_ = r.cfg.Source.Stop()
	}
	return r.sendJSON(protocol.ClientMicrophone{Type: "microphone", Enabled: false})
}

func (r *wsRoom) MicrophoneEnabled() bool {
	r.micMu.Lock()
	defer r.micMu.Unlock()
	return r.micOn && !r.closed.Load()
}

func (r *wsRoom) pumpMicrophone(stop chan struct{}) {
	buf := make([]byte, micFrameBytes)
	for {
		select {
		case <-stop:
			return
		case <-r.done:
			return
		default:
		}

		n, err := r.cfg.Source.Read(buf)
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("microphone read failed", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		frame := protocol.ClientAudioFrame{
			Type:    "audio_frame",
			Seq:     r.audioSeq.Add(1),
			DataB64: base64.StdEncoding.EncodeToString(buf[:n]),
		}
		if err := r.sendJSON(frame); err != nil {
			return
		}
	}
}

func (r *wsRoom) PublishData(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.sendJSON(protocol.ClientData{
		Type:       "data",
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	})
}

func (r *wsRoom) PublishText(ctx context.Context, topic, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("text topic must not be empty")
	}
	return r.sendJSON(protocol.ClientText{Type: "text", Topic: topic, Text: text})
}

func (r *wsRoom) sendJSON(v any) error {
	if r.closed.Load() {
		return fmt.Errorf("room is closed")
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(v)
}

// Close closes the websocket session and waits for the read loop to exit.
func (r *wsRoom) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.micMu.Lock()
		if r.micOn {
			close(r.micStop)
			r.micStop = nil
			r.micOn = false
			if r.cfg.Source != nil {
				_ = r.cfg.Source.Stop()
			}
		}
		r.micMu.Unlock()

		r.writeMu.Lock()
		_ = r.conn.WriteJSON(protocol.ClientControl{Type: "control", Op: "leave"})
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		r.writeMu.Unlock()
		_ = r.conn.Close()
	})
	<-r.done
	return nil
}

// streamState accumulates one named text stream until stream_close.
type streamState struct {
	topic  string
	sender Participant
	attrs  map[string]string
	text   strings.Builder
}

func (r *wsRoom) readLoop() {
	defer close(r.done)
	defer close(r.events)

	streams := make(map[string]*streamState)
	var pendingAudio *protocol.ServerAudioChunkHeader
	disconnectReason := ""

	defer func() {
		r.emit(DisconnectedEvent{Reason: disconnectReason})
	}()

	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if !r.closed.Load() {
				disconnectReason = err.Error()
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			frame, decErr := protocol.DecodeServerFrame(data)
			if decErr != nil {
				r.logger.Warn("dropping malformed room frame", "error", decErr)
				continue
			}
			if leave, done := r.handleFrame(frame, streams, &pendingAudio); done {
				disconnectReason = leave
				return
			}
		case websocket.BinaryMessage:
			if pendingAudio == nil {
				continue
			}
			pendingAudio = nil
			if r.cfg.Sink != nil {
				if _, err := r.cfg.Sink.Write(data); err != nil {
					r.logger.Debug("audio sink write failed", "error", err)
				}
			}
		default:
			continue
		}
	}
}

// handleFrame maps one decoded server frame to a room event. It returns
// done=true when the server ended the session.
func (r *wsRoom) handleFrame(frame protocol.ServerFrame, streams map[string]*streamState, pendingAudio **protocol.ServerAudioChunkHeader) (reason string, done bool) {
	switch f := frame.(type) {
	case protocol.ServerState:
		r.emit(StateChangedEvent{State: toConnectionState(f.State)})
	case protocol.ServerData:
		payload, err := base64.StdEncoding.DecodeString(f.PayloadB64)
		if err != nil {
			r.logger.Warn("dropping undecodable data packet", "error", err)
			return "", false
		}
		r.emit(DataReceivedEvent{
			Payload: payload,
			Sender:  Participant{Identity: f.Sender.Identity, Name: f.Sender.Name},
			Topic:   f.Topic,
		})
	case protocol.ServerStreamOpen:
		streams[f.StreamID] = &streamState{
			topic:  f.Topic,
			sender: Participant{Identity: f.Sender.Identity, Name: f.Sender.Name},
			attrs:  f.Attributes,
		}
	case protocol.ServerStreamChunk:
		if st, ok := streams[f.StreamID]; ok {
			st.text.WriteString(f.Text)
		}
	case protocol.ServerStreamClose:
		st, ok := streams[f.StreamID]
		if !ok {
			return "", false
		}
		delete(streams, f.StreamID)
		r.emit(TextStreamEvent{
			Topic:      st.topic,
			Sender:     st.sender,
			Text:       st.text.String(),
			Attributes: st.attrs,
		})
	case protocol.ServerParticipantMetadata:
		r.emit(ParticipantMetadataEvent{
			Sender:   Participant{Identity: f.Sender.Identity, Name: f.Sender.Name},
			Metadata: f.Metadata,
		})
	case protocol.ServerRoomMetadata:
		r.emit(RoomMetadataEvent{Metadata: f.Metadata})
	case protocol.ServerTrack:
		if f.Kind == "audio" && r.cfg.Sink != nil {
			if err := r.cfg.Sink.Resume(); err != nil {
				// Playback devices can refuse to start until the host is
				// ready; the sink retries on a later write.
				r.logger.Debug("audio sink resume failed", "error", err)
			}
		}
		r.emit(TrackSubscribedEvent{
			Kind:   f.Kind,
			Sender: Participant{Identity: f.Sender.Identity, Name: f.Sender.Name},
			Format: f.Format,
		})
	case protocol.ServerAudioChunkHeader:
		header := f
		*pendingAudio = &header
	case protocol.ServerLeave:
		return f.Reason, true
	case protocol.ServerError:
		r.logger.Warn("room server error", "code", f.Code, "message", f.Message)
	case protocol.UnknownFrame:
		r.logger.Debug("ignoring unknown room frame", "type", f.Type)
	}
	return "", false
}

func toConnectionState(s string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connecting":
		return StateConnecting
	case "connected":
		return StateConnected
	case "reconnecting":
		return StateReconnecting
	default:
		return StateDisconnected
	}
}

// emit never blocks the read loop; a consumer that stops draining loses
// events rather than stalling the websocket.
func (r *wsRoom) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case r.events <- event:
	default:
	}
}
