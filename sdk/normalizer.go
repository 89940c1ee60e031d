package shivai

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room"
	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/room/protocol"
)

// The agent runtime may deliver the same logical utterance through more
// than one inbound channel depending on configuration (a data packet and a
// named stream, for instance). The normalizer extracts text wherever it
// plausibly appears while refusing to duplicate what has already been
// shown. It favors over-inclusion — never silently dropping a real
// utterance — except where a duplicate is provably an echo of the user's
// own just-sent input.

// textFieldPriority is scanned in order; the first non-empty string field
// wins.
var textFieldPriority = []string{
	"text", "transcript", "message", "content", "data", "response",
	"speech", "voice", "audio", "words", "result", "output",
}

// technicalTokens are transport chatter, not conversation.
var technicalTokens = map[string]struct{}{
	"subscribed": {},
	"connected":  {},
	"true":       {},
	"false":      {},
	"null":       {},
}

const (
	plainTextMinLen = 2
	plainTextMaxLen = 1000
)

func isTechnicalToken(s string) bool {
	_, ok := technicalTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// extractText returns the highest-priority non-empty string field.
func extractText(payload map[string]any) (string, bool) {
	for _, field := range textFieldPriority {
		if raw, ok := payload[field]; ok {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

// roleIsLocal infers the speaker role. An explicit role/speaker field
// naming the user wins; otherwise the sender identity is compared to the
// local participant.
func roleIsLocal(payload map[string]any, senderIdentity, localIdentity string) bool {
	for _, field := range []string{"role", "speaker"} {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		if strings.Contains(lower, "user") || strings.Contains(lower, "human") || strings.Contains(lower, "you") {
			return true
		}
		return false
	}
	return senderIdentity != "" && senderIdentity == localIdentity
}

func stringField(payload map[string]any, field string) string {
	if raw, ok := payload[field]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// handleData normalizes one inbound binary data packet.
func (s *Session) handleData(ev room.DataReceivedEvent, localIdentity string) {
	defer s.recoverNormalizer("data")

	if !utf8.Valid(ev.Payload) {
		s.logger.Debug("dropping non-utf8 data packet", "bytes", len(ev.Payload))
		return
	}
	text := strings.TrimSpace(string(ev.Payload))
	if text == "" || isTechnicalToken(text) {
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil && payload != nil {
		s.handleJSONPacket(payload, ev.Sender.Identity, localIdentity)
		return
	}

	// Plain text: accept only plausible utterance lengths to filter
	// noise and fragments.
	n := utf8.RuneCountInString(text)
	if n < plainTextMinLen || n > plainTextMaxLen {
		return
	}
	fromLocal := ev.Sender.Identity != "" && ev.Sender.Identity == localIdentity
	s.emitMessage(text, fromLocal, ChannelVoice)
}

func (s *Session) handleJSONPacket(payload map[string]any, senderIdentity, localIdentity string) {
	typ := strings.ToLower(strings.TrimSpace(stringField(payload, "type")))

	// Legacy envelope: routed directly, no field scanning.
	if typ == "transcript" {
		if text := strings.TrimSpace(stringField(payload, "text")); text != "" {
			s.emitMessage(text, roleIsLocal(payload, senderIdentity, localIdentity), ChannelVoice)
			return
		}
	}

	fromLocal := roleIsLocal(payload, senderIdentity, localIdentity)

	// The user's own typed chat was already echoed synchronously at send
	// time; do not show it twice.
	if typ == "chat" && strings.EqualFold(stringField(payload, "source"), "typed") && fromLocal {
		return
	}

	text, ok := extractText(payload)
	if !ok {
		return
	}
	s.emitMessage(text, fromLocal, ChannelVoice)
}

// handleTextStream normalizes one completed named text stream.
func (s *Session) handleTextStream(ev room.TextStreamEvent, localIdentity string) {
	defer s.recoverNormalizer("text_stream")

	fromLocal := ev.Sender.Identity != "" && ev.Sender.Identity == localIdentity

	switch ev.Topic {
	case protocol.TopicTranscription:
		// Final flag and segment id are informational; partial and final
		// segments are emitted identically.
		if ev.Attributes != nil {
			s.logger.Debug("transcription segment",
				"final", ev.Attributes[protocol.AttrFinal],
				"segment_id", ev.Attributes[protocol.AttrSegmentID])
		}
		// The server echoes typed input back as a voice transcript;
		// showing it again would double-post the user's own message.
		if fromLocal && s.matchesLastSent(ev.Text) {
			return
		}
		s.emitMessage(ev.Text, fromLocal, ChannelVoice)
	case protocol.TopicChat:
		// The chat stream is used exclusively for inbound agent
		// responses; local chat is only ever added via local echo.
		if fromLocal {
			return
		}
		s.emitMessage(ev.Text, false, ChannelChat)
	default:
		s.logger.Debug("ignoring text stream with unknown topic", "topic", ev.Topic)
	}
}

// handleParticipantMetadata extracts displayable text from a participant
// metadata change.
func (s *Session) handleParticipantMetadata(ev room.ParticipantMetadataEvent, localIdentity string) {
	defer s.recoverNormalizer("participant_metadata")

	payload, ok := decodeMetadata(ev.Metadata)
	if !ok {
		s.logger.Debug("ignoring non-json participant metadata")
		return
	}
	text := metadataText(payload)
	if text == "" {
		return
	}
	fromLocal := ev.Sender.Identity != "" && ev.Sender.Identity == localIdentity
	s.emitMessage(text, fromLocal, ChannelVoice)
}

// handleRoomMetadata extracts displayable text from a room metadata
// change. Room metadata has no per-participant identity, so it is always
// attributed to the remote side.
func (s *Session) handleRoomMetadata(ev room.RoomMetadataEvent) {
	defer s.recoverNormalizer("room_metadata")

	payload, ok := decodeMetadata(ev.Metadata)
	if !ok {
		s.logger.Debug("ignoring non-json room metadata")
		return
	}
	text := metadataText(payload)
	if text == "" {
		return
	}
	s.emitMessage(text, false, ChannelVoice)
}

func decodeMetadata(metadata string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(metadata)
	if trimmed == "" {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

func metadataText(payload map[string]any) string {
	if text := strings.TrimSpace(stringField(payload, "transcript")); text != "" {
		return text
	}
	return strings.TrimSpace(stringField(payload, "text"))
}

// emitMessage is the single exit point of the normalizer: trim, dedup,
// build the canonical record, surface it.
func (s *Session) emitMessage(text string, fromLocal bool, channel Channel) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	s.mu.Lock()
	window := s.dedup
	s.mu.Unlock()
	if window != nil && !window.accept(fromLocal, trimmed) {
		s.metrics.dedupSuppressed()
		s.logger.Debug("suppressing duplicate message", "from_local", fromLocal)
		return
	}

	msg := newMessage(trimmed, fromLocal, channel, time.Now())
	s.metrics.messageNormalized(channel)
	s.callbacks.message(msg)
}

// recoverNormalizer keeps a parse/extraction panic inside one signal from
// crashing the session.
func (s *Session) recoverNormalizer(kind string) {
	if rec := recover(); rec != nil {
		s.logger.Error("normalizer panic recovered", "signal", kind, "panic", rec)
	}
}
