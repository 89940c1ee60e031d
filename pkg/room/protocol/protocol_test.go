package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeServerFrame_Joined(t *testing.T) {
	raw := []byte(`{
		"type":"joined",
		"room":"call-42",
		"local":{"identity":"caller-1","name":"Caller"}
	}`)

	frame, err := DecodeServerFrame(raw)
	if err != nil {
		t.Fatalf("DecodeServerFrame() error = %v", err)
	}
	joined, ok := frame.(ServerJoined)
	if !ok {
		t.Fatalf("decoded type = %T, want ServerJoined", frame)
	}
	if joined.Room != "call-42" {
		t.Fatalf("room=%q", joined.Room)
	}
	if joined.Local.Identity != "caller-1" {
		t.Fatalf("local identity=%q", joined.Local.Identity)
	}
}

func TestDecodeServerFrame_StreamTriplet(t *testing.T) {
	open := []byte(`{
		"type":"stream_open",
		"stream_id":"st-1",
		"topic":"transcription",
		"sender":{"identity":"agent-7"},
		"attributes":{"final":"true","segment_id":"seg-3"}
	}`)

	frame, err := DecodeServerFrame(open)
	if err != nil {
		t.Fatalf("DecodeServerFrame(open) error = %v", err)
	}
	fOpen := frame.(ServerStreamOpen)
	if fOpen.Topic != TopicTranscription {
		t.Fatalf("topic=%q", fOpen.Topic)
	}
	if fOpen.Attributes[AttrFinal] != "true" || fOpen.Attributes[AttrSegmentID] != "seg-3" {
		t.Fatalf("attributes=%v", fOpen.Attributes)
	}

	chunk, err := DecodeServerFrame([]byte(`{"type":"stream_chunk","stream_id":"st-1","text":"hello"}`))
	if err != nil {
		t.Fatalf("DecodeServerFrame(chunk) error = %v", err)
	}
	if chunk.(ServerStreamChunk).Text != "hello" {
		t.Fatalf("chunk=%+v", chunk)
	}

	closeFrame, err := DecodeServerFrame([]byte(`{"type":"stream_close","stream_id":"st-1"}`))
	if err != nil {
		t.Fatalf("DecodeServerFrame(close) error = %v", err)
	}
	if closeFrame.(ServerStreamClose).StreamID != "st-1" {
		t.Fatalf("close=%+v", closeFrame)
	}
}

func TestDecodeServerFrame_MissingType(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`{"room":"x"}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestDecodeServerFrame_StreamOpenMissingID(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`{"type":"stream_open","topic":"chat"}`)); err == nil {
		t.Fatal("expected error for stream_open without stream_id")
	}
}

func TestDecodeServerFrame_UnknownPreserved(t *testing.T) {
	raw := []byte(`{"type":"future_thing","payload":{"a":1}}`)
	frame, err := DecodeServerFrame(raw)
	if err != nil {
		t.Fatalf("DecodeServerFrame() error = %v", err)
	}
	unknown, ok := frame.(UnknownFrame)
	if !ok {
		t.Fatalf("decoded type = %T, want UnknownFrame", frame)
	}
	if unknown.Type != "future_thing" {
		t.Fatalf("type=%q", unknown.Type)
	}
	var echo map[string]any
	if err := json.Unmarshal(unknown.Raw, &echo); err != nil {
		t.Fatalf("raw not preserved: %v", err)
	}
}

func TestDecodeServerFrame_Invalid(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
