package shivai

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channel distinguishes how a message entered the conversation, not how
// it travelled on the wire: voice for spoken/transcribed audio, chat for
// typed text.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
)

// Message is the normalized unit of conversation text produced regardless
// of which inbound signal carried it. Messages are never mutated after
// creation.
type Message struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	FromLocalUser bool      `json:"from_local_user"`
	Timestamp     time.Time `json:"timestamp"`
	Channel       Channel   `json:"channel"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newMessageID returns a ULID: millisecond timestamp plus randomness, so
// ids sort roughly by arrival without coordination.
func newMessageID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func newMessage(text string, fromLocal bool, channel Channel, now time.Time) Message {
	return Message{
		ID:            newMessageID(now),
		Text:          text,
		FromLocalUser: fromLocal,
		Timestamp:     now,
		Channel:       channel,
	}
}
