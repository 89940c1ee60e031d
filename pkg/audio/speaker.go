package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// DefaultPlaybackVolume keeps speaker output quiet enough that it does not
// feed back into an open microphone. Tunable, not a contract.
const DefaultPlaybackVolume = 0.45

// Speaker plays PCM through the default output device.
type Speaker struct {
	otoCtx *oto.Context
	ready  chan struct{}

	mu      sync.Mutex
	player  *oto.Player
	buf     []byte
	volume  float64
	playing bool
	closed  bool
}

var _ Sink = (*Speaker)(nil)

// NewSpeaker initializes the playback device. The device may not be ready
// immediately; playback is deferred until it is.
func NewSpeaker(format Format, volume float64) (*Speaker, error) {
	if volume <= 0 || volume > 1 {
		volume = DefaultPlaybackVolume
	}
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRateHz,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms at 24kHz mono 16-bit. Smaller buffers cut latency but
		// risk glitches.
		BufferSize: format.SampleRateHz * format.Channels * 2 / 10,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}

	s := &Speaker{
		otoCtx: otoCtx,
		ready:  ready,
		buf:    make([]byte, 0, format.SampleRateHz*4),
		volume: volume,
	}
	return s, nil
}

// Write buffers PCM and starts playback once the device is ready.
func (s *Speaker) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("speaker is closed")
	}

	s.buf = append(s.buf, data...)

	// Defer the player start until the device reports ready. Writes that
	// land before that keep buffering; playback begins on the first write
	// after readiness.
	if !s.playing {
		select {
		case <-s.ready:
			s.playing = true
			s.player = s.otoCtx.NewPlayer(s)
			s.player.SetVolume(s.volume)
			s.player.Play()
		default:
		}
	}

	return len(data), nil
}

// SetVolume scales playback in [0,1].
func (s *Speaker) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.player != nil {
		s.player.SetVolume(v)
	}
}

// Resume wakes a suspended playback context. Failures are reported but
// callers treat them as best-effort.
func (s *Speaker) Resume() error {
	if err := s.otoCtx.Resume(); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	return nil
}

// Read implements io.Reader for the oto player. It feeds silence when the
// buffer drains so the device keeps running between utterances.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if n < len(p) {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		n = len(p)
	}
	return n, nil
}

// Flush discards buffered audio immediately.
func (s *Speaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

// Close stops playback and releases the device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	return s.otoCtx.Suspend()
}
