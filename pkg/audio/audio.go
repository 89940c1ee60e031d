// Package audio provides the device boundary for a call: a microphone
// Source (malgo) and a speaker Sink (oto). Both sides are interfaces so
// headless hosts and tests can substitute in-memory implementations.
package audio

// Format describes raw PCM: signed 16-bit little-endian samples.
type Format struct {
	SampleRateHz int
	Channels     int
}

// DefaultCaptureFormat matches what the agent runtime expects inbound.
func DefaultCaptureFormat() Format {
	return Format{SampleRateHz: 16000, Channels: 1}
}

// DefaultPlaybackFormat matches what the agent runtime emits.
func DefaultPlaybackFormat() Format {
	return Format{SampleRateHz: 24000, Channels: 1}
}

// Source supplies microphone PCM. Read blocks until data is available or
// the source is closed.
type Source interface {
	Start() error
	Stop() error
	Read(p []byte) (int, error)
	Close() error
}

// Sink plays remote-track PCM.
type Sink interface {
	// Write buffers PCM for playback. Playback starts lazily once the
	// device is ready; until then writes buffer and a later write retries
	// the start.
	Write(p []byte) (int, error)
	// SetVolume scales playback in [0,1]. Values below 1 are used to keep
	// speaker output from feeding back into an open microphone.
	SetVolume(v float64)
	// Resume wakes a suspended playback device. Best-effort.
	Resume() error
	// Flush discards buffered audio immediately.
	Flush()
	Close() error
}
