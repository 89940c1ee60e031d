package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
)

// captureBuffer hands PCM from the device callback to Read. Stop and
// close wake parked readers so no goroutine stays blocked in Wait; a
// stopped buffer reads as io.EOF immediately.
type captureBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	started bool
	closed  bool
}

func newCaptureBuffer(capacity int) *captureBuffer {
	b := &captureBuffer{buf: make([]byte, 0, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// start marks the buffer live. Reports whether it transitioned from
// stopped, so the caller can keep the device start idempotent.
func (b *captureBuffer) start() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, fmt.Errorf("capture buffer is closed")
	}
	if b.started {
		return false, nil
	}
	b.started = true
	return true, nil
}

// stop discards buffered audio and wakes readers; a pump blocked in read
// exits with io.EOF rather than waiting for the next capture callback.
// Reports whether the buffer was live.
func (b *captureBuffer) stop() bool {
	b.mu.Lock()
	wasStarted := b.started
	b.started = false
	b.buf = b.buf[:0]
	b.mu.Unlock()
	b.cond.Broadcast()
	return wasStarted
}

// push appends captured PCM. Frames arriving while stopped or closed are
// dropped so a re-enable never replays stale audio.
func (b *captureBuffer) push(p []byte) {
	b.mu.Lock()
	if b.closed || !b.started {
		b.mu.Unlock()
		return
	}
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	b.cond.Signal()
}

// read blocks until captured PCM is available or the buffer is stopped
// or closed. Remaining data is drained before close reports io.EOF.
func (b *captureBuffer) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) == 0 && b.started && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// close reports whether this call closed the buffer.
func (b *captureBuffer) close() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return true
}

// Microphone captures PCM from the default input device.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buf    *captureBuffer
}

var _ Source = (*Microphone)(nil)

// NewMicrophone initializes the capture device without starting it.
func NewMicrophone(format Format) (*Microphone, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	m := &Microphone{
		ctx: ctx,
		buf: newCaptureBuffer(format.SampleRateHz * 2),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.buf.push(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	m.device = device
	return m, nil
}

// Start begins capture. Idempotent.
func (m *Microphone) Start() error {
	fresh, err := m.buf.start()
	if err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	if !fresh {
		return nil
	}
	if err := m.device.Start(); err != nil {
		m.buf.stop()
		return fmt.Errorf("start microphone: %w", err)
	}
	return nil
}

// Stop pauses capture without releasing the device.
func (m *Microphone) Stop() error {
	if !m.buf.stop() {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("stop microphone: %w", err)
	}
	return nil
}

// Read blocks until captured PCM is available or the microphone is
// stopped or closed.
func (m *Microphone) Read(p []byte) (int, error) {
	return m.buf.read(p)
}

// Close releases the capture device.
func (m *Microphone) Close() error {
	if !m.buf.close() {
		return nil
	}
	if m.device != nil {
		m.device.Uninit()
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
	}
	return nil
}
