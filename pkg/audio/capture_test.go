package audio

import (
	"io"
	"testing"
	"time"
)

func TestCaptureBuffer_ReadReturnsPushedData(t *testing.T) {
	b := newCaptureBuffer(64)
	if _, err := b.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	b.push([]byte{1, 2, 3, 4})

	p := make([]byte, 8)
	n, err := b.read(p)
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if n != 4 || p[0] != 1 || p[3] != 4 {
		t.Fatalf("read %d bytes: %v", n, p[:n])
	}
}

func TestCaptureBuffer_StopWakesParkedReader(t *testing.T) {
	b := newCaptureBuffer(64)
	if _, err := b.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := b.read(make([]byte, 8))
		result <- err
	}()

	// Let the reader park in the empty buffer before stopping.
	time.Sleep(20 * time.Millisecond)
	b.stop()

	select {
	case err := <-result:
		if err != io.EOF {
			t.Fatalf("read after stop = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader still parked after stop")
	}
}

func TestCaptureBuffer_StoppedReadsEOFImmediately(t *testing.T) {
	b := newCaptureBuffer(64)
	if _, err := b.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	b.push([]byte{1, 2, 3, 4})
	b.stop()

	// Stop discards buffered audio; a stale pump must not send it.
	if n, err := b.read(make([]byte, 8)); err != io.EOF || n != 0 {
		t.Fatalf("read() = %d, %v, want 0, io.EOF", n, err)
	}
}

func TestCaptureBuffer_RestartAcceptsNewAudio(t *testing.T) {
	b := newCaptureBuffer(64)
	if _, err := b.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	b.push([]byte{1})
	b.stop()

	fresh, err := b.start()
	if err != nil || !fresh {
		t.Fatalf("restart = %v, %v, want fresh start", fresh, err)
	}
	// Frames pushed while stopped were dropped; only new audio arrives.
	b.push([]byte{9, 9})
	n, err := b.read(make([]byte, 8))
	if err != nil || n != 2 {
		t.Fatalf("read() = %d, %v, want 2 bytes", n, err)
	}
}

func TestCaptureBuffer_CloseDrainsThenEOF(t *testing.T) {
	b := newCaptureBuffer(64)
	if _, err := b.start(); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	b.push([]byte{5, 6})
	if !b.close() {
		t.Fatal("first close reported already closed")
	}
	if b.close() {
		t.Fatal("second close reported first close")
	}

	p := make([]byte, 8)
	n, err := b.read(p)
	if err != nil || n != 2 {
		t.Fatalf("drain read = %d, %v, want 2 bytes", n, err)
	}
	if _, err := b.read(p); err != io.EOF {
		t.Fatalf("read after drain = %v, want io.EOF", err)
	}

	b.push([]byte{7})
	if _, err := b.read(p); err != io.EOF {
		t.Fatalf("push after close leaked data: %v", err)
	}
	if _, err := b.start(); err == nil {
		t.Fatal("start after close must fail")
	}
}

func TestCaptureBuffer_DroppedWhileStopped(t *testing.T) {
	b := newCaptureBuffer(64)
	// Frames arriving before start are dropped.
	b.push([]byte{1, 2, 3})
	if _, err := b.read(make([]byte, 8)); err != io.EOF {
		t.Fatalf("read() = %v, want io.EOF", err)
	}
}
