package shivai

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// Fingerprints bucket arrival time so the same utterance delivered a
	// moment apart on two channels still collides.
	dedupBucket = 2 * time.Second
	dedupTTL    = 5 * time.Second
)

// dedupWindow is a short-lived memory of recently accepted message
// fingerprints (role + text + time bucket). It suppresses duplicate
// delivery of one semantic message arriving via more than one inbound
// channel. Entries expire on a timer; the whole structure is discarded at
// session end, so pending expirations never need cancelling.
type dedupWindow struct {
	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
	ttl time.Duration
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{
		seen: make(map[string]time.Time),
		now:  time.Now,
		ttl:  dedupTTL,
	}
}

func fingerprint(fromLocal bool, text string, at time.Time, bucket time.Duration) string {
	role := "remote"
	if fromLocal {
		role = "local"
	}
	return fmt.Sprintf("%s|%s|%d", role, strings.TrimSpace(text), at.UnixNano()/int64(bucket))
}

// accept records the message fingerprint and reports whether it was new.
// A message whose fingerprint is already present is a duplicate and must
// not be emitted again.
func (w *dedupWindow) accept(fromLocal bool, text string) bool {
	now := w.now()
	key := fingerprint(fromLocal, text, now, dedupBucket)
	// The adjacent bucket catches deliveries straddling a boundary.
	prev := fingerprint(fromLocal, text, now.Add(-dedupBucket), dedupBucket)

	w.mu.Lock()
	defer w.mu.Unlock()
	if expiry, ok := w.seen[key]; ok && now.Before(expiry) {
		return false
	}
	if expiry, ok := w.seen[prev]; ok && now.Before(expiry) {
		return false
	}
	w.register(key, now)
	return true
}

// record registers the fingerprint without gating anything: the caller
// emits unconditionally and only wants later cross-channel copies of the
// same text suppressed. A repeated identical send is a new message, not a
// duplicate.
func (w *dedupWindow) record(fromLocal bool, text string) {
	now := w.now()
	key := fingerprint(fromLocal, text, now, dedupBucket)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.register(key, now)
}

func (w *dedupWindow) register(key string, now time.Time) {
	w.seen[key] = now.Add(w.ttl)

	time.AfterFunc(w.ttl, func() {
		w.mu.Lock()
		delete(w.seen, key)
		w.mu.Unlock()
	})
}
