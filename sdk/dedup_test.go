package shivai

import (
	"testing"
	"time"
)

func TestDedupWindow_SuppressesDuplicate(t *testing.T) {
	w := newDedupWindow()
	if !w.accept(false, "hello") {
		t.Fatal("first delivery rejected")
	}
	if w.accept(false, "hello") {
		t.Fatal("duplicate delivery accepted")
	}
	// Same text from the other role is a different message.
	if !w.accept(true, "hello") {
		t.Fatal("other-role delivery rejected")
	}
	// Different text passes.
	if !w.accept(false, "world") {
		t.Fatal("new text rejected")
	}
}

func TestDedupWindow_WhitespaceInsensitive(t *testing.T) {
	w := newDedupWindow()
	if !w.accept(false, "hello") {
		t.Fatal("first delivery rejected")
	}
	if w.accept(false, "  hello  ") {
		t.Fatal("padded duplicate accepted")
	}
}

func TestDedupWindow_ExpiryReopensFingerprint(t *testing.T) {
	w := newDedupWindow()
	base := time.Now()
	now := base
	w.now = func() time.Time { return now }

	if !w.accept(false, "hello") {
		t.Fatal("first delivery rejected")
	}
	// Entries expire after the TTL even if the timer has not fired yet;
	// the expiry timestamp gates acceptance.
	now = base.Add(w.ttl + time.Second)
	if !w.accept(false, "hello") {
		t.Fatal("delivery after expiry rejected")
	}
}

func TestDedupWindow_RecordRegistersWithoutGating(t *testing.T) {
	w := newDedupWindow()

	// record never refuses; repeated local sends all pass through.
	w.record(true, "yes")
	w.record(true, "yes")

	// The fingerprint is live, so a cross-channel copy is suppressed.
	if w.accept(true, "yes") {
		t.Fatal("recorded fingerprint did not suppress re-delivery")
	}
}

func TestDedupWindow_AdjacentBucketStillCollides(t *testing.T) {
	w := newDedupWindow()
	base := time.Now().Truncate(dedupBucket)
	// Land just before and just after a bucket boundary.
	now := base.Add(dedupBucket - 10*time.Millisecond)
	w.now = func() time.Time { return now }

	if !w.accept(false, "hello") {
		t.Fatal("first delivery rejected")
	}
	now = base.Add(dedupBucket + 10*time.Millisecond)
	if w.accept(false, "hello") {
		t.Fatal("boundary-straddling duplicate accepted")
	}
}
