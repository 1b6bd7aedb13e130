package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustion(t *testing.T) {
	bucket := NewTokenBucket(2, 1, time.Minute)

	if ok, _ := bucket.Allow(); !ok {
		t.Fatalf("first token should be available")
	}
	if ok, _ := bucket.Allow(); !ok {
		t.Fatalf("second token should be available")
	}

	ok, wait := bucket.Allow()
	if ok {
		t.Fatalf("bucket should be exhausted")
	}
	if wait <= 0 {
		t.Fatalf("exhausted bucket must report a positive wait, got %v", wait)
	}
}

func TestPerUserPerActionIsolation(t *testing.T) {
	limiter := NewRateLimiter()

	// Drain alice's send_message bucket.
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow("alice", "send_message"); !ok {
			t.Fatalf("token %d should be available", i)
		}
	}
	if ok, _ := limiter.Allow("alice", "send_message"); ok {
		t.Fatalf("alice's send_message bucket should be drained")
	}

	// Other users and other actions are unaffected.
	if ok, _ := limiter.Allow("bob", "send_message"); !ok {
		t.Fatalf("bob's bucket must be independent")
	}
	if ok, _ := limiter.Allow("alice", "typing"); !ok {
		t.Fatalf("alice's typing bucket must be independent")
	}
}
