package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	lim := NewLimiter(10, func() time.Time { return now })

	for i := 0; i < 10; i++ {
		if !lim.Allow("U100") {
			t.Fatalf("Allow(call %d) = false, want true", i+1)
		}
	}
	if lim.Allow("U100") {
		t.Fatalf("Allow(11th call) = true, want false")
	}
	if !lim.Allow("U200") {
		t.Fatalf("Allow(other user) = false, want true")
	}
}

func TestAllowRecoversOverTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	lim := NewLimiter(10, func() time.Time { return now })

	for i := 0; i < 10; i++ {
		if !lim.Allow("U100") {
			t.Fatalf("Allow(call %d) = false, want true", i+1)
		}
	}
	if lim.Allow("U100") {
		t.Fatalf("Allow(exhausted) = true, want false")
	}

	now = now.Add(time.Minute)
	if !lim.Allow("U100") {
		t.Fatalf("Allow(after a minute) = false, want true")
	}
}

func TestCooldownMessageNamesLimit(t *testing.T) {
	t.Parallel()

	lim := NewLimiter(5, nil)
	msg := lim.CooldownMessage()
	if msg == "" {
		t.Fatalf("CooldownMessage() is empty")
	}
	want := "You've reached the rate limit (5 queries/minute). Please wait a moment before trying again."
	if msg != want {
		t.Fatalf("CooldownMessage() = %q, want %q", msg, want)
	}
}
