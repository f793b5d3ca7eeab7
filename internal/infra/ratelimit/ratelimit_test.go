package ratelimit_test

import (
	"testing"
	"time"

	"github.com/vilaverde/lead-engine-go/internal/infra/ratelimit"
)

func TestAllow_WithinBudget(t *testing.T) {
	sw := ratelimit.New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !sw.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if sw.Allow("10.0.0.1") {
		t.Error("4th request in window should be rejected")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	sw := ratelimit.New(1, time.Minute)

	if !sw.Allow("10.0.0.1") {
		t.Fatal("first key should be allowed")
	}
	if !sw.Allow("10.0.0.2") {
		t.Error("different key must have its own budget")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	sw := ratelimit.New(1, 30*time.Millisecond)

	if !sw.Allow("k") {
		t.Fatal("first request should pass")
	}
	if sw.Allow("k") {
		t.Fatal("second immediate request should be rejected")
	}

	time.Sleep(50 * time.Millisecond)
	if !sw.Allow("k") {
		t.Error("request after window should be allowed again")
	}
}

func TestStop_IsIdempotentAndKeepsServing(t *testing.T) {
	sw := ratelimit.New(1, time.Minute)

	sw.Stop()
	sw.Stop() // chamar de novo não pode panicar

	// Sem a goroutine de limpeza o limiter continua funcional: a poda
	// inline no Allow cobre a janela.
	if !sw.Allow("k") {
		t.Error("first request after Stop should pass")
	}
	if sw.Allow("k") {
		t.Error("budget must still be enforced after Stop")
	}
}

func TestRetryAfter(t *testing.T) {
	sw := ratelimit.New(1, time.Minute)

	if got := sw.RetryAfter("k"); got != 0 {
		t.Errorf("expected 0 before exhaustion, got %d", got)
	}
	sw.Allow("k")
	if got := sw.RetryAfter("k"); got < 1 || got > 61 {
		t.Errorf("expected retry-after within the window, got %d", got)
	}
}
