package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     uint
	}{
		{name: "steady", perSecond: 5, burst: 10},
		{name: "fractional", perSecond: 0.5, burst: 1},
		{name: "zero burst", perSecond: 1, burst: 0},
		{name: "unlimited", perSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if !limiter.Allow() {
				t.Fatal("first allocation should be allowed")
			}
		})
	}
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	limiter := New(10, 3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("allocation %d should be allowed within burst", i)
		}
	}
	if limiter.Allow() {
		t.Fatal("allocation should be refused after burst exhausted")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("allocation should be allowed after replenishment")
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	if !limiter.Allow() {
		t.Fatal("first allocation should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail when the deadline is shorter than the refill")
	}
}

func TestWait_Blocks(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first wait should succeed: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second wait should succeed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second wait returned after %v, expected ~100ms", elapsed)
	}
}

func TestTokens(t *testing.T) {
	limiter := New(10, 10)

	if initial := limiter.Tokens(); initial < 9 || initial > 10 {
		t.Fatalf("initial tokens %f outside expected range 9-10", initial)
	}
	for i := 0; i < 5; i++ {
		limiter.Allow()
	}
	if remaining := limiter.Tokens(); remaining < 4 || remaining > 6 {
		t.Fatalf("remaining tokens %f outside expected range 4-6", remaining)
	}
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter refused allocation %d", i)
		}
	}
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(0, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
