package backoff_test

import (
	"testing"
	"time"

	"github.com/chainworks/steward/backoff"
)

func TestConstant(t *testing.T) {
	s := backoff.NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := s.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %s, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	s := backoff.NewExponential(1*time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	s := backoff.NewExponentialWithJitter(1*time.Second, 8*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := 1 * time.Second << (attempt - 1)
		if ceiling > 8*time.Second {
			ceiling = 8 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := s.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("Delay(%d) = %s outside [0, %s]", attempt, d, ceiling)
			}
		}
	}
}

func TestPolicyExhausted(t *testing.T) {
	p := backoff.NewPolicy(time.Second, time.Minute, 3)

	if p.Exhausted(1) {
		t.Error("attempt 1 should not exhaust a 3-attempt budget")
	}
	if p.Exhausted(2) {
		t.Error("attempt 2 should not exhaust a 3-attempt budget")
	}
	if !p.Exhausted(3) {
		t.Error("attempt 3 should exhaust a 3-attempt budget")
	}
	if !p.Exhausted(4) {
		t.Error("attempt 4 should exhaust a 3-attempt budget")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := backoff.DefaultPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.Strategy == nil {
		t.Fatal("strategy not set")
	}
	if d := p.Strategy.Delay(1); d < 0 || d > time.Second {
		t.Errorf("first delay %s outside [0, 1s]", d)
	}
}
