package ratelimit

import "testing"

func TestAllowRequestEnforcesMinuteLimit(t *testing.T) {
	rl := NewRateLimiter(3, 100, true)

	for i := 0; i < 3; i++ {
		if !rl.AllowRequest("10.0.0.1") {
			t.Fatalf("request %d unexpectedly blocked", i+1)
		}
	}
	if rl.AllowRequest("10.0.0.1") {
		t.Error("fourth request should exceed the minute limit")
	}

	// Other clients are tracked independently.
	if !rl.AllowRequest("10.0.0.2") {
		t.Error("a fresh client must not inherit another client's window")
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)

	for i := 0; i < 10; i++ {
		if !rl.AllowRequest("10.0.0.1") {
			t.Fatal("disabled limiter must never block")
		}
	}
	if stats := rl.GetStats("10.0.0.1"); stats.Enabled {
		t.Error("stats must report the limiter as disabled")
	}
}

func TestGetStats(t *testing.T) {
	rl := NewRateLimiter(5, 100, true)

	rl.AllowRequest("10.0.0.1")
	rl.AllowRequest("10.0.0.1")

	stats := rl.GetStats("10.0.0.1")
	if stats.RequestsLastMinute != 2 {
		t.Errorf("RequestsLastMinute = %d, want 2", stats.RequestsLastMinute)
	}
	if stats.RemainingThisMinute != 3 {
		t.Errorf("RemainingThisMinute = %d, want 3", stats.RemainingThisMinute)
	}
	if stats.LimitPerHour != 100 {
		t.Errorf("LimitPerHour = %d, want 100", stats.LimitPerHour)
	}

	// Unknown clients get a full allowance.
	fresh := rl.GetStats("10.0.0.9")
	if fresh.RemainingThisMinute != 5 || fresh.RequestsLastMinute != 0 {
		t.Errorf("fresh stats = %+v", fresh)
	}
}

func TestReset(t *testing.T) {
	rl := NewRateLimiter(1, 100, true)

	if !rl.AllowRequest("10.0.0.1") {
		t.Fatal("first request blocked")
	}
	if rl.AllowRequest("10.0.0.1") {
		t.Fatal("second request should be blocked")
	}

	rl.Reset()
	if !rl.AllowRequest("10.0.0.1") {
		t.Error("request after reset should pass")
	}
}
