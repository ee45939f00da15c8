package realtime

import (
	"testing"
	"time"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 10*time.Second, nil)

	if rl.Allow(now, v1.TypeJoin) != rateAllow || rl.Allow(now.Add(time.Second), v1.TypeRequestInputs) != rateAllow {
		t.Fatalf("first two events must pass")
	}
	if got := rl.Allow(now.Add(2*time.Second), v1.TypeRequestInputs); got != rateExceeded {
		t.Fatalf("third event inside the window: verdict=%d want rateExceeded", got)
	}
	if got := rl.Allow(now.Add(11*time.Second), v1.TypeRequestInputs); got != rateAllow {
		t.Fatalf("event after the first expired: verdict=%d want rateAllow", got)
	}
}

func TestRateLimiter_PerTypeBudget(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 10*time.Second, map[string]int{v1.TypeUserInput: 2})

	for i := 0; i < 2; i++ {
		if got := rl.Allow(now, v1.TypeUserInput); got != rateAllow {
			t.Fatalf("input %d: verdict=%d want rateAllow", i, got)
		}
	}
	if got := rl.Allow(now, v1.TypeUserInput); got != rateDropType {
		t.Fatalf("third input: verdict=%d want rateDropType", got)
	}
	// Other types still flow while user_input is over budget.
	if got := rl.Allow(now, v1.TypeRequestInputs); got != rateAllow {
		t.Fatalf("request_inputs: verdict=%d want rateAllow", got)
	}
	if got := rl.Allow(now.Add(11*time.Second), v1.TypeUserInput); got != rateAllow {
		t.Fatalf("input after window: verdict=%d want rateAllow", got)
	}
}

func TestRateLimiter_Counts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 10*time.Second, map[string]int{v1.TypeUserInput: 1})

	rl.Allow(now, v1.TypeJoin)
	rl.Allow(now.Add(time.Second), v1.TypeUserInput)
	rl.Allow(now.Add(2*time.Second), v1.TypeUserInput) // refused, not recorded
	rl.Allow(now.Add(3*time.Second), "")

	got := rl.Counts(now.Add(5 * time.Second))
	if got[v1.TypeJoin] != 1 || got[v1.TypeUserInput] != 1 || got[""] != 1 || len(got) != 3 {
		t.Fatalf("counts=%v", got)
	}
	got = rl.Counts(now.Add(10*time.Second + 500*time.Millisecond))
	if got[v1.TypeJoin] != 0 || got[v1.TypeUserInput] != 1 {
		t.Fatalf("counts after join expired=%v", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0, map[string]int{v1.TypeUserInput: 0})
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("limit=%d window=%v", rl.limit, rl.window)
	}
	if len(rl.perType) != 0 {
		t.Fatalf("non-positive per-type budget kept: %v", rl.perType)
	}
}
