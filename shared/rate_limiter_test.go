package shared

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestUserCooldownLimiter(t *testing.T) {
	limiter := NewUserCooldownLimiter(60 * time.Second)
	base := time.Now()

	if _, allowed := limiter.CheckAndRecord(1, base); !allowed {
		t.Fatal("first attempt should be allowed")
	}

	remaining, allowed := limiter.CheckAndRecord(1, base.Add(30*time.Second))
	if allowed {
		t.Fatal("attempt inside window should be rejected")
	}
	if remaining != 30*time.Second {
		t.Errorf("remaining = %v, want 30s", remaining)
	}

	if _, allowed := limiter.CheckAndRecord(1, base.Add(60*time.Second)); !allowed {
		t.Error("attempt at window boundary should be allowed")
	}
}

func TestUserCooldownLimiterRejectionDoesNotResetWindow(t *testing.T) {
	limiter := NewUserCooldownLimiter(60 * time.Second)
	base := time.Now()

	limiter.CheckAndRecord(1, base)
	limiter.CheckAndRecord(1, base.Add(59*time.Second))

	// If the rejected attempt had reset the window this would still be blocked.
	if _, allowed := limiter.CheckAndRecord(1, base.Add(61*time.Second)); !allowed {
		t.Error("rejected attempt must not extend the cooldown window")
	}
}

func TestUserCooldownLimiterRemainingWaitProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("remaining wait equals window minus elapsed", prop.ForAll(
		func(elapsedSeconds uint8) bool {
			limiter := NewUserCooldownLimiter(60 * time.Second)
			base := time.Now()
			limiter.CheckAndRecord(1, base)

			elapsed := time.Duration(elapsedSeconds%60) * time.Second
			remaining, allowed := limiter.CheckAndRecord(1, base.Add(elapsed))
			if allowed {
				return false
			}
			return remaining == 60*time.Second-elapsed
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestUserCooldownLimiterIsolatesUsers(t *testing.T) {
	limiter := NewUserCooldownLimiter(60 * time.Second)
	base := time.Now()

	limiter.CheckAndRecord(1, base)
	if _, allowed := limiter.CheckAndRecord(2, base); !allowed {
		t.Error("another user's window must be independent")
	}
}
