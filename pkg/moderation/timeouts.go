package moderation

import (
	"context"
	"time"
)

// DeadlineProfile declares the separate wall-clock budgets one operation
// class works under.
type DeadlineProfile struct {
	OperationTotal time.Duration // one Discord action including retries
	DMBudget       time.Duration // best-effort DM
	DatabaseBudget time.Duration // persistence transaction
	APIBudget      time.Duration // single Discord API call

	// OperationTotal may stretch for non-critical classes when retries need
	// the room. Zero attempts means the budget is hard.
	MaxExtendAttempts int
	ExtendFactor      float64
}

// DefaultProfiles returns the per-class deadline tuning. Removal actions get
// hard budgets; message and api_other traffic may extend.
func DefaultProfiles() map[OperationClass]DeadlineProfile {
	return map[OperationClass]DeadlineProfile{
		ClassBanKick: {
			OperationTotal: 15 * time.Second, DMBudget: 3 * time.Second,
			DatabaseBudget: 5 * time.Second, APIBudget: 5 * time.Second,
		},
		ClassTimeout: {
			OperationTotal: 10 * time.Second, DMBudget: 3 * time.Second,
			DatabaseBudget: 5 * time.Second, APIBudget: 4 * time.Second,
		},
		ClassMessages: {
			OperationTotal: 12 * time.Second, DMBudget: 3 * time.Second,
			DatabaseBudget: 5 * time.Second, APIBudget: 4 * time.Second,
			MaxExtendAttempts: 2, ExtendFactor: 1.5,
		},
		ClassDatabase: {
			OperationTotal: 8 * time.Second, DMBudget: 2 * time.Second,
			DatabaseBudget: 5 * time.Second, APIBudget: 3 * time.Second,
		},
		ClassAPIOther: {
			OperationTotal: 12 * time.Second, DMBudget: 3 * time.Second,
			DatabaseBudget: 5 * time.Second, APIBudget: 4 * time.Second,
			MaxExtendAttempts: 1, ExtendFactor: 2.0,
		},
	}
}

// profileFor resolves the class profile with an api_other fallback.
func profileFor(profiles map[OperationClass]DeadlineProfile, class OperationClass) DeadlineProfile {
	if p, ok := profiles[class]; ok {
		return p
	}
	return DefaultProfiles()[ClassAPIOther]
}

// totalBudget applies the extension policy to the operation_total cap.
func (p DeadlineProfile) totalBudget() time.Duration {
	total := p.OperationTotal
	for i := 0; i < p.MaxExtendAttempts; i++ {
		total = time.Duration(float64(total) * p.ExtendFactor)
	}
	return total
}

// withBudget derives a child context capped at d. A zero budget means the
// parent deadline alone applies.
func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
