package ratelimit

import "time"

// Policy holds the tuning constants of the adaptive limiter. Rates are in
// messages per minute.
type Policy struct {
	MinRate          int
	MaxRate          int
	InitialRate      int
	ScaleUpThreshold int
	ScaleUpIncrement int
	Cooldown         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinRate:          5,
		MaxRate:          80,
		InitialRate:      20,
		ScaleUpThreshold: 50,
		ScaleUpIncrement: 10,
		Cooldown:         2 * time.Minute,
	}
}

func (p Policy) clamp(rate int) int {
	if rate < p.MinRate {
		return p.MinRate
	}
	if rate > p.MaxRate {
		return p.MaxRate
	}
	return rate
}

// State is the persisted per-tenant cell.
type State struct {
	TenantID      string     `json:"tenant_id"`
	CurrentRate   int        `json:"current_rate"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (p Policy) initial(tenantID string) State {
	return State{TenantID: tenantID, CurrentRate: p.InitialRate}
}

// Snapshot is State plus the values derived from it at read time.
type Snapshot struct {
	State
	InCooldown bool  `json:"in_cooldown"`
	DelayMs    int64 `json:"delay_ms"`
}

// Delay is the minimum spacing between two sends of the tenant.
func (s Snapshot) Delay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}

// DelayMs is ceil(60000 / rate) so the spacing never undershoots the rate.
func DelayMs(rate int) int64 {
	if rate <= 0 {
		return 0
	}
	r := int64(rate)
	return (60000 + r - 1) / r
}

func snapshot(s State, now time.Time) Snapshot {
	return Snapshot{
		State:      s,
		InCooldown: s.CooldownUntil != nil && s.CooldownUntil.After(now),
		DelayMs:    DelayMs(s.CurrentRate),
	}
}
