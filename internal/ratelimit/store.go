package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists per-tenant limiter state. State is never deleted.
type Store interface {
	Load(ctx context.Context, tenantID string) (State, bool, error)
	Save(ctx context.Context, s State) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, tenantID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[tenantID]
	if ok && s.CooldownUntil != nil {
		t := *s.CooldownUntil
		s.CooldownUntil = &t
	}
	return s, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		s.CooldownUntil = &t
	}
	m.mu.Lock()
	m.states[s.TenantID] = s
	m.mu.Unlock()
	return nil
}

// RedisStore keeps each tenant in a hash so several workers share one view.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "wa:ratelimit:"}
}

const (
	fieldRate     = "rate"
	fieldSuccess  = "success"
	fieldFailure  = "failure"
	fieldCooldown = "cooldown_until"
	fieldUpdated  = "updated_at"
)

func (r *RedisStore) key(tenantID string) string {
	return r.prefix + tenantID
}

func (r *RedisStore) Load(ctx context.Context, tenantID string) (State, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key(tenantID)).Result()
	if err != nil {
		return State{}, false, fmt.Errorf("load rate state %s: %w", tenantID, err)
	}
	if len(vals) == 0 {
		return State{}, false, nil
	}

	s := State{TenantID: tenantID}
	ints := map[string]*int{fieldRate: &s.CurrentRate, fieldSuccess: &s.SuccessCount, fieldFailure: &s.FailureCount}
	for field, dst := range ints {
		n, err := strconv.Atoi(vals[field])
		if err != nil {
			return State{}, false, fmt.Errorf("rate state %s field %s: %w", tenantID, field, err)
		}
		*dst = n
	}
	if ms, _ := strconv.ParseInt(vals[fieldCooldown], 10, 64); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		s.CooldownUntil = &t
	}
	if ms, _ := strconv.ParseInt(vals[fieldUpdated], 10, 64); ms > 0 {
		s.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s State) error {
	var cooldown int64
	if s.CooldownUntil != nil {
		cooldown = s.CooldownUntil.UnixMilli()
	}
	err := r.client.HSet(ctx, r.key(s.TenantID),
		fieldRate, s.CurrentRate,
		fieldSuccess, s.SuccessCount,
		fieldFailure, s.FailureCount,
		fieldCooldown, cooldown,
		fieldUpdated, s.UpdatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("save rate state %s: %w", s.TenantID, err)
	}
	return nil
}
