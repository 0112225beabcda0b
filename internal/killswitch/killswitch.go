// Package killswitch holds the process-wide "stop all sending" flag.
// Reads are never cached: every safety decision sees the latest value.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

type Switch interface {
	SendingDisabled(ctx context.Context) (bool, error)
	SetSendingDisabled(ctx context.Context, disabled bool) error
}

// AtomicSwitch is a single in-process cell, enabled by default.
type AtomicSwitch struct {
	disabled atomic.Bool
}

func NewAtomicSwitch() *AtomicSwitch {
	return &AtomicSwitch{}
}

func (s *AtomicSwitch) SendingDisabled(context.Context) (bool, error) {
	return s.disabled.Load(), nil
}

func (s *AtomicSwitch) SetSendingDisabled(_ context.Context, disabled bool) error {
	s.disabled.Store(disabled)
	return nil
}

const GlobalKey = "wa:killswitch:global"

// RedisSwitch shares the flag between the API and every worker. An absent
// key means sending is enabled.
type RedisSwitch struct {
	client *redis.Client
}

func NewRedisSwitch(client *redis.Client) *RedisSwitch {
	return &RedisSwitch{client: client}
}

func (s *RedisSwitch) SendingDisabled(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, GlobalKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read global kill-switch: %w", err)
	}
	return v == "1", nil
}

func (s *RedisSwitch) SetSendingDisabled(ctx context.Context, disabled bool) error {
	var err error
	if disabled {
		err = s.client.Set(ctx, GlobalKey, "1", 0).Err()
	} else {
		err = s.client.Del(ctx, GlobalKey).Err()
	}
	if err != nil {
		return fmt.Errorf("write global kill-switch: %w", err)
	}
	return nil
}
