package transport

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// Mock simulates sending. Scripted outcomes are consumed first (nil means
// success); after that each send succeeds with probability SuccessRate.
type Mock struct {
	SuccessRate float64

	mu     sync.Mutex
	script []*SendError
	sent   []Message
}

// NewMock returns a mock with 90% success.
func NewMock() *Mock {
	return &Mock{SuccessRate: 0.9}
}

// Script queues outcomes for the next sends.
func (m *Mock) Script(outcomes ...*SendError) {
	m.mu.Lock()
	m.script = append(m.script, outcomes...)
	m.mu.Unlock()
}

func (m *Mock) Send(ctx context.Context, msg Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)

	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		if next != nil {
			return nil, next
		}
		return &Result{MessageID: "wamid.mock-" + uuid.NewString()}, nil
	}
	if rand.Float64() < m.SuccessRate {
		return &Result{MessageID: "wamid.mock-" + uuid.NewString()}, nil
	}
	return nil, &SendError{Code: 131026, Message: "mock sending failed"}
}

// Sent returns a copy of every message handed to Send.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
