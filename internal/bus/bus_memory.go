package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process bus. Each Subscribe stands for one instance;
// handlers run synchronously inside Publish. Race events go to the first
// subscriber only.
type Memory struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Delivery == "" {
		evt.Delivery = Fanout
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil
	}
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
		if evt.Delivery == Race {
			break
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	return nil
}

func (m *Memory) HealthCheck(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = nil
	return nil
}
