package broker

import (
	"context"
	"sync"
)

// memoryRetention caps how many messages a MemoryPublisher keeps
const memoryRetention = 10000

// MemoryPublisher keeps the most recent published messages in process. It
// backs single-node deployments without a broker and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes every later publish return err; nil restores delivery
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryPublisher) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if len(m.messages) == memoryRetention {
		copy(m.messages, m.messages[1:])
		m.messages = m.messages[:len(m.messages)-1]
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of everything published so far
func (m *MemoryPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MemoryPublisher) Close() error {
	return nil
}
