// Package memory records published job events in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var _ support.Publisher = (*Publisher)(nil)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// JobEvents returns the recorded payloads that are job events, in order.
func (p *Publisher) JobEvents() []support.JobEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []support.JobEvent
	for _, msg := range p.messages {
		if evt, ok := msg.Payload.(support.JobEvent); ok {
			out = append(out, evt)
		}
	}
	return out
}
