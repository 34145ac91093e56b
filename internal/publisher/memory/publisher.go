// Package memory contains an in-memory publisher for tests and
// topic-less deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantline/riskpipe/internal/publisher"
)

// Publisher stores published run-completion events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []publisher.RunCompleted
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishRunCompleted records the event and returns a pseudo ID.
func (p *Publisher) PublishRunCompleted(_ context.Context, event publisher.RunCompleted) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("mem-%d", len(p.events)), nil
}

// Events returns the recorded run completions.
func (p *Publisher) Events() []publisher.RunCompleted {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.RunCompleted, len(p.events))
	copy(out, p.events)
	return out
}

// Reset clears recorded events between test cases.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
