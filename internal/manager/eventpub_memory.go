package manager

import "sync"

// MemoryPublisher stores events in-memory for tests and diagnostics.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Count returns how many events named name were published for kind.
// A zero kind matches every kind.
func (p *MemoryPublisher) Count(name string, kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name && (kind == 0 || e.Kind == kind) {
			n++
		}
	}
	return n
}
