package broker

import "sync"

// PendingSet tracks packet identifiers of publishes awaiting acknowledgement.
//
// Only the event pump writes to it; readers may query Len concurrently.
type PendingSet struct {
	mu  sync.RWMutex
	ids map[uint16]struct{}
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{ids: make(map[uint16]struct{})}
}

// Add records id as in flight.
func (p *PendingSet) Add(id uint16) {
	p.mu.Lock()
	p.ids[id] = struct{}{}
	p.mu.Unlock()
}

// Ack removes id and reports whether it was pending.
func (p *PendingSet) Ack(id uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ids[id]; !ok {
		return false
	}
	delete(p.ids, id)
	return true
}

// Contains reports whether id is pending.
func (p *PendingSet) Contains(id uint16) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ids[id]
	return ok
}

// Len returns the number of unacknowledged publishes.
func (p *PendingSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}
