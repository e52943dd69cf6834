package scanning

import (
	"slices"
	"sync"
)

// Aggregator collects the open ports of one scan. It is safe for
// concurrent use and stores each port once.
type Aggregator struct {
	mu    sync.RWMutex
	ports map[uint16]struct{}
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{ports: make(map[uint16]struct{})}
}

// Record adds port to the set and reports whether it was new.
func (a *Aggregator) Record(port uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.ports[port]; exists {
		return false
	}
	a.ports[port] = struct{}{}
	return true
}

// Len returns the number of distinct ports recorded.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.ports)
}

// Snapshot returns a sorted copy of the recorded ports.
func (a *Aggregator) Snapshot() []uint16 {
	a.mu.RLock()
	ports := make([]uint16, 0, len(a.ports))
	for port := range a.ports {
		ports = append(ports, port)
	}
	a.mu.RUnlock()

	slices.Sort(ports)
	return ports
}
