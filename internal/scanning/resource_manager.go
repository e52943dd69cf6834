package scanning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrScanInProgress is returned by TryAcquire when every slot is taken.
	ErrScanInProgress = errors.New("another scan is already running")
	// ErrResourceManagerClosed is returned once the manager has been closed.
	ErrResourceManagerClosed = errors.New("resource manager is closed")
)

// ResourceManager limits how many scans may run at the same time.
type ResourceManager interface {
	// Acquire blocks until a slot is available or ctx is cancelled.
	Acquire(ctx context.Context, scanID string) error

	// TryAcquire takes a slot without waiting.
	TryAcquire(scanID string) error

	// Release frees the slot held by scanID.
	Release(scanID string)

	// GetActiveScans returns the IDs of running scans and when they started.
	GetActiveScans() map[string]time.Time

	// GetAvailableSlots returns the number of free slots.
	GetAvailableSlots() int

	// Close rejects further acquisitions.
	Close() error
}

// ResourceStats is a point-in-time view of a resource manager.
type ResourceStats struct {
	Capacity       int  `json:"capacity"`
	ActiveScans    int  `json:"active_scans"`
	AvailableSlots int  `json:"available_slots"`
	Closed         bool `json:"closed"`
}

// FixedResourceManager implements ResourceManager with a fixed number of slots.
// portaudit scans one target at a time, so callers normally use capacity 1.
type FixedResourceManager struct {
	capacity    int
	semaphore   chan struct{}
	activeScans map[string]time.Time
	mutex       sync.RWMutex
	closed      bool
}

// NewFixedResourceManager creates a resource manager with the given capacity.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:    capacity,
		semaphore:   make(chan struct{}, capacity),
		activeScans: make(map[string]time.Time),
	}
}

// Acquire blocks until a slot is free for scanID.
func (rm *FixedResourceManager) Acquire(ctx context.Context, scanID string) error {
	if rm.isClosed() {
		return ErrResourceManagerClosed
	}

	select {
	case rm.semaphore <- struct{}{}:
		return rm.register(scanID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot for scanID if one is free.
func (rm *FixedResourceManager) TryAcquire(scanID string) error {
	if rm.isClosed() {
		return ErrResourceManagerClosed
	}

	select {
	case rm.semaphore <- struct{}{}:
		return rm.register(scanID)
	default:
		return ErrScanInProgress
	}
}

func (rm *FixedResourceManager) register(scanID string) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		rm.releaseSlot()
		return ErrResourceManagerClosed
	}
	if _, exists := rm.activeScans[scanID]; exists {
		rm.releaseSlot()
		return fmt.Errorf("scan %s already holds a slot", scanID)
	}
	rm.activeScans[scanID] = time.Now()
	return nil
}

func (rm *FixedResourceManager) isClosed() bool {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.closed
}

// Release frees the slot held by scanID. Unknown IDs are ignored.
func (rm *FixedResourceManager) Release(scanID string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.activeScans[scanID]; !exists {
		return
	}
	delete(rm.activeScans, scanID)
	rm.releaseSlot()
}

// releaseSlot frees one semaphore slot without blocking; Close may already
// have drained it.
func (rm *FixedResourceManager) releaseSlot() {
	select {
	case <-rm.semaphore:
	default:
	}
}

// GetActiveScans returns a copy of the running scans keyed by scan ID.
func (rm *FixedResourceManager) GetActiveScans() map[string]time.Time {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	active := make(map[string]time.Time, len(rm.activeScans))
	for id, started := range rm.activeScans {
		active[id] = started
	}
	return active
}

// GetAvailableSlots returns the number of free slots.
func (rm *FixedResourceManager) GetAvailableSlots() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.capacity - len(rm.activeScans)
}

// Close rejects further acquisitions and forgets running scans.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		return nil
	}

	rm.closed = true
	rm.activeScans = make(map[string]time.Time)

	for {
		select {
		case <-rm.semaphore:
		default:
			return nil
		}
	}
}

// GetStats returns statistics about the resource manager.
func (rm *FixedResourceManager) GetStats() ResourceStats {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return ResourceStats{
		Capacity:       rm.capacity,
		ActiveScans:    len(rm.activeScans),
		AvailableSlots: rm.capacity - len(rm.activeScans),
		Closed:         rm.closed,
	}
}
