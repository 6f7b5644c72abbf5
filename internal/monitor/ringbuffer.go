package monitor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// DefaultAlertCapacity is the ring buffer size used when MonitorConfig
// doesn't override it (default capacity 1000).
const DefaultAlertCapacity = 1000

// RingBuffer is a bounded, mutex-protected alert history backed by a
// fixed-capacity slice that evicts the oldest entry once full.
type RingBuffer struct {
	mu       sync.Mutex
	items    []models.Alert
	capacity int
}

// NewRingBuffer creates an empty buffer. capacity <= 0 falls back to
// DefaultAlertCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &RingBuffer{capacity: capacity}
}

// Push appends alert, evicting the oldest entry if the buffer is full. An
// empty ID is assigned a new one.
func (b *RingBuffer) Push(alert models.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, alert)
	if len(b.items) > b.capacity {
		b.items = b.items[len(b.items)-b.capacity:]
	}
}

// List returns up to the limit most recent alerts, newest last. limit <= 0
// returns every retained alert.
func (b *RingBuffer) List(limit int) []models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit >= len(b.items) {
		out := make([]models.Alert, len(b.items))
		copy(out, b.items)
		return out
	}
	start := len(b.items) - limit
	out := make([]models.Alert, limit)
	copy(out, b.items[start:])
	return out
}

// Acknowledge marks the alert with the given id as acknowledged. Returns
// false when no retained alert has that id (it may have been evicted).
func (b *RingBuffer) Acknowledge(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Acknowledged = true
			return true
		}
	}
	return false
}

// Len returns the number of alerts currently retained.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

var _ interfaces.AlertStore = (*RingBuffer)(nil)
