// Package queue implements the thin validating policy layer on top of
// interfaces.JobStore: payload validation, defaulting, and an
// in-process per-job event feed.
package queue

import (
	"sync"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/models"
)

// JobEventHub fans out job lifecycle events to per-job subscribers.
// Delivery is best-effort and in-process only: a subscriber whose buffer is
// full has the event dropped rather than blocking the publisher.
type JobEventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan models.JobEvent
	nextID int
	logger *common.Logger
}

// NewJobEventHub creates an empty hub.
func NewJobEventHub(logger *common.Logger) *JobEventHub {
	return &JobEventHub{
		subs:   make(map[string]map[int]chan models.JobEvent),
		logger: logger,
	}
}

// Subscribe registers callback to receive every event published for jobID
// until the returned unsubscribe func is called. callback runs on its own
// goroutine reading from a buffered channel; a slow subscriber has events
// dropped rather than blocking the publisher.
func (h *JobEventHub) Subscribe(jobID string, callback func(models.JobEvent)) (unsubscribe func()) {
	ch := make(chan models.JobEvent, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan models.JobEvent)
	}
	id := h.nextID
	h.nextID++
	h.subs[jobID][id] = ch
	h.mu.Unlock()

	go func() {
		for evt := range ch {
			callback(evt)
		}
	}()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subs[jobID]
		if !ok {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subs, jobID)
		}
	}
}

// Publish delivers evt to every subscriber of evt.Job.ID.
func (h *JobEventHub) Publish(evt models.JobEvent) {
	if evt.Job == nil {
		return
	}

	h.mu.RLock()
	subs := h.subs[evt.Job.ID]
	chans := make([]chan models.JobEvent, 0, len(subs))
	for _, c := range subs {
		chans = append(chans, c)
	}
	h.mu.RUnlock()

	for _, c := range chans {
		select {
		case c <- evt:
		default:
			h.logger.Warn().Str("job_id", evt.Job.ID).Str("event", evt.Type).
				Msg("job event subscriber channel full, dropping event")
		}
	}
}
