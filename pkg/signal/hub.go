package signal

import (
	"sync"

	"github.com/umputun/trafficlight/pkg/handoff"
	"github.com/umputun/trafficlight/pkg/status"
)

// hub fans every published phase out to per-subscriber handoff queues.
// each consumer drains its own queue, so concurrent waiters never steal each other's phases.
type hub struct {
	mu     sync.RWMutex
	queues map[*handoff.Queue[status.Phase]]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{queues: make(map[*handoff.Queue[status.Phase]]struct{})}
}

// subscribe adds a new queue. after close it returns an already closed queue.
func (h *hub) subscribe() *handoff.Queue[status.Phase] {
	q := handoff.New[status.Phase]()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		q.Close()
		return q
	}
	h.queues[q] = struct{}{}
	return q
}

// unsubscribe removes q and closes it. safe to call multiple times with the same queue.
func (h *hub) unsubscribe(q *handoff.Queue[status.Phase]) {
	h.mu.Lock()
	delete(h.queues, q)
	h.mu.Unlock()

	q.Close()
}

// broadcast sends p to every subscriber. handoff sends never block, so a slow consumer
// only coalesces its own backlog.
func (h *hub) broadcast(p status.Phase) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for q := range h.queues {
		q.Send(p)
	}
}

// pending sums the phases published but not yet received across all subscribers.
func (h *hub) pending() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for q := range h.queues {
		n += q.Len()
	}
	return n
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues)
}

// close closes every queue and rejects new subscriptions.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for q := range h.queues {
		q.Close()
		delete(h.queues, q)
	}
}
