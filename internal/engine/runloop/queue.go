package runloop

import (
	"sync"
	"time"
)

type request struct {
	h  Handle
	fn FrameFunc
}

// Queue is a manually fired Scheduler. Callbacks requested during Fire run on the next Fire.
type Queue struct {
	mu      sync.Mutex
	next    Handle
	pending []request
	firing  map[Handle]struct{} // batch currently being fired
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{firing: make(map[Handle]struct{})}
}

// RequestFrame implements Scheduler.
func (q *Queue) RequestFrame(fn FrameFunc) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.pending = append(q.pending, request{h: q.next, fn: fn})
	return q.next
}

// CancelFrame implements Scheduler. Unknown handles are ignored.
func (q *Queue) CancelFrame(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.firing, h)
	for i, r := range q.pending {
		if r.h == h {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Fire runs every callback requested before this call and returns how many ran.
func (q *Queue) Fire(now time.Time) int {
	q.mu.Lock()
	due := q.pending
	q.pending = nil
	for _, r := range due {
		q.firing[r.h] = struct{}{}
	}
	q.mu.Unlock()

	ran := 0
	for _, r := range due {
		q.mu.Lock()
		_, live := q.firing[r.h]
		delete(q.firing, r.h)
		q.mu.Unlock()
		if !live {
			continue
		}
		r.fn(now)
		ran++
	}
	return ran
}

// Len returns the number of callbacks waiting for the next Fire.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
