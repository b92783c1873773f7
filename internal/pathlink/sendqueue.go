package pathlink

import (
	"container/heap"
	"time"

	"github.com/getlantern/multiwisp/internal/frame"
)

// queuedFrame is one pending send, ordered by Deadline.
type queuedFrame struct {
	f        *frame.Frame
	deadline time.Time
	index    int // heap-maintained
}

// deadlineHeap is a container/heap of queuedFrame ordered earliest
// deadline first, giving per-path transmission in deadline order as
// required by the jitter ordering guarantee.
type deadlineHeap []*queuedFrame

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *deadlineHeap) Push(x any) {
	qf := x.(*queuedFrame)
	qf.index = len(*h)
	*h = append(*h, qf)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	qf := old[n-1]
	old[n-1] = nil
	qf.index = -1
	*h = old[:n-1]
	return qf
}

// sendQueue is a goroutine-unsafe deadline-ordered queue; callers
// serialize access via Link.queueMu.
type sendQueue struct {
	h deadlineHeap
}

func newSendQueue() *sendQueue {
	sq := &sendQueue{}
	heap.Init(&sq.h)
	return sq
}

func (sq *sendQueue) push(f *frame.Frame, deadline time.Time) {
	heap.Push(&sq.h, &queuedFrame{f: f, deadline: deadline})
}

// peek returns the earliest-deadline entry without removing it.
func (sq *sendQueue) peek() (*queuedFrame, bool) {
	if len(sq.h) == 0 {
		return nil, false
	}
	return sq.h[0], true
}

func (sq *sendQueue) pop() *queuedFrame {
	return heap.Pop(&sq.h).(*queuedFrame)
}

func (sq *sendQueue) len() int { return len(sq.h) }
