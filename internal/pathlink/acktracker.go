package pathlink

import (
	"sync"
	"time"
)

const (
	minAckTimeout = 200 * time.Millisecond
	reapInterval  = 2 * time.Second
)

// ackTracker records send timestamps by sequence number and folds
// acknowledgements into EWMA RTT and loss-rate estimates. Unacked seqs
// older than ackTimeout are reaped and counted as losses.
type ackTracker struct {
	mu         sync.Mutex
	alphaRTT   float64
	alphaLoss  float64
	outstanding map[uint32]time.Time
	rttEWMA    time.Duration
	lossEWMA   float64
	closeCh    chan struct{}
	closeOnce  sync.Once
}

func newAckTracker(alphaRTT, alphaLoss float64) *ackTracker {
	t := &ackTracker{
		alphaRTT:    alphaRTT,
		alphaLoss:   alphaLoss,
		outstanding: make(map[uint32]time.Time),
		rttEWMA:     minAckTimeout / 4,
		closeCh:     make(chan struct{}),
	}
	go t.reapLoop()
	return t
}

// recordSent notes that seq was sent at ts, awaiting an ACK.
func (t *ackTracker) recordSent(seq uint32, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding[seq] = ts
}

// recordAck folds the observed RTT for seq into the EWMA and a success
// sample into the loss EWMA. Acks for unknown (already-reaped or
// duplicate) seqs are ignored.
func (t *ackTracker) recordAck(seq uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.outstanding[seq]
	if !ok {
		return
	}
	delete(t.outstanding, seq)

	rtt := now.Sub(sentAt)
	if t.rttEWMA == 0 {
		t.rttEWMA = rtt
	} else {
		t.rttEWMA = time.Duration(t.alphaRTT*float64(rtt) + (1-t.alphaRTT)*float64(t.rttEWMA))
	}
	t.lossEWMA = t.alphaLoss*0 + (1-t.alphaLoss)*t.lossEWMA
}

// ackTimeout returns the current unacked-seq eviction threshold:
// max(4 * EWMA_RTT, 200ms).
func (t *ackTracker) ackTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ackTimeoutLocked()
}

func (t *ackTracker) ackTimeoutLocked() time.Duration {
	d := 4 * t.rttEWMA
	if d < minAckTimeout {
		d = minAckTimeout
	}
	return d
}

// snapshot returns the current RTT and loss EWMA estimates and the
// number of outstanding (in-flight) sends.
func (t *ackTracker) snapshot() (rtt time.Duration, loss float64, inflight int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rttEWMA, t.lossEWMA, len(t.outstanding)
}

func (t *ackTracker) inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outstanding)
}

// reapLoop evicts unacked seqs older than ackTimeout, counting each as
// a loss sample in the EWMA. Grounded in connpool.go's cleanupLoop
// ticker idiom.
func (t *ackTracker) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.reap(time.Now())
		case <-t.closeCh:
			return
		}
	}
}

func (t *ackTracker) reap(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	timeout := t.ackTimeoutLocked()
	lost := 0
	for seq, sentAt := range t.outstanding {
		if now.Sub(sentAt) >= timeout {
			delete(t.outstanding, seq)
			lost++
		}
	}
	for i := 0; i < lost; i++ {
		t.lossEWMA = t.alphaLoss*1 + (1-t.alphaLoss)*t.lossEWMA
	}
}

func (t *ackTracker) close() {
	t.closeOnce.Do(func() { close(t.closeCh) })
}
