package pathlink

import (
	"testing"
	"time"
)

func TestAckTrackerRecordAckComputesRTT(t *testing.T) {
	tr := newAckTracker(1.0, 0.5) // alpha=1.0: EWMA becomes exactly the new sample
	defer tr.close()

	sentAt := time.Now()
	tr.recordSent(1, sentAt)
	ackAt := sentAt.Add(50 * time.Millisecond)
	tr.recordAck(1, ackAt)

	rtt, _, inflight := tr.snapshot()
	if inflight != 0 {
		t.Errorf("inflight = %d, want 0 after ack", inflight)
	}
	if rtt < 45*time.Millisecond || rtt > 55*time.Millisecond {
		t.Errorf("rtt = %v, want ~50ms", rtt)
	}
}

func TestAckTrackerUnknownSeqIgnored(t *testing.T) {
	tr := newAckTracker(0.2, 0.1)
	defer tr.close()
	tr.recordAck(999, time.Now()) // no corresponding recordSent
	_, _, inflight := tr.snapshot()
	if inflight != 0 {
		t.Errorf("inflight = %d, want 0", inflight)
	}
}

func TestAckTrackerReapCountsLoss(t *testing.T) {
	tr := newAckTracker(0.2, 1.0) // alpha_loss=1.0 so a single loss sample is visible
	defer tr.close()

	tr.recordSent(5, time.Now().Add(-time.Second))
	tr.reap(time.Now())

	_, loss, inflight := tr.snapshot()
	if inflight != 0 {
		t.Errorf("inflight = %d, want 0 after reap", inflight)
	}
	if loss <= 0 {
		t.Errorf("loss = %f, want > 0 after a reaped seq", loss)
	}
}

func TestAckTrackerTimeoutFloor(t *testing.T) {
	tr := newAckTracker(0.2, 0.1)
	defer tr.close()
	if tr.ackTimeout() < minAckTimeout {
		t.Errorf("ackTimeout() = %v, want >= %v floor", tr.ackTimeout(), minAckTimeout)
	}
}
