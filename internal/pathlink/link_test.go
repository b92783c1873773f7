package pathlink

import (
	"net"
	"testing"
	"time"

	"github.com/getlantern/multiwisp/internal/frame"
)

func testFrame(seq uint32, payload string) *frame.Frame {
	return &frame.Frame{
		ProtoID:   0,
		Seq:       seq,
		FragID:    0,
		FragTotal: 1,
		GroupID:   seq,
		RealLen:   uint16(len(payload)),
		Payload:   []byte(payload),
	}
}

func TestLinkEnqueueAndReceive(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	la := New(1, a, Config{})
	lb := New(2, b, Config{})
	defer la.Close()
	defer lb.Close()

	if err := la.Enqueue(testFrame(1, "hello"), time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case f := <-lb.Inbound():
		if string(f.Real()) != "hello" {
			t.Errorf("got payload %q, want %q", f.Real(), "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestLinkAckUpdatesRTT(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	la := New(1, a, Config{AlphaRTT: 0.5, AlphaLoss: 0.5})
	lb := New(2, b, Config{})
	defer la.Close()
	defer lb.Close()

	if err := la.Enqueue(testFrame(7, "x"), time.Now()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-lb.Inbound()

	ack := &frame.Frame{ProtoID: 0, Flags: frame.FlagAck, Seq: 1, FragTotal: 1, GroupID: 7, RealLen: 4, Payload: []byte{0, 0, 0, 7}}
	if err := lb.Enqueue(ack, time.Now()); err != nil {
		t.Fatalf("Enqueue ack: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if la.acks.inflight() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ack was never folded into RTT tracker")
}

func TestLinkBusyWhenInflightAtMax(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	la := New(1, a, Config{MaxInflight: 1})
	lb := New(2, b, Config{})
	defer la.Close()
	defer lb.Close()

	la.acks.recordSent(100, time.Now())
	if got := la.State(); got != Busy {
		t.Errorf("State() = %v, want Busy", got)
	}
}

func TestLinkClosePreventsFurtherEnqueue(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	la := New(1, a, Config{})
	la.Close()

	if err := la.Enqueue(testFrame(1, "x"), time.Now()); err != ErrPathDown {
		t.Errorf("Enqueue after Close: err = %v, want ErrPathDown", err)
	}
}

func TestLinkClosesAfterTooManyMalformedFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	lb := New(2, b, Config{})
	defer lb.Close()

	garbage := make([]byte, maxMalformedFrames+32)
	go a.Write(garbage)

	select {
	case _, ok := <-lb.Inbound():
		if ok {
			t.Fatal("expected Inbound to be closed, got a frame instead")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link to close after malformed frames")
	}

	if err := lb.Enqueue(testFrame(1, "x"), time.Now()); err != ErrPathDown {
		t.Errorf("Enqueue after malformed-frame close: err = %v, want ErrPathDown", err)
	}
}

func TestSendQueueOrdersByDeadline(t *testing.T) {
	sq := newSendQueue()
	now := time.Now()
	sq.push(testFrame(3, "c"), now.Add(30*time.Millisecond))
	sq.push(testFrame(1, "a"), now.Add(10*time.Millisecond))
	sq.push(testFrame(2, "b"), now.Add(20*time.Millisecond))

	var order []uint32
	for sq.len() > 0 {
		order = append(order, sq.pop().f.Seq)
	}
	want := []uint32{1, 2, 3}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
