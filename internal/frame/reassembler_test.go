package frame

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"
)

func fragmentsOf(data []byte, n int, groupID uint32) []*Frame {
	chunk := (len(data) + n - 1) / n
	if chunk == 0 {
		chunk = 1
	}
	var frames []*Frame
	for i := 0; i < n; i++ {
		start := i * chunk
		end := start + chunk
		if start > len(data) {
			start = len(data)
		}
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, &Frame{
			FragID:    uint16(i),
			FragTotal: uint16(n),
			GroupID:   groupID,
			RealLen:   uint16(end - start),
			Payload:   data[start:end],
		})
	}
	return frames
}

func TestReassemblerRoundTrip(t *testing.T) {
	r := NewReassembler(time.Minute)
	defer r.Close()

	msg := bytes.Repeat([]byte("x"), 997)
	frames := fragmentsOf(msg, 4, 1)

	var got []byte
	var ok bool
	for _, f := range frames {
		got, ok = r.Add("a", f)
	}
	if !ok {
		t.Fatal("expected completion on last fragment")
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("reassembled = %d bytes, want %d bytes matching original", len(got), len(msg))
	}
}

func TestReassemblerDuplicateIdempotent(t *testing.T) {
	r := NewReassembler(time.Minute)
	defer r.Close()

	msg := []byte("duplicate-resistant payload")
	frames := fragmentsOf(msg, 3, 5)

	// Insert fragment 0 twice before completing the group.
	r.Add("a", frames[0])
	r.Add("a", frames[0])
	r.Add("a", frames[1])
	got, ok := r.Add("a", frames[2])
	if !ok {
		t.Fatal("expected completion")
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("reassembled = %q, want %q", got, msg)
	}
}

func TestReassemblerSingleFragmentBypass(t *testing.T) {
	r := NewReassembler(time.Minute)
	defer r.Close()

	f := &Frame{FragID: 0, FragTotal: 1, GroupID: 9, RealLen: 5, Payload: []byte("hello")}
	got, ok := r.Add("a", f)
	if !ok {
		t.Fatal("single-fragment group should complete immediately")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q", got)
	}
	if r.Pending() != 0 {
		t.Error("single-fragment group should never be buffered")
	}
}

func TestReassemblerTTLEviction(t *testing.T) {
	r := NewReassembler(30 * time.Millisecond)
	defer r.Close()

	frames := fragmentsOf([]byte("partial only"), 3, 11)
	r.Add("a", frames[0])
	if r.Pending() != 1 {
		t.Fatal("expected one pending group")
	}

	time.Sleep(200 * time.Millisecond)
	if r.Pending() != 0 {
		t.Error("expected group to be evicted after TTL")
	}
}

func TestReassemblerArbitraryDuplicationIsIdempotent(t *testing.T) {
	r := NewReassembler(time.Minute)
	defer r.Close()

	msg := make([]byte, 4096)
	for i := range msg {
		msg[i] = byte(i)
	}
	frames := fragmentsOf(msg, 8, 21)

	order := make([]*Frame, 0, len(frames)*2)
	order = append(order, frames...)
	order = append(order, frames...) // every fragment duplicated
	rnd := rand.New(rand.NewPCG(1, 2))
	rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var got []byte
	completions := 0
	for _, f := range order {
		if msg2, ok := r.Add("sender", f); ok {
			completions++
			got = msg2
		}
	}
	if completions != 1 {
		t.Errorf("completions = %d, want exactly 1 despite duplication", completions)
	}
	if !bytes.Equal(got, msg) {
		t.Error("reassembled message does not match original")
	}
}
