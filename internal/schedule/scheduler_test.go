package schedule

import (
	"testing"
	"time"

	"github.com/getlantern/multiwisp/internal/frame"
	"github.com/getlantern/multiwisp/internal/pathlink"
	"github.com/getlantern/multiwisp/internal/randx"
)

type fakePath struct {
	id       uint32
	state    pathlink.State
	inflight int
	sent     []*frame.Frame
}

func (f *fakePath) ID() uint32 { return f.id }
func (f *fakePath) State() pathlink.State { return f.state }
func (f *fakePath) Stats() pathlink.Stats {
	return pathlink.Stats{Inflight: f.inflight, State: f.state}
}
func (f *fakePath) Enqueue(fr *frame.Frame, deadline time.Time) error {
	f.sent = append(f.sent, fr)
	return nil
}

func testFragment(groupID uint32) *frame.Frame {
	return &frame.Frame{FragTotal: 1, GroupID: groupID, Payload: []byte("x")}
}

func TestAssignSkipsBusyPaths(t *testing.T) {
	s := New(1)
	busy := &fakePath{id: 1, state: pathlink.Busy}
	ready := &fakePath{id: 2, state: pathlink.Ready}
	s.AddPath(busy, 1)
	s.AddPath(ready, 1)

	src := randx.New(1)
	chosen, err := s.Assign(testFragment(1), time.Now(), 1, src)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(chosen) != 1 || chosen[0] != 2 {
		t.Errorf("chosen = %v, want [2]", chosen)
	}
}

func TestAssignAllBusyFallsBackToEveryPath(t *testing.T) {
	s := New(1)
	p1 := &fakePath{id: 1, state: pathlink.Busy}
	p2 := &fakePath{id: 2, state: pathlink.Busy}
	s.AddPath(p1, 1)
	s.AddPath(p2, 1)

	src := randx.New(2)
	chosen, err := s.Assign(testFragment(1), time.Now(), 1, src)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(chosen) != 1 {
		t.Errorf("chosen = %v, want exactly one path even when all busy", chosen)
	}
}

func TestAssignNoPathsReturnsError(t *testing.T) {
	s := New(1)
	_, err := s.Assign(testFragment(1), time.Now(), 1, randx.New(1))
	if err != ErrNoPaths {
		t.Errorf("err = %v, want ErrNoPaths", err)
	}
}

func TestAssignRedundancyInclusiveSendsOnKPaths(t *testing.T) {
	s := New(1)
	for i := uint32(1); i <= 4; i++ {
		s.AddPath(&fakePath{id: i, state: pathlink.Ready}, float64(i))
	}
	chosen, err := s.Assign(testFragment(1), time.Now(), 3, randx.New(9))
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(chosen) != 3 {
		t.Fatalf("chosen = %v, want 3 paths for redundancy=3", chosen)
	}
	seen := map[uint32]bool{}
	for _, id := range chosen {
		if seen[id] {
			t.Errorf("path %d chosen twice", id)
		}
		seen[id] = true
	}
}

func TestAssignRedundancyOneIsNonRedundant(t *testing.T) {
	s := New(1)
	s.AddPath(&fakePath{id: 1, state: pathlink.Ready}, 1)
	s.AddPath(&fakePath{id: 2, state: pathlink.Ready}, 1)
	chosen, err := s.Assign(testFragment(1), time.Now(), 1, randx.New(3))
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(chosen) != 1 {
		t.Errorf("chosen = %v, want exactly 1 path for redundancy=1", chosen)
	}
}

func TestDrainUnhealthyExcludesPathFromWeightedSelection(t *testing.T) {
	s := New(1)
	drained := &fakePath{id: 1, state: pathlink.Ready}
	healthy := &fakePath{id: 2, state: pathlink.Ready}
	s.AddPath(drained, 100)
	s.AddPath(healthy, 1)
	s.DrainUnhealthy(1)

	for i := 0; i < 20; i++ {
		chosen, err := s.Assign(testFragment(uint32(i)), time.Now(), 1, randx.New(int64(i)))
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		if chosen[0] == 1 {
			t.Fatalf("drained path was selected despite weight 0")
		}
	}
}

func TestSetWeightsClearsDrainStatus(t *testing.T) {
	s := New(1)
	p := &fakePath{id: 1, state: pathlink.Ready}
	s.AddPath(p, 1)
	s.DrainUnhealthy(1)
	s.SetWeights(map[uint32]float64{1: 5})
	if s.paths[1].drained {
		t.Error("SetWeights should clear drain status")
	}
}

func TestDedupFirstCopyWinsRestDiscarded(t *testing.T) {
	s := New(1)
	defer s.Close()

	if s.Dedup("peerA", 42) {
		t.Error("first delivery should not be reported as seen")
	}
	if !s.Dedup("peerA", 42) {
		t.Error("second delivery of the same (sender, group_id) should be reported as seen")
	}
	if s.Dedup("peerB", 42) {
		t.Error("same group_id from a different sender must not collide")
	}
}
