package strategy

import "testing"

func TestTickHoldsWeightsWhenNotAdaptive(t *testing.T) {
	e := NewEngine(Config{AdaptivePaths: false})
	snap := e.Tick([]PathMetrics{{PathID: 1, RTTMs: 50, Loss: 0}}, 0)
	if len(snap.Weights) != 0 {
		t.Errorf("Weights = %v, want empty when adaptive_paths is off and no prior weights exist", snap.Weights)
	}
}

func TestTickAdaptiveWeightsFavorLowerRTT(t *testing.T) {
	e := NewEngine(Config{AdaptivePaths: true, Beta: 1.0})
	snap := e.Tick([]PathMetrics{
		{PathID: 1, RTTMs: 50, Loss: 0},
		{PathID: 2, RTTMs: 200, Loss: 0},
	}, 0)
	if snap.Weights[1] <= snap.Weights[2] {
		t.Errorf("weights = %v, want path 1 (lower RTT) to have higher weight", snap.Weights)
	}
}

func TestTickWeightsNormalizeAndClampToWMin(t *testing.T) {
	e := NewEngine(Config{AdaptivePaths: true, Beta: 1.0, WMin: 0.1})
	snap := e.Tick([]PathMetrics{
		{PathID: 1, RTTMs: 10, Loss: 0},
		{PathID: 2, RTTMs: 100000, Loss: 0.9},
	}, 0)
	if snap.Weights[2] < 0.1 {
		t.Errorf("weight for path 2 = %f, want >= w_min 0.1", snap.Weights[2])
	}
	for id, w := range snap.Weights {
		if w > 1.0 {
			t.Errorf("weight for path %d = %f exceeds clamp of 1.0", id, w)
		}
	}
}

func TestTickBehaviorHeldWhenNotAdaptive(t *testing.T) {
	e := NewEngine(Config{AdaptiveBehavior: false, PaddingAlphaBase: 0.1, JitterMsBase: 20})
	snap := e.Tick([]PathMetrics{{PathID: 1, MeanSize: 9999}}, 0)
	if snap.PaddingAlpha != 0.1 || snap.JitterMs != 20 {
		t.Errorf("PaddingAlpha=%f JitterMs=%d, want held at base values", snap.PaddingAlpha, snap.JitterMs)
	}
}

func TestTickBehaviorTightensUnderHighVariance(t *testing.T) {
	e := NewEngine(Config{
		AdaptiveBehavior:  true,
		PaddingAlphaBase:  0.05,
		PaddingAlphaMax:   0.5,
		JitterMsBase:      10,
		JitterMsMax:       100,
		VarianceHighRatio: 0.01,
	})
	metrics := []PathMetrics{
		{PathID: 1, MeanSize: 100},
		{PathID: 2, MeanSize: 5000}, // large spread relative to mean
	}
	snap := e.Tick(metrics, 0)
	if snap.PaddingAlpha <= 0.05 {
		t.Errorf("PaddingAlpha = %f, want it to have moved up from base under high variance", snap.PaddingAlpha)
	}
}

func TestTickProtoRotatesOnSwitchPeriod(t *testing.T) {
	e := NewEngine(Config{AdaptiveProto: true, NumProfiles: 3, ProtoSwitchPeriod: 2})
	s0 := e.Tick(nil, 0)
	s1 := e.Tick(nil, 1)
	s2 := e.Tick(nil, 2)
	if s0.ProfileID != 1 {
		t.Errorf("window 0 profile = %d, want 1 (rotated on the first tick since 0%%2==0)", s0.ProfileID)
	}
	if s1.ProfileID != s0.ProfileID {
		t.Errorf("window 1 profile = %d, want held at %d", s1.ProfileID, s0.ProfileID)
	}
	if s2.ProfileID == s1.ProfileID {
		t.Errorf("window 2 profile should rotate again, stayed at %d", s2.ProfileID)
	}
}

func TestLoadReturnsLatestPublishedSnapshot(t *testing.T) {
	e := NewEngine(Config{AdaptivePaths: true})
	e.Tick([]PathMetrics{{PathID: 5, RTTMs: 10}}, 3)
	snap := e.Load()
	if snap.WindowIndex != 3 {
		t.Errorf("Load().WindowIndex = %d, want 3", snap.WindowIndex)
	}
}
