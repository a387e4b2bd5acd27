package yard

import (
	"math"
	"testing"
)

func TestClassifyLateStageBlinks(t *testing.T) {
	got := Classify(StageState{State: StateActive, WaitTime: 46, StdTime: 30}, false)
	if got.Status != StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	if !got.ShouldBlink || !got.ShouldAlert {
		t.Fatalf("expected blink and alert, got %+v", got)
	}
}

func TestClassifyCriticalStage(t *testing.T) {
	got := Classify(StageState{State: StateActive, WaitTime: 61, StdTime: 30}, false)
	if got.Status != StatusCritical {
		t.Fatalf("expected critical, got %s", got.Status)
	}
	if !got.ShouldBlink || !got.ShouldAlert {
		t.Fatalf("expected blink and alert, got %+v", got)
	}
}

func TestClassifyExactThresholds(t *testing.T) {
	late := Classify(StageState{State: StateActive, WaitTime: 45, StdTime: 30}, false)
	if late.ShouldBlink || late.ShouldAlert || late.Status != StatusActive {
		t.Fatalf("ratio 1.5 must not blink, got %+v", late)
	}
	critical := Classify(StageState{State: StateActive, WaitTime: 60, StdTime: 30}, false)
	if critical.Status != StatusCritical {
		t.Fatalf("ratio 2.0 must be critical, got %+v", critical)
	}
}

func TestClassifyBlinkMatchesRatio(t *testing.T) {
	for std := 1; std <= 60; std += 7 {
		for wait := 0; wait <= 150; wait += 3 {
			st := StageState{State: StateActive, WaitTime: wait, StdTime: std}
			want := float64(wait)/float64(std) > 1.5
			got := Classify(st, false)
			if got.ShouldBlink != want {
				t.Fatalf("wait=%d std=%d: expected blink=%v, got %v", wait, std, want, got.ShouldBlink)
			}
			if first := Classify(st, true); first.ShouldBlink || first.ShouldAlert {
				t.Fatalf("gate entry must never blink or alert, got %+v", first)
			}
		}
	}
}

func TestClassifyZeroStdUsesDefault(t *testing.T) {
	got := Classify(StageState{State: StateActive, WaitTime: 61, StdTime: 0}, false)
	if math.IsInf(got.Ratio, 0) || math.IsNaN(got.Ratio) {
		t.Fatalf("ratio must be finite, got %v", got.Ratio)
	}
	if got.Status != StatusCritical {
		t.Fatalf("expected critical against 30 minute default, got %s", got.Status)
	}
}

func TestClassifyCompletedAndPending(t *testing.T) {
	done := Classify(StageState{State: StateCompleted, WaitTime: 500, StdTime: 30}, false)
	if done.Status != StatusCompleted || done.ShouldAlert || done.ShouldBlink {
		t.Fatalf("unexpected completed classification %+v", done)
	}
	pending := Classify(StageState{State: StatePending, WaitTime: 500, StdTime: 30}, false)
	if pending.Status != StatusInactive || pending.ShouldAlert || pending.ShouldBlink {
		t.Fatalf("unexpected pending classification %+v", pending)
	}
}

func TestPolicyCustomThresholds(t *testing.T) {
	policy := Policy{LateRatio: 1.2, CriticalRatio: 3}
	got := policy.Classify(StageState{State: StateActive, WaitTime: 40, StdTime: 30}, false)
	if !got.ShouldAlert || got.Status != StatusActive {
		t.Fatalf("expected late alert under custom policy, got %+v", got)
	}
	got = policy.Classify(StageState{State: StateActive, WaitTime: 70, StdTime: 30}, false)
	if got.Status != StatusActive {
		t.Fatalf("expected active below custom critical ratio, got %+v", got)
	}
}
