package routines

import (
	"testing"

	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/testenv"
)

func newArena(t *testing.T) *testenv.Arena {
	t.Helper()
	return testenv.New(t, testenv.Options{Routines: []automation.Routine{MotionLight}})
}

func TestMotionLight_OnWhenMotionStarts(t *testing.T) {
	a := newArena(t)
	a.SetState(MotionSwitch, "off", nil)
	a.SetState(BedroomLight, "off", nil)

	a.TriggerStateChange(MotionSwitch, "off", "on", nil)

	a.AssertMutated(BedroomLight, "on")
	a.AssertState(BedroomLight, "on")
	if ms := a.Mutations(BedroomLight); len(ms) != 1 {
		t.Errorf("bedroom writes = %d, want 1 (off handler must not run)", len(ms))
	}
}

func TestMotionLight_OffWhenMotionStops(t *testing.T) {
	a := newArena(t)
	a.SetState(MotionSwitch, "on", nil)
	a.SetState(BedroomLight, "on", nil)

	a.TriggerStateChange(MotionSwitch, "", "off", nil)

	a.AssertMutated(BedroomLight, "off")
	a.AssertState(BedroomLight, "off")
}

func TestMotionLight_IgnoresOtherTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{"unavailable to on", "unavailable", "on"},
		{"on to unavailable", "on", "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArena(t)
			a.SetState(BedroomLight, "off", nil)
			a.TriggerStateChange(MotionSwitch, tt.from, tt.to, nil)
			a.AssertNotMutated(BedroomLight)
		})
	}
}

func TestAll_InstallsIntoFrozenRegistry(t *testing.T) {
	r := automation.NewRegistry()
	if err := automation.Install(r, automation.Services{}, All()...); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	r.Freeze()
	if got := r.Lookup(automation.CategoryStateChange, MotionSwitch.String()); len(got) != 2 {
		t.Errorf("motion triggers = %d, want 2", len(got))
	}
}
