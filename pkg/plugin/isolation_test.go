package plugin

import "testing"

func TestNoopGovernorRejectsZeroMemoryLimit(t *testing.T) {
	policy := DefaultResourcePolicy()
	policy.MemoryLimitBytes = 0
	if err := (NoopGovernor{}).Validate(Info{PluginID: "x"}, policy); err == nil {
		t.Fatal("expected zero memory limit to be rejected")
	}
}

func TestNoopGovernorRejectsZeroInstructionLimit(t *testing.T) {
	policy := DefaultResourcePolicy()
	policy.InstructionLimit = 0
	if err := (NoopGovernor{}).Validate(Info{PluginID: "x"}, policy); err == nil {
		t.Fatal("expected zero instruction limit to be rejected")
	}
}

func TestNoopGovernorAcceptsDefaults(t *testing.T) {
	if err := (NoopGovernor{}).Validate(Info{PluginID: "x"}, DefaultResourcePolicy()); err != nil {
		t.Fatalf("expected default policy to pass validation, got %v", err)
	}
}

func TestNewGovernorFallsBackToNoop(t *testing.T) {
	g := NewGovernor(nil)
	if err := g.Validate(Info{PluginID: "x"}, DefaultResourcePolicy()); err != nil {
		t.Fatalf("expected fallback governor to validate defaults, got %v", err)
	}
}
