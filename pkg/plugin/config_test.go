package plugin

import "testing"

func TestEffectivePolicyFallsBackToDefaults(t *testing.T) {
	defaults := DefaultResourcePolicy()
	pc := PluginConfig{Enabled: true}
	if got := pc.effectivePolicy(defaults); got != defaults {
		t.Fatalf("expected defaults unchanged, got %+v", got)
	}
}

func TestEffectivePolicyMergesOverride(t *testing.T) {
	defaults := DefaultResourcePolicy()
	override := ResourcePolicy{MemoryLimitBytes: 1024}
	pc := PluginConfig{Enabled: true, Policy: &override}
	got := pc.effectivePolicy(defaults)
	if got.MemoryLimitBytes != 1024 {
		t.Fatalf("expected overridden memory limit, got %d", got.MemoryLimitBytes)
	}
	if got.InstructionLimit != defaults.InstructionLimit {
		t.Fatalf("expected instruction limit to fall back to default, got %d", got.InstructionLimit)
	}
}

func TestCloneConfigCopiesMap(t *testing.T) {
	original := map[string]any{"key": "value"}
	clone := cloneConfig(original)
	clone["key"] = "changed"
	if original["key"] != "value" {
		t.Fatalf("expected original map untouched, got %v", original)
	}
}

func TestCloneConfigHandlesNil(t *testing.T) {
	clone := cloneConfig(nil)
	if clone == nil {
		t.Fatal("expected a non-nil empty map")
	}
	if len(clone) != 0 {
		t.Fatalf("expected empty map, got %v", clone)
	}
}
