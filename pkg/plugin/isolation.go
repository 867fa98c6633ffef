package plugin

import "fmt"

// Governor is the seam for resource handling around a plugin, such as
// per-plugin temp directories or cgroup membership. The Manager calls
// Validate and Prepare at load; it does not call Cleanup. No memory or
// instruction limit is enforced during an activation.
type Governor interface {
	Validate(info Info, policy ResourcePolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopGovernor only rejects policies that would starve a plugin outright.
type NoopGovernor struct{}

func (NoopGovernor) Validate(_ Info, policy ResourcePolicy) error {
	if policy.MemoryLimitBytes == 0 {
		return fmt.Errorf("resource policy must declare a nonzero memory limit")
	}
	if policy.InstructionLimit == 0 {
		return fmt.Errorf("resource policy must declare a nonzero instruction limit")
	}
	return nil
}

func (NoopGovernor) Prepare(Info) error { return nil }

func (NoopGovernor) Cleanup(Info) error { return nil }

// NewGovernor returns governor if non-nil, otherwise the default.
func NewGovernor(governor Governor) Governor {
	if governor == nil {
		return NoopGovernor{}
	}
	return governor
}
