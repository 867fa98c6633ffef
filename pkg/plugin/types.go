package plugin

import "time"

// Status is the lifecycle position of a plugin instance. Transitions are
// driven exclusively by the runtime; plugins observe their status but
// cannot set it.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusRunning       Status = "running"
	StatusPaused        Status = "paused"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
)

// Handle is an opaque integer index into the runtime's arena of plugin
// instances. The Bus and control plane address plugins by PluginId; the
// arena is keyed by Handle to break the Plugin↔Bus↔Runtime reference
// cycle.
type Handle uint64

// Info is a plugin's declared metadata, read from its metadata() export
// when the Manager loads the plugin.
type Info struct {
	PluginID     string
	Name         string
	Version      string
	Description  string
	Author       string
	Tags         []string
	Dependencies []string
}

// ResourcePolicy names the memory, instruction and wall-clock bounds for a
// single activation. The Governor checks it at load (nonzero limits) and
// the loader stores it with the instance; the wasmer loader applies none
// of the three bounds to the sandbox, so exceeding them does not trap.
type ResourcePolicy struct {
	MemoryLimitBytes   uint64
	InstructionLimit   uint64
	ActivationDeadline time.Duration
}

// DefaultResourcePolicy returns the conservative defaults applied when a
// plugin's configuration does not override them.
func DefaultResourcePolicy() ResourcePolicy {
	return ResourcePolicy{
		MemoryLimitBytes:   64 * 1024 * 1024,
		InstructionLimit:   100_000_000,
		ActivationDeadline: 5 * time.Second,
	}
}

// Merge returns a policy using p's values, falling back to defaults for
// anything left at its zero value.
func (p ResourcePolicy) Merge(defaults ResourcePolicy) ResourcePolicy {
	if p.MemoryLimitBytes == 0 {
		p.MemoryLimitBytes = defaults.MemoryLimitBytes
	}
	if p.InstructionLimit == 0 {
		p.InstructionLimit = defaults.InstructionLimit
	}
	if p.ActivationDeadline == 0 {
		p.ActivationDeadline = defaults.ActivationDeadline
	}
	return p
}

// MaxPayloadBytes and MaxSubscriptionsPerPlugin resolve Open Question (1):
// conservative fixed constants since the source declares neither. No code
// path checks payloads or subscriptions against them.
const (
	MaxPayloadBytes           = 1 << 20 // 1 MiB
	MaxSubscriptionsPerPlugin = 128
)
