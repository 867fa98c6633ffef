package plugin

import (
	"context"

	"wasmkernel/internal/store"
)

// Instance is the fixed export interface for one running plugin; the
// Manager dispatches through it. The wasmer-backed implementation looks
// each export up by name on every call rather than resolving them at load.
type Instance interface {
	// Metadata returns the plugin's declared name, version, description,
	// author, tags, and dependency list.
	Metadata() (Info, error)
	// Initialize prepares the plugin for use. Its absence is fatal at load.
	Initialize(ctx context.Context, config map[string]any) error
	// HandleMessage delivers a routed message. Its absence is fatal on
	// first delivery.
	HandleMessage(ctx context.Context, payload []byte) error
	// Tick is invoked periodically. Plugins that do not export it treat
	// the call as a successful no-op.
	Tick(ctx context.Context) error
	// Shutdown releases plugin-held resources before unload.
	Shutdown(ctx context.Context) error
	// HealthCheck returns an opaque, plugin-defined health payload.
	HealthCheck(ctx context.Context) ([]byte, error)
	// GetStats returns an opaque, plugin-defined statistics payload.
	GetStats(ctx context.Context) ([]byte, error)
	// Invoke calls an arbitrary named export, for control-plane-driven
	// calls that are not part of the fixed lifecycle surface above.
	Invoke(ctx context.Context, export string, payload []byte) ([]byte, error)
	// Close tears down the sandbox. Called once, after Shutdown or after a
	// trap, never concurrently with any other method.
	Close() error
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLoader overrides the default wasmer-go-backed loader, the seam
// tests use to inject a fake loader instead of compiling real .wasm
// binaries.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithResourcePolicy overrides the default resource policy applied to
// plugins that do not declare their own.
func WithResourcePolicy(policy ResourcePolicy) Option {
	return func(m *Manager) {
		m.defaults = policy
	}
}

// WithQueueRegistrar lets the manager notify the bus when a plugin is
// loaded or unloaded, without the plugin package importing bus directly.
func WithQueueRegistrar(register func(pluginID string), unregister func(pluginID string)) Option {
	return func(m *Manager) {
		m.registerQueue = register
		m.unregisterQueue = unregister
	}
}

// WithGovernor overrides the default no-op resource governor.
func WithGovernor(governor Governor) Option {
	return func(m *Manager) {
		m.governor = NewGovernor(governor)
	}
}

// WithStore gives the manager a Store so it can persist plugin_metadata
// rows and restore a plugin's topic subscriptions across a reload. Without
// it, Load/Unload/Reload operate purely in memory.
func WithStore(s *store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}
