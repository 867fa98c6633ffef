package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"wasmkernel/internal/bridge"
	kerrors "wasmkernel/internal/errors"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/logger"
)

// managedInstance is one loaded plugin: its sandbox, its declared metadata,
// and enough bookkeeping to reload it after a trap without re-discovering
// anything from disk.
type managedInstance struct {
	mu         sync.Mutex
	handle     Handle
	pluginID   string
	path       string
	instance   Instance
	info       Info
	status     Status
	config     map[string]any
	policy     ResourcePolicy
	faultCount int
}

// Manager owns the arena of loaded plugin instances and drives their
// lifecycle. Every method that touches a specific instance locks that
// instance's own mutex, so one plugin's activation never blocks another's.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*managedInstance
	byHandle   map[Handle]*managedInstance
	nextHandle uint64

	loader   Loader
	bridge   *bridge.Bridge
	governor Governor
	defaults ResourcePolicy
	log      *slog.Logger
	store    *store.Store

	registerQueue   func(pluginID string)
	unregisterQueue func(pluginID string)
}

// NewManager constructs a Manager backed by br for host calls. The default
// loader compiles real .wasm modules with wasmer-go; tests override it
// with WithLoader.
func NewManager(cfg ManagerConfig, br *bridge.Bridge, opts ...Option) *Manager {
	m := &Manager{
		byID:     make(map[string]*managedInstance),
		byHandle: make(map[Handle]*managedInstance),
		loader:   NewWasmLoader(),
		bridge:   br,
		governor: NoopGovernor{},
		defaults: cfg.Defaults,
		log:      logger.Named("plugin"),
	}
	if m.defaults == (ResourcePolicy{}) {
		m.defaults = DefaultResourcePolicy()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAll loads every enabled plugin named in cfg.Plugins, resolving
// relative paths against cfg.PluginDir. A single plugin's load failure is
// logged and skipped rather than aborting the rest.
func (m *Manager) LoadAll(ctx context.Context, cfg ManagerConfig) {
	for pluginID, pc := range cfg.Plugins {
		if !pc.Enabled {
			continue
		}
		path := pluginID
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.PluginDir, path+".wasm")
		}
		policy := pc.effectivePolicy(m.defaults)
		if _, err := m.Load(ctx, path, cloneConfig(pc.Config), policy); err != nil {
			m.log.Error("failed to load configured plugin", "plugin_id", pluginID, "path", path, "error", err)
		}
	}
}

// Load compiles and activates the module at path, running its initialize
// export with config. The plugin's own declared PluginId (via its
// metadata export) wins over the filename-derived default.
func (m *Manager) Load(ctx context.Context, path string, config map[string]any, policy ResourcePolicy) (Handle, error) {
	callerID := DefaultPluginID(path)
	calls := m.bridge.ForCaller(callerID)
	inst, err := m.loader.Load(path, callerID, calls, policy)
	if err != nil {
		return 0, err
	}

	info, err := inst.Metadata()
	if err != nil {
		_ = inst.Close()
		return 0, err
	}
	pluginID := info.PluginID
	if pluginID == "" {
		pluginID = callerID
	}
	if pluginID != callerID {
		// The module declared its own PluginId; every host call it makes
		// from here on must be namespaced under that id, not the
		// filename-derived default the first instantiation used.
		_ = inst.Close()
		inst, err = m.loader.Load(path, pluginID, m.bridge.ForCaller(pluginID), policy)
		if err != nil {
			return 0, err
		}
	}
	if err := m.governor.Validate(info, policy); err != nil {
		_ = inst.Close()
		return 0, kerrors.Wrap(CodeAbiMismatch, err, "resource policy rejected")
	}

	m.mu.Lock()
	if _, exists := m.byID[pluginID]; exists {
		m.mu.Unlock()
		_ = inst.Close()
		return 0, kerrors.New(CodeLoadFailed, fmt.Sprintf("plugin %s already loaded", pluginID))
	}
	handle := Handle(atomic.AddUint64(&m.nextHandle, 1))
	mi := &managedInstance{
		handle:   handle,
		pluginID: pluginID,
		path:     path,
		instance: inst,
		info:     info,
		status:   StatusUninitialized,
		config:   cloneConfig(config),
		policy:   policy,
	}
	m.byID[pluginID] = mi
	m.byHandle[handle] = mi
	m.mu.Unlock()

	if err := m.governor.Prepare(info); err != nil {
		m.removeLocked(mi)
		_ = inst.Close()
		return 0, kerrors.Wrap(CodeLoadFailed, err, "prepare isolation")
	}

	mi.mu.Lock()
	initErr := mi.instance.Initialize(ctx, mi.config)
	if initErr == nil {
		mi.status = StatusRunning
	} else {
		mi.status = StatusError
	}
	mi.mu.Unlock()

	if initErr != nil {
		m.removeLocked(mi)
		_ = inst.Close()
		return 0, initErr
	}

	m.recordAndRestore(ctx, mi)

	if m.registerQueue != nil {
		m.registerQueue(pluginID)
	}
	m.log.Info("plugin loaded", "plugin_id", pluginID, "handle", handle, "path", path)
	return handle, nil
}

// recordAndRestore upserts pid's plugin_metadata row and replays any
// subscriptions the store remembers from before this load, so a reload (or
// a kernel restart) brings a plugin's subscription set back rather than
// leaving it to re-subscribe from scratch.
func (m *Manager) recordAndRestore(ctx context.Context, mi *managedInstance) {
	if m.store == nil {
		return
	}
	now := uint64(time.Now().UnixMilli())
	cfg, err := json.Marshal(mi.config)
	if err != nil {
		cfg = []byte("{}")
	}
	rec := store.PluginRecord{
		PluginID:    mi.pluginID,
		Name:        mi.info.Name,
		Version:     mi.info.Version,
		Description: mi.info.Description,
		Author:      mi.info.Author,
		Enabled:     true,
		LoadedAt:    now,
		LastActive:  now,
		Config:      json.RawMessage(cfg),
	}
	if err := m.store.RecordPlugin(ctx, rec); err != nil {
		m.log.Warn("failed to record plugin metadata", "plugin_id", mi.pluginID, "error", err)
	}

	topics, err := m.store.Subscriptions(ctx, mi.pluginID)
	if err != nil {
		m.log.Warn("failed to load stored subscriptions", "plugin_id", mi.pluginID, "error", err)
		return
	}
	if len(topics) == 0 {
		return
	}
	calls := m.bridge.ForCaller(mi.pluginID)
	for _, topic := range topics {
		if err := calls.SubscribeTopic(ctx, topic); err != nil {
			m.log.Warn("failed to restore subscription", "plugin_id", mi.pluginID, "topic", topic, "error", err)
		}
	}
}

// Deliver routes payload into the named plugin's handle_message export.
// A trap during delivery triggers one reload attempt before the plugin is
// parked in StatusError.
func (m *Manager) Deliver(ctx context.Context, pluginID string, payload []byte) error {
	mi, err := m.get(pluginID)
	if err != nil {
		return err
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.status == StatusPaused {
		return kerrors.New(CodePaused, fmt.Sprintf("plugin %s is paused", pluginID))
	}
	if mi.status != StatusRunning {
		return kerrors.New(CodeNotRegistered, fmt.Sprintf("plugin %s is not running", pluginID))
	}
	if err := mi.instance.HandleMessage(ctx, payload); err != nil {
		return m.handleFaultLocked(ctx, mi, err)
	}
	m.touch(ctx, pluginID)
	return nil
}

// touch records that pid was just active, best-effort: a failure here
// never fails the call that triggered it.
func (m *Manager) touch(ctx context.Context, pid string) {
	if m.store == nil {
		return
	}
	if err := m.store.TouchPlugin(ctx, pid); err != nil {
		m.log.Warn("failed to record plugin activity", "plugin_id", pid, "error", err)
	}
}

// Invoke calls export on the named plugin directly, for control-plane
// requests outside the normal message-delivery path. It participates in
// the same fault-isolation path as Deliver.
func (m *Manager) Invoke(ctx context.Context, pluginID, export string, payload []byte) ([]byte, error) {
	mi, err := m.get(pluginID)
	if err != nil {
		return nil, err
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.status == StatusPaused {
		return nil, kerrors.New(CodePaused, fmt.Sprintf("plugin %s is paused", pluginID))
	}
	if mi.status != StatusRunning {
		return nil, kerrors.New(CodeNotRegistered, fmt.Sprintf("plugin %s is not running", pluginID))
	}
	out, err := mi.instance.Invoke(ctx, export, payload)
	if err != nil && kerrors.CodeOf(err) == CodeCrashed {
		return nil, m.handleFaultLocked(ctx, mi, err)
	}
	if err == nil {
		m.touch(ctx, pluginID)
	}
	return out, err
}

// Tick invokes every running plugin's tick export once. Plugins without
// one are skipped without error by the Instance implementation itself.
func (m *Manager) Tick(ctx context.Context) {
	for _, mi := range m.snapshot() {
		mi.mu.Lock()
		if mi.status == StatusRunning {
			if err := mi.instance.Tick(ctx); err != nil {
				m.log.Warn("plugin tick failed", "plugin_id", mi.pluginID, "error", err)
			}
		}
		mi.mu.Unlock()
	}
}

// handleFaultLocked is called with mi.mu held. It attempts exactly one
// reload from the plugin's original path before giving up.
func (m *Manager) handleFaultLocked(ctx context.Context, mi *managedInstance, cause error) error {
	mi.faultCount++
	m.log.Warn("plugin activation trapped", "plugin_id", mi.pluginID, "attempt", mi.faultCount, "error", cause)
	if mi.faultCount > 1 {
		mi.status = StatusError
		return cause
	}
	_ = mi.instance.Close()
	calls := m.bridge.ForCaller(mi.pluginID)
	fresh, err := m.loader.Load(mi.path, mi.pluginID, calls, mi.policy)
	if err != nil {
		mi.status = StatusError
		return cause
	}
	if err := fresh.Initialize(ctx, mi.config); err != nil {
		_ = fresh.Close()
		mi.status = StatusError
		return cause
	}
	mi.instance = fresh
	mi.status = StatusRunning
	m.log.Info("plugin reloaded after trap", "plugin_id", mi.pluginID)
	return cause
}

// Reload unloads and reloads pluginID from its original path and
// configuration, for an operator-requested reload rather than the
// automatic one-shot reload handleFaultLocked performs after a trap.
func (m *Manager) Reload(ctx context.Context, pluginID string) (Handle, error) {
	mi, err := m.get(pluginID)
	if err != nil {
		return 0, err
	}
	mi.mu.Lock()
	path, config, policy := mi.path, mi.config, mi.policy
	mi.mu.Unlock()

	if err := m.unload(ctx, pluginID, false); err != nil {
		return 0, err
	}
	return m.Load(ctx, path, config, policy)
}

// Pause moves a running plugin to StatusPaused. A paused plugin keeps its
// sandbox, arena slot and subscriptions, but Deliver and Invoke refuse
// activations until Resume is called.
func (m *Manager) Pause(pluginID string) error {
	mi, err := m.get(pluginID)
	if err != nil {
		return err
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.status != StatusRunning {
		return kerrors.New(CodeNotRegistered, fmt.Sprintf("plugin %s is not running", pluginID))
	}
	mi.status = StatusPaused
	m.log.Info("plugin paused", "plugin_id", pluginID)
	return nil
}

// Resume moves a paused plugin back to StatusRunning.
func (m *Manager) Resume(pluginID string) error {
	mi, err := m.get(pluginID)
	if err != nil {
		return err
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.status != StatusPaused {
		return kerrors.New(CodeNotRegistered, fmt.Sprintf("plugin %s is not paused", pluginID))
	}
	mi.status = StatusRunning
	m.log.Info("plugin resumed", "plugin_id", pluginID)
	return nil
}

// Unload shuts the plugin down cleanly, closes its sandbox, removes it
// from the arena, and drops its stored subscriptions for good. Use Reload
// instead when the subscription set should survive the restart.
func (m *Manager) Unload(ctx context.Context, pluginID string) error {
	return m.unload(ctx, pluginID, true)
}

func (m *Manager) unload(ctx context.Context, pluginID string, forgetSubscriptions bool) error {
	mi, err := m.get(pluginID)
	if err != nil {
		return err
	}
	mi.mu.Lock()
	if mi.status == StatusRunning || mi.status == StatusPaused {
		if err := mi.instance.Shutdown(ctx); err != nil {
			m.log.Warn("plugin shutdown returned an error", "plugin_id", pluginID, "error", err)
		}
	}
	mi.status = StatusStopped
	_ = mi.instance.Close()
	mi.mu.Unlock()

	m.removeLocked(mi)
	if m.unregisterQueue != nil {
		m.unregisterQueue(pluginID)
	}
	if forgetSubscriptions && m.store != nil {
		if err := m.store.ForgetAllSubscriptions(ctx, pluginID); err != nil {
			m.log.Warn("failed to forget subscriptions", "plugin_id", pluginID, "error", err)
		}
	}
	m.log.Info("plugin unloaded", "plugin_id", pluginID)
	return nil
}

// UnloadAll shuts down every loaded plugin, continuing past individual
// failures so a stuck plugin cannot block the others during shutdown.
func (m *Manager) UnloadAll(ctx context.Context) {
	for _, mi := range m.snapshot() {
		if err := m.Unload(ctx, mi.pluginID); err != nil {
			m.log.Error("failed to unload plugin during shutdown", "plugin_id", mi.pluginID, "error", err)
		}
	}
}

// StatusOf returns the lifecycle status of a loaded plugin.
func (m *Manager) StatusOf(pluginID string) (Status, error) {
	mi, err := m.get(pluginID)
	if err != nil {
		return "", err
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.status, nil
}

// HandleOf returns the arena handle for a loaded plugin.
func (m *Manager) HandleOf(pluginID string) (Handle, bool) {
	mi, err := m.get(pluginID)
	if err != nil {
		return 0, false
	}
	return mi.handle, true
}

// List returns the declared metadata of every loaded plugin.
func (m *Manager) List() []Info {
	out := make([]Info, 0)
	for _, mi := range m.snapshot() {
		out = append(out, mi.info)
	}
	return out
}

// SetQueueRegistrar wires the bus registration hooks after construction,
// for callers that need the Manager itself to build the registrar (e.g. a
// message router keyed off the Manager's own Deliver method).
func (m *Manager) SetQueueRegistrar(register, unregister func(pluginID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerQueue = register
	m.unregisterQueue = unregister
}

func (m *Manager) get(pluginID string) (*managedInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.byID[pluginID]
	if !ok {
		return nil, kerrors.New(CodeNotRegistered, fmt.Sprintf("plugin %s not registered", pluginID))
	}
	return mi, nil
}

func (m *Manager) snapshot() []*managedInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*managedInstance, 0, len(m.byID))
	for _, mi := range m.byID {
		out = append(out, mi)
	}
	return out
}

func (m *Manager) removeLocked(mi *managedInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, mi.pluginID)
	delete(m.byHandle, mi.handle)
}
