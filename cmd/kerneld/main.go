package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wasmkernel/internal/bridge"
	"wasmkernel/internal/bus"
	"wasmkernel/internal/config"
	"wasmkernel/internal/control"
	"wasmkernel/internal/identity"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/logger"
	"wasmkernel/pkg/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	configPath := os.Getenv("KERNEL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "kernel.toml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("kerneld: config error: %v", err)
		return 1
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Printf("kerneld: logger init failed: %v", err)
		return 1
	}
	log := logger.Named("kerneld")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("create data dir", "error", err)
		return 1
	}
	if err := os.MkdirAll(cfg.PluginDir, 0o755); err != nil {
		log.Error("create plugin dir", "error", err)
		return 1
	}

	material, err := identity.Acquire(ctx, &cfg.Identity, cfg.DataDir)
	if err != nil {
		log.Error("identity acquisition failed", "error", err)
		return 2
	}
	log.Info("identity acquired", "address", material.Address().Hex())

	st, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		log.Error("store open failed", "error", err)
		return 3
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()

	messageBus := bus.New()
	br := bridge.New(st, messageBus)

	layouts, err := control.NewLayoutStore(filepath.Join(cfg.DataDir, "layouts"))
	if err != nil {
		log.Error("layout store init failed", "error", err)
		return 4
	}
	hub := control.NewHub()

	manager := plugin.NewManager(
		plugin.ManagerConfig{PluginDir: cfg.PluginDir, Defaults: plugin.DefaultResourcePolicy()},
		br,
		plugin.WithStore(st),
	)
	dispatcher := control.NewDispatcher(manager, messageBus, st, layouts, hub)
	msgRouter := newRouter(manager, messageBus, st, hub, dispatcher)
	manager.SetQueueRegistrar(msgRouter.register, msgRouter.unregister)

	loadConfiguredPlugins(ctx, manager, cfg)

	server := control.NewServer(cfg.Listen, dispatcher, hub)

	tickCtx, cancelTick := context.WithCancel(ctx)
	defer cancelTick()
	go runTickLoop(tickCtx, manager, hub)

	log.Info("kerneld listening", "addr", cfg.Listen)
	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("control server exited", "error", err)
		return 4
	}

	manager.UnloadAll(context.Background())
	log.Info("kerneld shut down cleanly")
	return 0
}

// loadConfiguredPlugins scans cfg.PluginDir for candidate WASM modules and
// loads every one that has no [plugins] entry or whose entry sets
// enabled = true; an entry that omits enabled counts as disabled. A single
// plugin's load failure is logged by the manager and does not abort the
// rest.
func loadConfiguredPlugins(ctx context.Context, manager *plugin.Manager, cfg *config.Config) {
	paths, err := plugin.Discover(cfg.PluginDir)
	if err != nil {
		logger.Named("kerneld").Warn("plugin discovery failed", "dir", cfg.PluginDir, "error", err)
		return
	}

	managed := plugin.ManagerConfig{
		PluginDir: cfg.PluginDir,
		Defaults:  plugin.DefaultResourcePolicy(),
		Plugins:   make(map[string]plugin.PluginConfig, len(paths)),
	}
	for _, path := range paths {
		pluginID := plugin.DefaultPluginID(path)
		pc := cfg.PluginConfigFor(pluginID)
		managed.Plugins[pluginID] = plugin.PluginConfig{Enabled: pc.Enabled, Config: pc.Config}
	}
	manager.LoadAll(ctx, managed)
}

// runTickLoop drives every running plugin's optional tick() export once a
// second and fans out a system-stats snapshot to connected dashboards,
// until ctx is cancelled.
func runTickLoop(ctx context.Context, manager *plugin.Manager, hub *control.Hub) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	log := logger.Named("kerneld")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.Tick(ctx)

			infos := manager.List()
			running, errored := 0, 0
			for _, info := range infos {
				status, err := manager.StatusOf(info.PluginID)
				if err != nil {
					continue
				}
				switch status {
				case plugin.StatusRunning:
					running++
				case plugin.StatusError:
					errored++
				}
			}
			hub.BroadcastSystemStats(control.SystemStatsPayload{
				PluginsLoaded:  len(infos),
				PluginsRunning: running,
				PluginsErrored: errored,
			})
			log.Debug("tick", "loaded", len(infos), "running", running, "errored", errored)
		}
	}
}
