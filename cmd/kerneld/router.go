package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wasmkernel/internal/bus"
	"wasmkernel/internal/control"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/logger"
	"wasmkernel/pkg/plugin"
)

// router drains each registered plugin's bus inbox and hands messages to
// the runtime's handle_message export, persisting a message_log row and
// fanning the traffic out to connected dashboards. It is the glue the
// manager's WithQueueRegistrar hook expects: one pump goroutine per
// plugin, started on load and stopped on unload.
type router struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	manager    *plugin.Manager
	bus        *bus.Bus
	store      *store.Store
	hub        *control.Hub
	dispatcher *control.Dispatcher
	log        *slog.Logger
}

func newRouter(manager *plugin.Manager, b *bus.Bus, s *store.Store, hub *control.Hub, dispatcher *control.Dispatcher) *router {
	return &router{
		cancels:    make(map[string]context.CancelFunc),
		manager:    manager,
		bus:        b,
		store:      s,
		hub:        hub,
		dispatcher: dispatcher,
		log:        logger.Named("router"),
	}
}

// register starts a pump for pluginID, first registering its inbox with
// the bus. Calling it twice for the same id is a no-op.
func (r *router) register(pluginID string) {
	r.bus.RegisterPlugin(pluginID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cancels[pluginID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[pluginID] = cancel
	go r.pump(ctx, pluginID)
}

// unregister stops pluginID's pump and removes its inbox from the bus.
func (r *router) unregister(pluginID string) {
	r.mu.Lock()
	cancel, exists := r.cancels[pluginID]
	delete(r.cancels, pluginID)
	r.mu.Unlock()
	if exists {
		cancel()
	}
	r.bus.UnregisterPlugin(pluginID)
}

func (r *router) pump(ctx context.Context, pluginID string) {
	for {
		msg, err := r.bus.Receive(ctx, pluginID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("receive failed", "plugin_id", pluginID, "error", err)
			continue
		}

		status := "delivered"
		if err := r.manager.Deliver(ctx, pluginID, msg.Payload); err != nil {
			status = "failed"
			r.log.Warn("delivery failed", "plugin_id", pluginID, "to", msg.To, "topic", msg.Topic, "error", err)
		}

		deliveredAt := uint64(time.Now().UnixMilli())
		if err := r.store.RecordMessage(ctx, msg.ID, msg.From, msg.To, msg.Topic, msg.Payload, status, msg.CreatedAt, &deliveredAt); err != nil {
			r.log.Warn("record message failed", "message_id", msg.ID, "error", err)
		}

		r.hub.BroadcastKernelMessage(msg.From, msg.To, msg.Topic)
		r.dispatcher.NotifyMessage(msg.Topic, msg.From, msg.To)
	}
}
