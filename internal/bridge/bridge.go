// Package bridge is the kernel's trust boundary: the only calls a
// sandboxed plugin may make back into the host. Every call is bound to a
// single caller PluginId at construction time, never supplied by the
// plugin, and never aborts the sandbox on a domain error.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wasmkernel/internal/bus"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/logger"
)

// Bridge wires the Store and Bus behind the `_host`-suffixed call set.
type Bridge struct {
	store *store.Store
	bus   *bus.Bus
	log   *slog.Logger
}

// New constructs a Bridge over store and bus.
func New(s *store.Store, b *bus.Bus) *Bridge {
	return &Bridge{store: s, bus: b, log: logger.Named("bridge")}
}

// Calls is the closure set bound to one caller PluginId. The runtime wires
// these into a plugin's WASM imports at load time; by binding the
// PluginId here instead of trusting a caller-supplied string, a plugin can
// never impersonate another plugin's identity.
type Calls struct {
	Log              func(level, message string)
	StoreData        func(ctx context.Context, key string, value json.RawMessage) error
	GetData          func(ctx context.Context, key string) (json.RawMessage, bool, error)
	DeleteData       func(ctx context.Context, key string) (bool, error)
	ListKeys         func(ctx context.Context) ([]string, error)
	SendMessage      func(ctx context.Context, to string, payload json.RawMessage, priority bus.Priority, ttl time.Duration) error
	PublishMessage   func(ctx context.Context, topic string, payload json.RawMessage, priority bus.Priority, ttl time.Duration) error
	SubscribeTopic   func(ctx context.Context, topic string) error
	UnsubscribeTopic func(ctx context.Context, topic string) error
}

// ForCaller returns the Calls bound to callerID. Every method closes over
// callerID so it is read from the runtime's activation, never from
// arguments the plugin controls.
func (b *Bridge) ForCaller(callerID string) Calls {
	return Calls{
		Log: func(level, message string) {
			b.log.Log(context.Background(), logLevel(level), message, "plugin_id", callerID)
		},
		StoreData: func(ctx context.Context, key string, value json.RawMessage) error {
			return b.store.Put(ctx, callerID, key, value)
		},
		GetData: func(ctx context.Context, key string) (json.RawMessage, bool, error) {
			return b.store.Get(ctx, callerID, key)
		},
		DeleteData: func(ctx context.Context, key string) (bool, error) {
			return b.store.Delete(ctx, callerID, key)
		},
		ListKeys: func(ctx context.Context) ([]string, error) {
			return b.store.ListKeys(ctx, callerID)
		},
		SendMessage: func(ctx context.Context, to string, payload json.RawMessage, priority bus.Priority, ttl time.Duration) error {
			msg := newMessage(callerID, to, "", payload, priority, ttl)
			return b.bus.Send(ctx, msg)
		},
		PublishMessage: func(ctx context.Context, topic string, payload json.RawMessage, priority bus.Priority, ttl time.Duration) error {
			msg := newMessage(callerID, "", topic, payload, priority, ttl)
			results := b.bus.Publish(ctx, msg)
			for _, err := range results {
				if err != nil {
					return err
				}
			}
			return nil
		},
		SubscribeTopic: func(ctx context.Context, topic string) error {
			b.bus.Subscribe(callerID, topic)
			return b.store.RecordSubscription(ctx, callerID, topic)
		},
		UnsubscribeTopic: func(ctx context.Context, topic string) error {
			b.bus.Unsubscribe(callerID, topic)
			return b.store.ForgetSubscription(ctx, callerID, topic)
		},
	}
}

func newMessage(from, to, topic string, payload json.RawMessage, priority bus.Priority, ttl time.Duration) *bus.Message {
	if priority == "" {
		priority = bus.PriorityNormal
	}
	now := uint64(time.Now().UnixMilli())
	msg := &bus.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Topic:     topic,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now + uint64(ttl.Milliseconds())
		msg.ExpiresAt = &expires
	}
	return msg
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

