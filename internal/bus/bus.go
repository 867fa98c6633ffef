// Package bus is the kernel's in-process asynchronous router: direct
// plugin-to-plugin delivery and topic-based publish/subscribe over bounded
// per-plugin queues.
package bus

import (
	"context"
	"sync"
	"time"

	kerrors "wasmkernel/internal/errors"
)

// DefaultQueueCapacity is the per-plugin inbound queue size used when a
// caller does not override it.
const DefaultQueueCapacity = 256

// DefaultBlockDeadline bounds how long a Low/Normal send waits for queue
// space before it is dropped with QueueFull.
const DefaultBlockDeadline = 5 * time.Second

// Bus is an in-process, at-most-once message router. It holds no
// references to plugin instances or the runtime, only PluginIds and
// bounded queues, breaking the Plugin↔Bus↔Runtime reference cycle.
type Bus struct {
	mu            sync.RWMutex
	inboxes       map[string]*inbox
	subs          *subscriptions
	queueCapacity int
	blockDeadline time.Duration
}

// New constructs a ready-to-use Bus.
func New() *Bus {
	return &Bus{
		inboxes:       make(map[string]*inbox),
		subs:          newSubscriptions(),
		queueCapacity: DefaultQueueCapacity,
		blockDeadline: DefaultBlockDeadline,
	}
}

// WithQueueCapacity overrides the per-plugin inbound queue size for
// subsequently registered plugins.
func (b *Bus) WithQueueCapacity(capacity int) *Bus {
	b.queueCapacity = capacity
	return b
}

// WithBlockDeadline overrides how long Low/Normal sends wait for space.
func (b *Bus) WithBlockDeadline(d time.Duration) *Bus {
	b.blockDeadline = d
	return b
}

// RegisterPlugin creates pluginID's inbound queue. Called by the runtime
// when a plugin is loaded.
func (b *Bus) RegisterPlugin(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[pluginID]; ok {
		return
	}
	b.inboxes[pluginID] = newInbox(b.queueCapacity)
}

// UnregisterPlugin closes pluginID's inbound queue and drops its
// subscriptions. Called by the runtime on unload.
func (b *Bus) UnregisterPlugin(pluginID string) {
	b.mu.Lock()
	box, ok := b.inboxes[pluginID]
	delete(b.inboxes, pluginID)
	b.mu.Unlock()
	if ok {
		box.close()
	}
	b.subs.removeAllFor(pluginID)
}

// Subscribe records that pluginID wants messages published on topic. It
// takes effect immediately for subsequently published messages.
func (b *Bus) Subscribe(pluginID, topic string) {
	b.subs.add(pluginID, topic)
}

// Unsubscribe removes pluginID's subscription to topic. In-flight messages
// already queued for pluginID are still delivered.
func (b *Bus) Unsubscribe(pluginID, topic string) {
	b.subs.remove(pluginID, topic)
}

// SubscribersOf returns a snapshot of who is currently subscribed to topic.
func (b *Bus) SubscribersOf(topic string) []string {
	return b.subs.subscribersOf(topic)
}

func (b *Bus) inboxFor(pluginID string) (*inbox, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	box, ok := b.inboxes[pluginID]
	return box, ok
}

// Send delivers msg directly to msg.To. It blocks according to the
// priority backpressure policy in §4.5.
func (b *Bus) Send(ctx context.Context, msg *Message) error {
	if msg.Expired(nowMillis()) {
		return kerrors.New(CodeMessageExpired, "message expired before delivery")
	}
	box, ok := b.inboxFor(msg.To)
	if !ok {
		return kerrors.New(CodeNoSuchPlugin, "no such plugin: "+msg.To)
	}
	return box.enqueue(ctx, msg, b.blockDeadline)
}

// Publish delivers msg to every plugin currently subscribed to msg.Topic,
// or, if the topic is the broadcast topic, to every plugin subscribed to
// at least one topic.
// Delivery to each subscriber independently applies the backpressure
// policy; a failure to deliver to one subscriber does not block delivery
// to the others.
func (b *Bus) Publish(ctx context.Context, msg *Message) map[string]error {
	if msg.Expired(nowMillis()) {
		return map[string]error{"": kerrors.New(CodeMessageExpired, "message expired before delivery")}
	}

	var targets []string
	if msg.Topic == BroadcastTopic {
		targets = b.subs.allSubscribers()
	} else {
		targets = b.subs.subscribersOf(msg.Topic)
	}

	results := make(map[string]error, len(targets))
	for _, pluginID := range targets {
		box, ok := b.inboxFor(pluginID)
		if !ok {
			results[pluginID] = kerrors.New(CodeNoSuchPlugin, "no such plugin: "+pluginID)
			continue
		}
		copyMsg := *msg
		copyMsg.To = pluginID
		results[pluginID] = box.enqueue(ctx, &copyMsg, b.blockDeadline)
	}
	return results
}

// Receive blocks until a message is available for pluginID, the context
// is cancelled, or pluginID's queue is closed.
func (b *Bus) Receive(ctx context.Context, pluginID string) (*Message, error) {
	box, ok := b.inboxFor(pluginID)
	if !ok {
		return nil, kerrors.New(CodeNoSuchPlugin, "no such plugin: "+pluginID)
	}
	return box.dequeue(ctx)
}
