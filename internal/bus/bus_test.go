package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kerrors "wasmkernel/internal/errors"
)

func newTestMessage(from, to string, priority Priority) *Message {
	return &Message{
		ID: from + "->" + to, From: from, To: to,
		Payload: json.RawMessage(`{}`), Priority: priority, CreatedAt: nowMillis(),
	}
}

func TestDirectSendAndReceive(t *testing.T) {
	b := New()
	b.RegisterPlugin("pinger")
	b.RegisterPlugin("echo")

	msg := newTestMessage("pinger", "echo", PriorityNormal)
	if err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	received, err := b.Receive(context.Background(), "echo")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.From != "pinger" || received.To != "echo" {
		t.Fatalf("unexpected message %+v", received)
	}
}

func TestSendToUnknownPluginFails(t *testing.T) {
	b := New()
	err := b.Send(context.Background(), newTestMessage("a", "ghost", PriorityNormal))
	if kerrors.CodeOf(err) != CodeNoSuchPlugin {
		t.Fatalf("expected CodeNoSuchPlugin, got %v", err)
	}
}

func TestPublishDeliversOnlyToSubscribers(t *testing.T) {
	b := New()
	b.RegisterPlugin("echo")
	b.RegisterPlugin("bystander")
	b.Subscribe("echo", "ping")

	results := b.Publish(context.Background(), &Message{
		ID: "1", From: "pinger", Topic: "ping", Priority: PriorityNormal,
		Payload: json.RawMessage(`1`), CreatedAt: nowMillis(),
	})
	if err, ok := results["echo"]; !ok || err != nil {
		t.Fatalf("expected echo to receive, got %v", results)
	}
	if _, ok := results["bystander"]; ok {
		t.Fatalf("bystander should not have been targeted: %v", results)
	}

	msg, err := b.Receive(context.Background(), "echo")
	if err != nil || msg.From != "pinger" {
		t.Fatalf("echo receive: msg=%+v err=%v", msg, err)
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	b := New()
	b.RegisterPlugin("echo")
	b.Subscribe("echo", "ping")
	b.Unsubscribe("echo", "ping")

	results := b.Publish(context.Background(), &Message{
		ID: "1", From: "pinger", Topic: "ping", Priority: PriorityNormal,
		Payload: json.RawMessage(`1`), CreatedAt: nowMillis(),
	})
	if _, ok := results["echo"]; ok {
		t.Fatalf("unsubscribed plugin should not be targeted: %v", results)
	}
}

func TestExpiredMessageIsNotDelivered(t *testing.T) {
	b := New()
	b.RegisterPlugin("echo")
	past := nowMillis() - 1000
	err := b.Send(context.Background(), &Message{
		ID: "1", From: "a", To: "echo", Priority: PriorityNormal,
		Payload: json.RawMessage(`1`), CreatedAt: past - 10, ExpiresAt: &past,
	})
	if kerrors.CodeOf(err) != CodeMessageExpired {
		t.Fatalf("expected CodeMessageExpired, got %v", err)
	}
}

func TestFIFOPerSenderReceiverPair(t *testing.T) {
	b := New()
	b.RegisterPlugin("r")
	for i := 0; i < 5; i++ {
		msg := newTestMessage("s", "r", PriorityNormal)
		msg.ID = string(rune('a' + i))
		if err := b.Send(context.Background(), msg); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		msg, err := b.Receive(context.Background(), "r")
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if msg.ID != string(rune('a'+i)) {
			t.Fatalf("expected FIFO order, got %s at position %d", msg.ID, i)
		}
	}
}

func TestCriticalEvictsOldestLow(t *testing.T) {
	b := New().WithQueueCapacity(1)
	b.RegisterPlugin("r")

	low := newTestMessage("low-sender", "r", PriorityLow)
	if err := b.Send(context.Background(), low); err != nil {
		t.Fatalf("send low: %v", err)
	}

	critical := newTestMessage("critical-sender", "r", PriorityCritical)
	if err := b.Send(context.Background(), critical); err != nil {
		t.Fatalf("send critical: %v", err)
	}

	received, err := b.Receive(context.Background(), "r")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.From != "critical-sender" {
		t.Fatalf("expected the critical message to have evicted the low one, got from=%s", received.From)
	}
}

func TestLowDropsWithQueueFullAfterDeadline(t *testing.T) {
	b := New().WithQueueCapacity(1).WithBlockDeadline(30 * time.Millisecond)
	b.RegisterPlugin("r")

	first := newTestMessage("a", "r", PriorityNormal)
	if err := b.Send(context.Background(), first); err != nil {
		t.Fatalf("send first: %v", err)
	}

	second := newTestMessage("b", "r", PriorityLow)
	err := b.Send(context.Background(), second)
	if kerrors.CodeOf(err) != CodeQueueFull {
		t.Fatalf("expected CodeQueueFull, got %v", err)
	}
}

func TestCancellationAbortsHighPriorityWait(t *testing.T) {
	b := New().WithQueueCapacity(1)
	b.RegisterPlugin("r")

	first := newTestMessage("a", "r", PriorityNormal)
	if err := b.Send(context.Background(), first); err != nil {
		t.Fatalf("send first: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	second := newTestMessage("b", "r", PriorityHigh)
	err := b.Send(ctx, second)
	if kerrors.CodeOf(err) != CodeCancelled {
		t.Fatalf("expected CodeCancelled, got %v", err)
	}
}

func TestUnregisterClosesQueue(t *testing.T) {
	b := New()
	b.RegisterPlugin("p")
	b.Subscribe("p", "t")
	b.UnregisterPlugin("p")

	err := b.Send(context.Background(), newTestMessage("a", "p", PriorityNormal))
	if kerrors.CodeOf(err) != CodeNoSuchPlugin {
		t.Fatalf("expected CodeNoSuchPlugin after unregister, got %v", err)
	}
	if subs := b.SubscribersOf("t"); len(subs) != 0 {
		t.Fatalf("expected subscriptions dropped on unregister, got %v", subs)
	}
}
