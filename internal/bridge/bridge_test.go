package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"wasmkernel/internal/bus"
	"wasmkernel/internal/store"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kernel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	b := bus.New()
	return New(s, b)
}

func TestStoreDataIsNamespacedByCaller(t *testing.T) {
	br := newTestBridge(t)
	writer := br.ForCaller("writer")
	reader := br.ForCaller("reader")
	ctx := context.Background()

	if err := writer.StoreData(ctx, "counter", json.RawMessage(`1`)); err != nil {
		t.Fatalf("store_data: %v", err)
	}

	value, ok, err := writer.GetData(ctx, "counter")
	if err != nil || !ok || string(value) != "1" {
		t.Fatalf("writer get_data: value=%s ok=%v err=%v", value, ok, err)
	}

	if _, ok, err := reader.GetData(ctx, "counter"); err != nil || ok {
		t.Fatalf("reader should not see writer's namespace: ok=%v err=%v", ok, err)
	}
}

func TestSendMessageForcesFromToCaller(t *testing.T) {
	br := newTestBridge(t)
	br.bus.RegisterPlugin("echo")
	sender := br.ForCaller("pinger")
	ctx := context.Background()

	if err := sender.SendMessage(ctx, "echo", json.RawMessage(`{"n":1}`), bus.PriorityNormal, 0); err != nil {
		t.Fatalf("send_message: %v", err)
	}

	msg, err := br.bus.Receive(ctx, "echo")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.From != "pinger" {
		t.Fatalf("expected from=pinger forced by the bridge, got %s", msg.From)
	}
}

func TestSubscribeTopicPersistsAndRoutes(t *testing.T) {
	br := newTestBridge(t)
	br.bus.RegisterPlugin("echo")
	echo := br.ForCaller("echo")
	ctx := context.Background()

	if err := echo.SubscribeTopic(ctx, "ping"); err != nil {
		t.Fatalf("subscribe_topic: %v", err)
	}

	topics, err := br.store.Subscriptions(ctx, "echo")
	if err != nil || len(topics) != 1 || topics[0] != "ping" {
		t.Fatalf("expected persisted subscription, got %v err=%v", topics, err)
	}

	pinger := br.ForCaller("pinger")
	if err := pinger.PublishMessage(ctx, "ping", json.RawMessage(`{}`), bus.PriorityNormal, 0); err != nil {
		t.Fatalf("publish_message: %v", err)
	}

	msg, err := br.bus.Receive(ctx, "echo")
	if err != nil || msg.From != "pinger" {
		t.Fatalf("expected echo to receive pinger's publish, got %+v err=%v", msg, err)
	}

	if err := echo.UnsubscribeTopic(ctx, "ping"); err != nil {
		t.Fatalf("unsubscribe_topic: %v", err)
	}
	topics, err = br.store.Subscriptions(ctx, "echo")
	if err != nil || len(topics) != 0 {
		t.Fatalf("expected subscription removed, got %v err=%v", topics, err)
	}
}
