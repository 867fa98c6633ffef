package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	kerrors "wasmkernel/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "writer", "counter", json.RawMessage(`1`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, ok, err := s.Get(ctx, "writer", "counter")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(value) != "1" {
		t.Fatalf("expected 1, got %s", value)
	}
}

func TestPutOverwritesThenListAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "writer", "counter", json.RawMessage(`1`)); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := s.Put(ctx, "writer", "counter", json.RawMessage(`2`)); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	keys, err := s.ListKeys(ctx, "writer")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "counter" {
		t.Fatalf("expected [counter], got %v", keys)
	}

	value, ok, err := s.Get(ctx, "writer", "counter")
	if err != nil || !ok || string(value) != "2" {
		t.Fatalf("expected 2, got %s ok=%v err=%v", value, ok, err)
	}

	if _, ok, err := s.Get(ctx, "reader", "counter"); err != nil || ok {
		t.Fatalf("expected reader to see nothing, got ok=%v err=%v", ok, err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "p", "k", json.RawMessage(`"v"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	existed, err := s.Delete(ctx, "p", "k")
	if err != nil || !existed {
		t.Fatalf("first delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.Delete(ctx, "p", "k")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}

	if _, ok, err := s.Get(ctx, "p", "k"); err != nil || ok {
		t.Fatalf("expected deleted key absent, ok=%v err=%v", ok, err)
	}
}

func TestNamespaceIsolationAcrossPlugins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "alpha", "shared", json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("put alpha: %v", err)
	}
	if err := s.Put(ctx, "beta", "shared", json.RawMessage(`"b"`)); err != nil {
		t.Fatalf("put beta: %v", err)
	}

	a, _, _ := s.Get(ctx, "alpha", "shared")
	b, _, _ := s.Get(ctx, "beta", "shared")
	if string(a) != `"a"` || string(b) != `"b"` {
		t.Fatalf("expected isolated namespaces, got a=%s b=%s", a, b)
	}
}

func TestMaxLengthKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := strings.Repeat("k", 1024)

	if err := s.Put(ctx, "p", key, json.RawMessage(`true`)); err != nil {
		t.Fatalf("put with 1 KiB key: %v", err)
	}
	if _, ok, err := s.Get(ctx, "p", key); err != nil || !ok {
		t.Fatalf("get with 1 KiB key: ok=%v err=%v", ok, err)
	}
}

func TestPluginMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := PluginRecord{
		PluginID: "hello", Name: "hello", Version: "0.1.0",
		Enabled: true, LoadedAt: 1000, LastActive: 1000,
		Config: json.RawMessage(`{"greeting":"hi"}`),
	}
	if err := s.RecordPlugin(ctx, rec); err != nil {
		t.Fatalf("record plugin: %v", err)
	}

	loaded, err := s.GetPlugin(ctx, "hello")
	if err != nil {
		t.Fatalf("get plugin: %v", err)
	}
	if loaded.Name != "hello" || loaded.Version != "0.1.0" || !loaded.Enabled {
		t.Fatalf("unexpected round-tripped record: %+v", loaded)
	}

	if err := s.TouchPlugin(ctx, "hello"); err != nil {
		t.Fatalf("touch plugin: %v", err)
	}

	if _, err := s.GetPlugin(ctx, "nobody"); kerrors.CodeOf(err) != CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %v", err)
	}
}

func TestSubscriptionAddRemoveLeavesSetUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordSubscription(ctx, "echo", "ping"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.RecordSubscription(ctx, "echo", "ping"); err != nil {
		t.Fatalf("idempotent subscribe: %v", err)
	}

	topics, err := s.Subscriptions(ctx, "echo")
	if err != nil || len(topics) != 1 || topics[0] != "ping" {
		t.Fatalf("expected [ping], got %v err=%v", topics, err)
	}

	if err := s.ForgetSubscription(ctx, "echo", "ping"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	topics, err = s.Subscriptions(ctx, "echo")
	if err != nil || len(topics) != 0 {
		t.Fatalf("expected no subscriptions after forget, got %v err=%v", topics, err)
	}
}
