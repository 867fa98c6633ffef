package control

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"wasmkernel/internal/bridge"
	"wasmkernel/internal/bus"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/plugin"
)

type stubInstance struct {
	info plugin.Info
}

func (s *stubInstance) Metadata() (plugin.Info, error) { return s.info, nil }
func (s *stubInstance) Initialize(context.Context, map[string]any) error { return nil }
func (s *stubInstance) HandleMessage(context.Context, []byte) error { return nil }
func (s *stubInstance) Tick(context.Context) error { return nil }
func (s *stubInstance) Shutdown(context.Context) error { return nil }
func (s *stubInstance) HealthCheck(context.Context) ([]byte, error) { return []byte("ok"), nil }
func (s *stubInstance) GetStats(context.Context) ([]byte, error) { return []byte("{}"), nil }
func (s *stubInstance) Invoke(_ context.Context, _ string, payload []byte) ([]byte, error) {
	return payload, nil
}
func (s *stubInstance) Close() error { return nil }

type stubLoader struct{}

func (stubLoader) Load(path, callerID string, calls bridge.Calls, policy plugin.ResourcePolicy) (plugin.Instance, error) {
	return &stubInstance{info: plugin.Info{PluginID: callerID, Name: callerID}}, nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "kernel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	br := bridge.New(s, bus.New())
	manager := plugin.NewManager(plugin.ManagerConfig{Defaults: plugin.DefaultResourcePolicy()}, br, plugin.WithLoader(stubLoader{}))
	layouts, err := NewLayoutStore(t.TempDir())
	if err != nil {
		t.Fatalf("new layout store: %v", err)
	}
	return NewDispatcher(manager, bus.New(), s, layouts, NewHub())
}

func TestListPluginsReflectsLoadedPlugins(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.manager.Load(context.Background(), "greeter.wasm", nil, plugin.DefaultResourcePolicy()); err != nil {
		t.Fatalf("load: %v", err)
	}
	resp := d.Dispatch(context.Background(), Request{Command: "list_plugins"})
	if !resp.Ok {
		t.Fatalf("expected ok response, got %+v", resp.Error)
	}
	var views []pluginStatusView
	if err := json.Unmarshal(resp.Result, &views); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(views) != 1 || views[0].PluginID != "greeter" || views[0].Status != string(plugin.StatusRunning) {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: "not_a_command"})
	if resp.Ok {
		t.Fatal("expected failure for unknown command")
	}
	if resp.Error.Code != string(CodeUnknownCommand) {
		t.Fatalf("expected CodeUnknownCommand, got %s", resp.Error.Code)
	}
}

func TestSaveListApplyLayoutRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	save := Layout{Name: "ops", Widgets: []Widget{{ID: "w1", Kind: "log", Title: "Logs"}}}
	raw, _ := json.Marshal(save)

	if resp := d.Dispatch(context.Background(), Request{Command: "save_layout", Params: raw}); !resp.Ok {
		t.Fatalf("save_layout failed: %+v", resp.Error)
	}

	listResp := d.Dispatch(context.Background(), Request{Command: "list_layouts"})
	if !listResp.Ok {
		t.Fatalf("list_layouts failed: %+v", listResp.Error)
	}
	var names []string
	if err := json.Unmarshal(listResp.Result, &names); err != nil || len(names) != 1 || names[0] != "ops" {
		t.Fatalf("unexpected layout names: %v err=%v", names, err)
	}

	applyParams, _ := json.Marshal(map[string]string{"name": "ops"})
	applyResp := d.Dispatch(context.Background(), Request{Command: "apply_layout", Params: applyParams})
	if !applyResp.Ok {
		t.Fatalf("apply_layout failed: %+v", applyResp.Error)
	}
	var applied Layout
	if err := json.Unmarshal(applyResp.Result, &applied); err != nil || len(applied.Widgets) != 1 {
		t.Fatalf("unexpected applied layout: %+v err=%v", applied, err)
	}
}

func TestCreateAndRemoveWidget(t *testing.T) {
	d := newTestDispatcher(t)
	createParams, _ := json.Marshal(map[string]any{
		"layout": "ops",
		"widget": Widget{ID: "w1", Kind: "metric", Title: "CPU"},
	})
	if resp := d.Dispatch(context.Background(), Request{Command: "create_widget", Params: createParams}); !resp.Ok {
		t.Fatalf("create_widget failed: %+v", resp.Error)
	}

	removeParams, _ := json.Marshal(map[string]string{"layout": "ops", "widget_id": "w1"})
	removeResp := d.Dispatch(context.Background(), Request{Command: "remove_widget", Params: removeParams})
	if !removeResp.Ok {
		t.Fatalf("remove_widget failed: %+v", removeResp.Error)
	}
	var layout Layout
	if err := json.Unmarshal(removeResp.Result, &layout); err != nil || len(layout.Widgets) != 0 {
		t.Fatalf("expected widget removed, got %+v err=%v", layout, err)
	}
}

func TestInvokeExportRoutesToPlugin(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.manager.Load(context.Background(), "echo.wasm", nil, plugin.DefaultResourcePolicy()); err != nil {
		t.Fatalf("load: %v", err)
	}
	params, _ := json.Marshal(map[string]any{"plugin_id": "echo", "export": "ping", "payload": json.RawMessage(`"hi"`)})
	resp := d.Dispatch(context.Background(), Request{Command: "invoke_export", Params: params})
	if !resp.Ok {
		t.Fatalf("invoke_export failed: %+v", resp.Error)
	}
}
