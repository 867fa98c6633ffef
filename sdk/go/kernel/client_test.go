package kernel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListPluginsDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/control" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Command != "list_plugins" {
			t.Fatalf("unexpected command: %s", req.Command)
		}
		result, _ := json.Marshal([]PluginStatus{{PluginID: "echo", Status: "running"}})
		_ = json.NewEncoder(w).Encode(controlResponse{Ok: true, Result: result})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	plugins, err := client.ListPlugins(context.Background())
	if err != nil {
		t.Fatalf("list plugins: %v", err)
	}
	if len(plugins) != 1 || plugins[0].PluginID != "echo" {
		t.Fatalf("unexpected plugins: %+v", plugins)
	}
}

func TestCallSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(controlResponse{
			Ok: false,
			Error: &struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}{Code: "PLUGIN_NOT_REGISTERED", Message: "plugin not registered"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.ReloadPlugin(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != "PLUGIN_NOT_REGISTERED" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
}

func TestSaveAndApplyLayoutRoundTrip(t *testing.T) {
	var saved Layout
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Command {
		case "save_layout":
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &saved)
			_ = json.NewEncoder(w).Encode(controlResponse{Ok: true})
		case "apply_layout":
			result, _ := json.Marshal(saved)
			_ = json.NewEncoder(w).Encode(controlResponse{Ok: true, Result: result})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	layout := Layout{Name: "ops", Widgets: []Widget{{ID: "w1", Kind: "log", Title: "Logs"}}}
	if err := client.SaveLayout(context.Background(), layout); err != nil {
		t.Fatalf("save layout: %v", err)
	}
	applied, err := client.ApplyLayout(context.Background(), "ops")
	if err != nil {
		t.Fatalf("apply layout: %v", err)
	}
	if applied.Name != "ops" || len(applied.Widgets) != 1 {
		t.Fatalf("unexpected layout: %+v", applied)
	}
}
