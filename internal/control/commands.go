package control

import (
	"context"
	"encoding/json"
	"sync"

	"wasmkernel/internal/bus"
	kerrors "wasmkernel/internal/errors"
	"wasmkernel/internal/store"
	"wasmkernel/pkg/plugin"
)

// Request is the JSON envelope every control-plane command arrives in.
type Request struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON envelope every command returns, tagged success or
// error the same way internal/bridge tags plugin-facing results.
type Response struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors bridge.EnvelopeError for the control-plane surface.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ok(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return failure(err)
	}
	return Response{Ok: true, Result: raw}
}

func failure(err error) Response {
	if kerr, matched := kerrors.From(err); matched {
		return Response{Ok: false, Error: &ResponseError{Code: string(kerr.Code()), Message: kerr.Message()}}
	}
	return Response{Ok: false, Error: &ResponseError{Code: string(kerrors.CodeUnknown), Message: err.Error()}}
}

// Dispatcher routes decoded Requests to the kernel's plugin manager, bus,
// store and dashboard layout store.
type Dispatcher struct {
	manager *plugin.Manager
	bus     *bus.Bus
	store   *store.Store
	layouts *LayoutStore
	hub     *Hub

	mu           sync.Mutex
	dashboardSub map[string]map[string]struct{} // topic -> set of subscriber ids
}

// NewDispatcher wires a Dispatcher over the kernel's running components.
func NewDispatcher(manager *plugin.Manager, b *bus.Bus, s *store.Store, layouts *LayoutStore, hub *Hub) *Dispatcher {
	return &Dispatcher{
		manager:      manager,
		bus:          b,
		store:        s,
		layouts:      layouts,
		hub:          hub,
		dashboardSub: make(map[string]map[string]struct{}),
	}
}

// Dispatch executes req and returns the tagged response. It never panics
// on a malformed request; malformed params surface as a Bad Request
// response instead.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case "list_plugins":
		return d.listPlugins()
	case "reload_plugin":
		return d.reloadPlugin(ctx, req.Params)
	case "pause_plugin":
		return d.pausePlugin(req.Params)
	case "resume_plugin":
		return d.resumePlugin(req.Params)
	case "invoke_export":
		return d.invokeExport(ctx, req.Params)
	case "subscribe":
		return d.subscribe(req.Params)
	case "unsubscribe":
		return d.unsubscribe(req.Params)
	case "save_layout":
		return d.saveLayout(req.Params)
	case "list_layouts":
		return d.listLayouts()
	case "apply_layout":
		return d.applyLayout(req.Params)
	case "get_logs":
		return d.getLogs(ctx, req.Params)
	case "create_widget":
		return d.createWidget(req.Params)
	case "remove_widget":
		return d.removeWidget(req.Params)
	default:
		return failure(kerrors.New(CodeUnknownCommand, "unknown command "+req.Command))
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, kerrors.New(CodeBadRequest, "missing params")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, kerrors.Wrap(CodeBadRequest, err, "decode params")
	}
	return v, nil
}

type pluginStatusView struct {
	plugin.Info
	Status string `json:"status"`
}

func (d *Dispatcher) listPlugins() Response {
	infos := d.manager.List()
	views := make([]pluginStatusView, 0, len(infos))
	for _, info := range infos {
		status, _ := d.manager.StatusOf(info.PluginID)
		views = append(views, pluginStatusView{Info: info, Status: string(status)})
	}
	return ok(views)
}

func (d *Dispatcher) reloadPlugin(ctx context.Context, raw json.RawMessage) Response {
	params, err := decode[struct {
		PluginID string `json:"plugin_id"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	handle, err := d.manager.Reload(ctx, params.PluginID)
	if err != nil {
		return failure(err)
	}
	if d.hub != nil {
		d.hub.BroadcastLifecycle(params.PluginID, "reloaded")
	}
	return ok(struct {
		Handle plugin.Handle `json:"handle"`
	}{handle})
}

func (d *Dispatcher) pausePlugin(raw json.RawMessage) Response {
	params, err := decode[struct {
		PluginID string `json:"plugin_id"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	if err := d.manager.Pause(params.PluginID); err != nil {
		return failure(err)
	}
	if d.hub != nil {
		d.hub.BroadcastLifecycle(params.PluginID, "paused")
	}
	return ok(struct {
		Paused bool `json:"paused"`
	}{true})
}

func (d *Dispatcher) resumePlugin(raw json.RawMessage) Response {
	params, err := decode[struct {
		PluginID string `json:"plugin_id"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	if err := d.manager.Resume(params.PluginID); err != nil {
		return failure(err)
	}
	if d.hub != nil {
		d.hub.BroadcastLifecycle(params.PluginID, "resumed")
	}
	return ok(struct {
		Paused bool `json:"paused"`
	}{false})
}

func (d *Dispatcher) invokeExport(ctx context.Context, raw json.RawMessage) Response {
	params, err := decode[struct {
		PluginID string          `json:"plugin_id"`
		Export   string          `json:"export"`
		Payload  json.RawMessage `json:"payload"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	result, err := d.manager.Invoke(ctx, params.PluginID, params.Export, params.Payload)
	if err != nil {
		return failure(err)
	}
	return Response{Ok: true, Result: result}
}

func (d *Dispatcher) subscribe(raw json.RawMessage) Response {
	params, err := decode[struct {
		SubscriberID string `json:"subscriber_id"`
		Topic        string `json:"topic"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dashboardSub[params.Topic] == nil {
		d.dashboardSub[params.Topic] = make(map[string]struct{})
	}
	d.dashboardSub[params.Topic][params.SubscriberID] = struct{}{}
	return ok(struct {
		Subscribed bool `json:"subscribed"`
	}{true})
}

func (d *Dispatcher) unsubscribe(raw json.RawMessage) Response {
	params, err := decode[struct {
		SubscriberID string `json:"subscriber_id"`
		Topic        string `json:"topic"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.dashboardSub[params.Topic]; ok {
		delete(set, params.SubscriberID)
	}
	return ok(struct {
		Subscribed bool `json:"subscribed"`
	}{false})
}

// NotifyMessage is called by whatever drives bus delivery whenever a
// message is routed, so subscribed dashboard clients see it on the event
// stream without the bus itself depending on the control plane.
func (d *Dispatcher) NotifyMessage(topic, from, to string) {
	d.mu.Lock()
	_, subscribed := d.dashboardSub[topic]
	d.mu.Unlock()
	if subscribed && d.hub != nil {
		d.hub.BroadcastKernelMessage(from, to, topic)
	}
}

func (d *Dispatcher) saveLayout(raw json.RawMessage) Response {
	layout, err := decode[Layout](raw)
	if err != nil {
		return failure(err)
	}
	if err := d.layouts.Save(layout); err != nil {
		return failure(err)
	}
	return ok(layout)
}

func (d *Dispatcher) listLayouts() Response {
	names, err := d.layouts.List()
	if err != nil {
		return failure(err)
	}
	return ok(names)
}

func (d *Dispatcher) applyLayout(raw json.RawMessage) Response {
	params, err := decode[struct {
		Name string `json:"name"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	layout, err := d.layouts.Apply(params.Name)
	if err != nil {
		return failure(err)
	}
	return ok(layout)
}

func (d *Dispatcher) getLogs(ctx context.Context, raw json.RawMessage) Response {
	params, err := decode[struct {
		PluginID string `json:"plugin_id"`
		Limit    int    `json:"limit"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	if params.Limit <= 0 {
		params.Limit = 100
	}
	entries, err := d.store.RecentMessages(ctx, params.PluginID, params.Limit)
	if err != nil {
		return failure(err)
	}
	return ok(entries)
}

func (d *Dispatcher) createWidget(raw json.RawMessage) Response {
	params, err := decode[struct {
		Layout string `json:"layout"`
		Widget Widget `json:"widget"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	layout, err := d.layouts.AddWidget(params.Layout, params.Widget)
	if err != nil {
		return failure(err)
	}
	return ok(layout)
}

func (d *Dispatcher) removeWidget(raw json.RawMessage) Response {
	params, err := decode[struct {
		Layout   string `json:"layout"`
		WidgetID string `json:"widget_id"`
	}](raw)
	if err != nil {
		return failure(err)
	}
	layout, err := d.layouts.RemoveWidget(params.Layout, params.WidgetID)
	if err != nil {
		return failure(err)
	}
	return ok(layout)
}
