package control

import "encoding/json"

// EventType tags a frame on the outbound control-plane event stream.
type EventType string

const (
	EventKernelMessage EventType = "kernel-message"
	EventSystemStats   EventType = "system-stats"
	EventLifecycle     EventType = "lifecycle"
)

// Event is the wire format for every frame the kernel pushes to connected
// dashboard clients.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// KernelMessagePayload reports one message the bus delivered, for
// dashboards that want a live feed of inter-plugin traffic.
type KernelMessagePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Topic string `json:"topic,omitempty"`
}

// SystemStatsPayload is a periodic snapshot of kernel-wide counters.
type SystemStatsPayload struct {
	PluginsLoaded  int `json:"plugins_loaded"`
	PluginsRunning int `json:"plugins_running"`
	PluginsErrored int `json:"plugins_errored"`
}

// LifecyclePayload reports a plugin status transition.
type LifecyclePayload struct {
	PluginID string `json:"plugin_id"`
	Status   string `json:"status"`
}
