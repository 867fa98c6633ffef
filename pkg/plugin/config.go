package plugin

// ManagerConfig describes how the plugin manager should behave. The
// kernel builds one from the root TOML document's plugin_dir and
// [plugins.*] tables; nothing here reads a file of its own.
type ManagerConfig struct {
	PluginDir string
	Defaults  ResourcePolicy
	Plugins   map[string]PluginConfig
}

// PluginConfig is the configuration block for a single plugin instance.
type PluginConfig struct {
	Enabled bool
	Config  map[string]any
	Policy  *ResourcePolicy
}

// effectivePolicy resolves a plugin's resource policy against the
// manager's defaults, falling back entirely to defaults when the plugin
// declares none.
func (c PluginConfig) effectivePolicy(defaults ResourcePolicy) ResourcePolicy {
	if c.Policy == nil {
		return defaults
	}
	return c.Policy.Merge(defaults)
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
