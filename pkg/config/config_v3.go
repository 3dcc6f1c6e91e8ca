package config

// GenericPluginConfig names a plug-in class plus its class-specific
// configuration sub-map, decoded with mapstructure against the concrete
// plug-in's own struct once resolved through the registry.
type GenericPluginConfig struct {
	Type   string                 `yaml:"type"  json:"type"  toml:"type"`
	Config map[string]interface{} `yaml:"config"  json:"config,omitempty"  toml:"config,omitempty"`
}

// ReportingTaskConfig is one controller-scope reporting task declared in
// the top-level document (§6): an id, its registered class name, the
// period its internal ticker fires on, and its class-specific config.
type ReportingTaskConfig struct {
	ID     string                 `toml:"id" json:"id"`
	Type   string                 `toml:"type" json:"type"`
	Period string                 `toml:"period" json:"period"`
	Config map[string]interface{} `toml:"config" json:"config,omitempty"`
}
