package plugin

// Type is the kind of plugin a factory produces. It is also the key of the
// plugin's table under [plugin] in the configuration file.
type Type string

// Metrics plugins receive every metrics.Record.
const Metrics Type = "metrics"

// Factory is the interface for plugin factories.
type Factory interface {
	// Type returns the plugin type.
	Type() Type
	// Name returns the name of the plugin implementation.
	Name() string
	// ConfigType returns an empty struct that represents the plugin's configuration.
	// This struct will be populated by the manager using mapstructure.
	ConfigType() any
	// Setup initializes a plugin instance based on the configuration.
	Setup(any) (Plugin, error)
	// Destroy releases an instance created by Setup.
	Destroy(Plugin)
}

// Plugin is an instance produced by a Factory.
type Plugin interface {
	FactoryName() string
}
