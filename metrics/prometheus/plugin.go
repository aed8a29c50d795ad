package prometheus

import (
	"fmt"

	"github.com/linchenxuan/strixlink/plugin"
)

// Factory builds the Prometheus metrics plugin.
type Factory struct{}

var _ plugin.Factory = (*Factory)(nil)

// Type returns the plugin type.
func (f *Factory) Type() plugin.Type {
	return plugin.Metrics
}

// Name returns the name of the plugin implementation.
func (f *Factory) Name() string {
	return "prometheus"
}

// ConfigType returns the struct the manager decodes the plugin table into.
func (f *Factory) ConfigType() any {
	return &ReporterConfig{}
}

// Setup validates the config and starts a reporter.
func (f *Factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*ReporterConfig)
	if !ok {
		return nil, fmt.Errorf("prometheus setup: unexpected config %T", cfgAny)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := NewReporter(cfg)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// Destroy stops a reporter created by Setup.
func (f *Factory) Destroy(p plugin.Plugin) {
	if prom, ok := p.(*Reporter); ok {
		prom.Stop()
	}
}
