package strixlink

import (
	"github.com/linchenxuan/strixlink/config"
	"github.com/linchenxuan/strixlink/engine"
	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/metrics/prometheus"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/linchenxuan/strixlink/plugin"
)

// StrixLink holds the components of one client process: the logger, the
// plugin manager with its metrics reporters and the connection engine.
type StrixLink struct {
	Logger        log.Logger
	PluginManager *plugin.Manager
	Client        *engine.Client
	Config        *config.Config
}

// New loads the configuration file at cfgPath and assembles the client.
// An empty path uses the defaults.
func New(cfgPath string, opts ...engine.Option) (*StrixLink, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return nil, err
		}
	} else if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, opts...)
}

// NewWithConfig assembles the client from an already decoded configuration.
func NewWithConfig(cfg *config.Config, opts ...engine.Option) (*StrixLink, error) {
	// 1. Logger
	if err := log.Initialize(cfg.Log); err != nil {
		return nil, err
	}
	logger := log.Default()

	// 2. Plugins, then metrics reporters from the metrics plugins
	pm := plugin.NewManager()
	pm.RegisterFactory(&prometheus.Factory{})
	if err := pm.SetupPlugins(cfg.Plugin); err != nil {
		return nil, err
	}
	var reporters []metrics.Reporter
	for _, p := range pm.Plugins(plugin.Metrics) {
		if r, ok := p.(metrics.Reporter); ok {
			reporters = append(reporters, r)
		}
	}
	metrics.SetMetricsReporters(reporters)

	// 3. Engine
	client, err := engine.New(cfg.Engine, opts...)
	if err != nil {
		metrics.SetMetricsReporters(nil)
		pm.DestroyPlugins()
		return nil, err
	}

	s := &StrixLink{
		Logger:        logger,
		PluginManager: pm,
		Client:        client,
		Config:        cfg,
	}
	logger.Info().Str("client", client.ID()).Int("reporters", len(reporters)).Msg("StrixLink initialized")
	return s, nil
}

// Stop closes the engine, destroys the plugins and flushes the logs.
func (s *StrixLink) Stop() {
	s.Logger.Info().Msg("StrixLink shutting down")
	if err := s.Client.Close(); err != nil && transport.KindOf(err) != transport.KindValidation {
		s.Logger.Warn().Err(err).Msg("Engine close failed")
	}
	metrics.SetMetricsReporters(nil)
	s.PluginManager.DestroyPlugins()
	s.Logger.Refresh()
}
