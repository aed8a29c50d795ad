package prometheus

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestReporterExportsSeries(t *testing.T) {
	cfg := &ReporterConfig{EnableHealthCheck: true, ExtLabels: map[string]string{"app": "probe"}}
	require.NoError(t, cfg.Validate())

	rep := NewReporter(cfg)
	require.NoError(t, rep.Start())
	defer rep.Stop()

	metrics.SetMetricsReporters([]metrics.Reporter{rep})
	defer metrics.SetMetricsReporters(nil)

	dim := metrics.Dimension{metrics.DimTransport: "socket"}
	metrics.IncrCounterWithDimGroup(metrics.NameFramesSentTotal, metrics.GroupStrixLink, 2, dim)
	metrics.IncrCounterWithDimGroup(metrics.NameFramesSentTotal, metrics.GroupStrixLink, 1, dim)
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameDispatchQueueDepthMax, metrics.GroupStrixLink, 4,
		metrics.Dimension{metrics.DimQueue: "in"})
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameDispatchQueueDepthMax, metrics.GroupStrixLink, 2,
		metrics.Dimension{metrics.DimQueue: "in"})

	url := "http://" + rep.Addr().String() + cfg.MetricPath
	require.Eventually(t, func() bool {
		body := scrape(t, url)
		return strings.Contains(body, `strixlink_frames_sent_total{app="probe",transport="socket"} 3`) &&
			strings.Contains(body, `strixlink_dispatch_queue_depth_max{app="probe",queue="in"} 4`)
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + rep.Addr().String() + cfg.HealthCheckPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}

func TestConfigValidate(t *testing.T) {
	cfg := &ReporterConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/metrics", cfg.MetricPath)
	assert.Equal(t, "127.0.0.1:0", cfg.ListenAddr)

	push := &ReporterConfig{UsePush: true, PushAddr: "http://gw:9091"}
	assert.Error(t, push.Validate())
	push.PushJobName = "probe"
	assert.Error(t, push.Validate())
	push.PushIntervalSec = 10
	assert.NoError(t, push.Validate())
}

func TestFactoryThroughManager(t *testing.T) {
	m := plugin.NewManager()
	m.RegisterFactory(&Factory{})

	err := m.SetupPlugins(map[string]any{
		string(plugin.Metrics): map[string]any{
			"prometheus": map[string]any{"listenAddr": "127.0.0.1:0", "tag": "default"},
		},
	})
	require.NoError(t, err)

	p, err := m.GetDefaultPlugin(plugin.Metrics)
	require.NoError(t, err)
	rep, ok := p.(*Reporter)
	require.True(t, ok)
	assert.NotNil(t, rep.Addr())

	m.DestroyPlugins()
	_, err = m.GetDefaultPlugin(plugin.Metrics)
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}
