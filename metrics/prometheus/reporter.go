// Package prometheus exports engine metrics in Prometheus format over HTTP and,
// optionally, to a push gateway. It is installed as the "prometheus" metrics plugin.
package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	_defaultChanSize = 65536
	_serviceName     = "strixlink"
	_pushTimeout     = 5 * time.Second
)

// ReporterConfig configures the exporter. It is decoded from [plugin.metrics.prometheus].
type ReporterConfig struct {
	Tag               string            `mapstructure:"tag"`
	ListenAddr        string            `mapstructure:"listenAddr"`
	MetricPath        string            `mapstructure:"metricPath"`
	UsePush           bool              `mapstructure:"usePush"`
	PushAddr          string            `mapstructure:"pushAddr"`
	PushIntervalSec   int               `mapstructure:"pushIntervalSec"`
	PushJobName       string            `mapstructure:"pushJobName"`
	ExtLabels         map[string]string `mapstructure:"extLabels"`
	EnableHealthCheck bool              `mapstructure:"enableHealthCheck"`
	HealthCheckPath   string            `mapstructure:"healthCheckPath"`
	ChanSize          int               `mapstructure:"chanSize"`
}

// GetName returns the configuration table name.
func (cfg *ReporterConfig) GetName() string {
	return "prometheus"
}

// Validate fills defaults and checks the push settings.
func (cfg *ReporterConfig) Validate() error {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.MetricPath == "" {
		cfg.MetricPath = "/metrics"
	}
	if cfg.HealthCheckPath == "" {
		cfg.HealthCheckPath = "/health"
	}
	if cfg.ChanSize <= 0 {
		cfg.ChanSize = _defaultChanSize
	}
	if cfg.UsePush {
		if cfg.PushAddr == "" || cfg.PushJobName == "" {
			return errors.New("prometheus push requires pushAddr and pushJobName")
		}
		if cfg.PushIntervalSec <= 0 {
			return fmt.Errorf("prometheus push interval must be positive, got %d", cfg.PushIntervalSec)
		}
	}
	return nil
}

// series is one exported time series. Counters add, gauges apply the record policy.
type series struct {
	counter prometheus.Counter
	gauge   prometheus.Gauge
	policy  metrics.Policy
	seen    bool
	last    float64
	sum     float64
	cnt     int
}

func (s *series) merge(rc *metrics.Record) error {
	if s.counter != nil {
		s.counter.Add(float64(rc.Value()))
		return nil
	}

	v := float64(rc.Value())
	switch s.policy {
	case metrics.Policy_Set:
		s.last = v
	case metrics.Policy_Sum:
		s.last += v
	case metrics.Policy_Max:
		if !s.seen || v > s.last {
			s.last = v
		}
	case metrics.Policy_Min:
		if !s.seen || v < s.last {
			s.last = v
		}
	case metrics.Policy_Avg, metrics.Policy_Stopwatch:
		raw, c := rc.RawData()
		s.sum += float64(raw)
		s.cnt += c
		if s.cnt <= 0 {
			return fmt.Errorf("metrics(%s) count invalid", rc.Metrics().Name())
		}
		s.last = s.sum / float64(s.cnt)
	default:
		return fmt.Errorf("metrics(%s) policy %v invalid", rc.Metrics().Name(), s.policy)
	}
	s.seen = true
	s.gauge.Set(s.last)
	return nil
}

// Reporter converts metric records into Prometheus series on its own registry.
type Reporter struct {
	cfg      *ReporterConfig
	registry *prometheus.Registry
	records  chan metrics.Record
	series   map[string]*series

	lock   sync.Mutex
	srv    *http.Server
	addr   net.Addr
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ metrics.Reporter = (*Reporter)(nil)

// NewReporter creates a stopped reporter. cfg must be validated.
func NewReporter(cfg *ReporterConfig) *Reporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reporter{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		records:  make(chan metrics.Record, cfg.ChanSize),
		series:   map[string]*series{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// FactoryName reports the plugin implementation name.
func (x *Reporter) FactoryName() string {
	return "prometheus"
}

// Report queues a record for aggregation. It drops the record when the queue is full.
func (x *Reporter) Report(r metrics.Record) {
	select {
	case x.records <- r:
	default:
		log.Warn().Str("metric", r.Metrics().Name()).Msg("prometheus record queue full")
	}
}

// Registry exposes the registry the series are registered on.
func (x *Reporter) Registry() *prometheus.Registry {
	return x.registry
}

// Addr returns the bound HTTP address once Start succeeded.
func (x *Reporter) Addr() net.Addr {
	x.lock.Lock()
	defer x.lock.Unlock()
	return x.addr
}

// Start launches the aggregator, the HTTP endpoint and the optional pusher.
func (x *Reporter) Start() error {
	l, err := net.Listen("tcp", x.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", x.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(x.cfg.MetricPath, promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	if x.cfg.EnableHealthCheck {
		mux.HandleFunc(x.cfg.HealthCheckPath, x.healthCheckHandler)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	x.lock.Lock()
	x.srv = srv
	x.addr = l.Addr()
	x.lock.Unlock()

	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http serve")
		}
	}()
	log.Info().Str("addr", l.Addr().String()).Str("path", x.cfg.MetricPath).Msg("prometheus http start listen on")

	x.wg.Add(1)
	go x.aggregate()

	if x.cfg.UsePush {
		x.wg.Add(1)
		go x.pushLoop()
	}
	return nil
}

// Stop shuts the HTTP server and background loops down and waits for them.
func (x *Reporter) Stop() {
	x.cancel()
	x.lock.Lock()
	srv := x.srv
	x.srv = nil
	x.lock.Unlock()
	if srv != nil {
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("prometheus http close")
		}
	}
	x.wg.Wait()
}

func (x *Reporter) aggregate() {
	defer x.wg.Done()
	for {
		select {
		case rc := <-x.records:
			x.merge(&rc)
		case <-x.ctx.Done():
			return
		}
	}
}

func (x *Reporter) pushLoop() {
	defer x.wg.Done()
	pusher := push.New(x.cfg.PushAddr, x.cfg.PushJobName).Gatherer(x.registry)
	t := time.NewTicker(time.Duration(x.cfg.PushIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-x.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(x.ctx, _pushTimeout)
			if err := pusher.PushContext(ctx); err != nil {
				log.Error().Err(err).Str("addr", x.cfg.PushAddr).Msg("prometheus push")
			}
			cancel()
		}
	}
}

func (x *Reporter) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	usage := float64(len(x.records)) / float64(cap(x.records))
	status, code := "healthy", http.StatusOK
	if usage > 0.9 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"service":    _serviceName,
		"timestamp":  time.Now().Format(time.RFC3339),
		"queueUsage": usage,
	})
}

func (x *Reporter) merge(rc *metrics.Record) {
	key := rc.Key(x.cfg.ExtLabels)
	s, ok := x.series[key]
	if !ok {
		var err error
		if s, err = x.newSeries(rc); err != nil {
			log.Error().Err(err).Str("metric", rc.Metrics().Name()).Msg("prometheus register")
			return
		}
		x.series[key] = s
	}
	if err := s.merge(rc); err != nil {
		log.Error().Err(err).Msg("prometheus merge")
	}
}

func (x *Reporter) newSeries(rc *metrics.Record) (*series, error) {
	m := rc.Metrics()
	labels := make(prometheus.Labels, len(rc.Dimensions())+len(x.cfg.ExtLabels))
	for k, v := range x.cfg.ExtLabels {
		labels[k] = sanitize(v)
	}
	for k, v := range rc.Dimensions() {
		labels[k] = sanitize(v)
	}
	subsystem, name := sanitize(m.Group()), sanitize(m.Name())
	help := fmt.Sprintf("%s %s (%s)", m.Group(), m.Name(), m.Policy())

	s := &series{policy: m.Policy()}
	var c prometheus.Collector
	switch m.(type) {
	case metrics.Counter:
		s.counter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
		c = s.counter
	case metrics.Gauge, metrics.StopWatch:
		s.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
		c = s.gauge
	default:
		return nil, fmt.Errorf("unknown metric type %T", m)
	}
	if err := x.registry.Register(c); err != nil {
		return nil, err
	}
	return s, nil
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}
