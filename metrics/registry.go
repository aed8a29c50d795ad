package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

var _reporters atomic.Pointer[[]Reporter]

// Reporter receives every observation. Implementations must not block.
type Reporter interface {
	Report(r Record)
}

// SetMetricsReporters replaces the reporters that receive observations.
// A nil or empty slice turns reporting off.
func SetMetricsReporters(reports []Reporter) {
	cp := append([]Reporter(nil), reports...)
	_reporters.Store(&cp)
}

func loadReporters() []Reporter {
	if p := _reporters.Load(); p != nil {
		return *p
	}
	return nil
}

type instrumentKey struct {
	policy Policy
	group  string
	name   string
}

var (
	_lockInstruments sync.RWMutex
	_instruments     = map[instrumentKey]Metrics{}
)

// lookup returns the instrument registered under key, creating it with mk on first use.
func lookup(key instrumentKey, mk func(instrument) Metrics) Metrics {
	_lockInstruments.RLock()
	m, ok := _instruments[key]
	_lockInstruments.RUnlock()
	if ok {
		return m
	}

	_lockInstruments.Lock()
	defer _lockInstruments.Unlock()
	if m, ok = _instruments[key]; ok {
		return m
	}
	m = mk(instrument{name: key.name, group: key.group, policy: key.policy})
	_instruments[key] = m
	return m
}

func getCounter(name, group string) Counter {
	return lookup(instrumentKey{Policy_Sum, group, name}, func(i instrument) Metrics {
		return &counter{i}
	}).(Counter)
}

func getGauge(name, group string, policy Policy) Gauge {
	return lookup(instrumentKey{policy, group, name}, func(i instrument) Metrics {
		return &gauge{i}
	}).(Gauge)
}

func getStopWatch(name, group string) StopWatch {
	return lookup(instrumentKey{Policy_Stopwatch, group, name}, func(i instrument) Metrics {
		return &stopwatch{i}
	}).(StopWatch)
}

// IncrCounterWithGroup increases a counter.
func IncrCounterWithGroup(key string, group string, value Value) {
	getCounter(key, group).Incr(value)
}

// IncrCounterWithDimGroup increases a counter with labels.
func IncrCounterWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	getCounter(key, group).IncrWithDim(value, dimensions)
}

// UpdateGaugeWithGroup sets a last-value gauge.
func UpdateGaugeWithGroup(key string, group string, value Value) {
	getGauge(key, group, Policy_Set).Update(value)
}

// UpdateGaugeWithDimGroup sets a last-value gauge with labels.
func UpdateGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	getGauge(key, group, Policy_Set).UpdateWithDim(value, dimensions)
}

// UpdateAvgGaugeWithGroup feeds an averaging gauge.
func UpdateAvgGaugeWithGroup(key string, group string, value Value) {
	getGauge(key, group, Policy_Avg).Update(value)
}

// UpdateAvgGaugeWithDimGroup feeds an averaging gauge with labels.
func UpdateAvgGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	getGauge(key, group, Policy_Avg).UpdateWithDim(value, dimensions)
}

// UpdateMaxGaugeWithGroup feeds a max gauge.
func UpdateMaxGaugeWithGroup(key string, group string, value Value) {
	getGauge(key, group, Policy_Max).Update(value)
}

// UpdateMaxGaugeWithDimGroup feeds a max gauge with labels.
func UpdateMaxGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	getGauge(key, group, Policy_Max).UpdateWithDim(value, dimensions)
}

// UpdateMinGaugeWithGroup feeds a min gauge.
func UpdateMinGaugeWithGroup(key string, group string, value Value) {
	getGauge(key, group, Policy_Min).Update(value)
}

// UpdateMinGaugeWithDimGroup feeds a min gauge with labels.
func UpdateMinGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	getGauge(key, group, Policy_Min).UpdateWithDim(value, dimensions)
}

// RecordStopwatchWithGroup reports the time since startTime and returns it.
func RecordStopwatchWithGroup(key string, group string, startTime time.Time) time.Duration {
	return getStopWatch(key, group).RecordWithDim(nil, startTime)
}

// RecordStopwatchWithDimGroup reports the time since startTime with labels and returns it.
func RecordStopwatchWithDimGroup(key string, group string, startTime time.Time, dimensions Dimension) time.Duration {
	return getStopWatch(key, group).RecordWithDim(dimensions, startTime)
}
