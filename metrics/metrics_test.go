package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	mu      sync.Mutex
	records []Record
}

func (m *mockReporter) Report(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r.Clone())
}

func (m *mockReporter) get() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func withReporters(t *testing.T, reps ...Reporter) {
	t.Helper()
	SetMetricsReporters(reps)
	t.Cleanup(func() { SetMetricsReporters(nil) })
}

func TestInstrumentsReportPolicy(t *testing.T) {
	mock := &mockReporter{}
	withReporters(t, mock)

	IncrCounterWithGroup("req", "test", 2)
	UpdateGaugeWithGroup("mem", "test", 512)
	UpdateAvgGaugeWithGroup("lat", "test", 100)
	UpdateMaxGaugeWithGroup("peak", "test", 9)
	UpdateMinGaugeWithGroup("floor", "test", 1)
	RecordStopwatchWithGroup("op", "test", time.Now().Add(-5*time.Millisecond))

	records := mock.get()
	require.Len(t, records, 6)

	want := []Policy{Policy_Sum, Policy_Set, Policy_Avg, Policy_Max, Policy_Min, Policy_Stopwatch}
	for i, r := range records {
		assert.Equal(t, want[i], r.Metrics().Policy(), r.Metrics().Name())
		assert.Equal(t, "test", r.Metrics().Group())
	}

	_, cnt := records[2].RawData()
	assert.Equal(t, 1, cnt)
	assert.GreaterOrEqual(t, float64(records[5].Value()), 5.0)
}

func TestInstrumentsAreShared(t *testing.T) {
	a := getCounter("shared", "test")
	b := getCounter("shared", "test")
	assert.Same(t, a, b)

	// same name under another policy is a different instrument
	g := getGauge("shared", "test", Policy_Max)
	assert.Equal(t, Policy_Max, g.Policy())
	assert.Equal(t, Policy_Sum, a.Policy())
}

func TestNoReporterIsNoop(t *testing.T) {
	SetMetricsReporters(nil)
	assert.NotPanics(t, func() {
		IncrCounterWithDimGroup("n", "test", 1, Dimension{"k": "v"})
	})
}

func TestConcurrentReporting(t *testing.T) {
	agg := NewAggregator()
	withReporters(t, agg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				IncrCounterWithDimGroup(NameFramesSentTotal, GroupStrixLink, 1, Dimension{DimTransport: "socket"})
			}
		}()
	}
	wg.Wait()

	v, ok := agg.Get(GroupStrixLink, NameFramesSentTotal, Dimension{DimTransport: "socket"})
	require.True(t, ok)
	assert.Equal(t, Value(800), v)
}

func TestAggregatorPolicies(t *testing.T) {
	agg := NewAggregator()
	withReporters(t, agg)

	UpdateAvgGaugeWithDimGroup(NameDispatchDelayAvgMS, GroupStrixLink, 10, Dimension{DimQueue: "in"})
	UpdateAvgGaugeWithDimGroup(NameDispatchDelayAvgMS, GroupStrixLink, 30, Dimension{DimQueue: "in"})
	UpdateMaxGaugeWithDimGroup(NameDispatchQueueDepthMax, GroupStrixLink, 3, Dimension{DimQueue: "out"})
	UpdateMaxGaugeWithDimGroup(NameDispatchQueueDepthMax, GroupStrixLink, 7, Dimension{DimQueue: "out"})
	UpdateMaxGaugeWithDimGroup(NameDispatchQueueDepthMax, GroupStrixLink, 5, Dimension{DimQueue: "out"})

	v, ok := agg.Get(GroupStrixLink, NameDispatchDelayAvgMS, Dimension{DimQueue: "in"})
	require.True(t, ok)
	assert.Equal(t, Value(20), v)

	v, ok = agg.Get(GroupStrixLink, NameDispatchQueueDepthMax, Dimension{DimQueue: "out"})
	require.True(t, ok)
	assert.Equal(t, Value(7), v)

	_, ok = agg.Get(GroupStrixLink, NameDispatchQueueDepthMax, Dimension{DimQueue: "in"})
	assert.False(t, ok)

	assert.Len(t, agg.Snapshot(), 2)
	agg.Reset()
	assert.Empty(t, agg.Snapshot())
}
