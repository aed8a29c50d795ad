package metrics

import "time"

// Metrics is the identity shared by every instrument.
type Metrics interface {
	Name() string
	Group() string
	Policy() Policy
}

// Counter accumulates values.
type Counter interface {
	Metrics
	Incr(delta Value)
	IncrWithDim(delta Value, dimensions Dimension)
}

// Gauge reports a point-in-time value. The policy decides whether the
// reporter keeps the last, the average, the max or the min.
type Gauge interface {
	Metrics
	Update(value Value)
	UpdateWithDim(value Value, dimensions Dimension)
}

// StopWatch reports elapsed time in milliseconds.
type StopWatch interface {
	Metrics
	RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration
}

type instrument struct {
	name   string
	group  string
	policy Policy
}

func (i *instrument) Name() string   { return i.name }
func (i *instrument) Group() string  { return i.group }
func (i *instrument) Policy() Policy { return i.policy }

// emit sends one observation to the installed reporters. Averaging policies
// carry a count of one so reporters can weight merges.
func (i *instrument) emit(self Metrics, v Value, dimensions Dimension) {
	reporters := loadReporters()
	if len(reporters) == 0 {
		return
	}
	r := Record{metrics: self, value: v, dimensions: dimensions}
	if i.policy == Policy_Avg || i.policy == Policy_Stopwatch {
		r.cnt = 1
	}
	for _, reporter := range reporters {
		reporter.Report(r)
	}
}

type counter struct{ instrument }

func (c *counter) Incr(v Value) { c.emit(c, v, nil) }

func (c *counter) IncrWithDim(v Value, dimensions Dimension) { c.emit(c, v, dimensions) }

type gauge struct{ instrument }

func (g *gauge) Update(v Value) { g.emit(g, v, nil) }

func (g *gauge) UpdateWithDim(v Value, dimensions Dimension) { g.emit(g, v, dimensions) }

type stopwatch struct{ instrument }

func (s *stopwatch) RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration {
	d := time.Since(startTime)
	s.emit(s, Value(float64(d.Microseconds())/1000), dimensions)
	return d
}
