package metrics

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// ErrRecordMismatch is returned by Merge when two records describe different series.
var ErrRecordMismatch = errors.New("metrics record mismatch")

// Record is a single observation of a metric.
type Record struct {
	metrics    Metrics
	value      Value
	cnt        int
	dimensions Dimension
}

// NewRecord builds a record outside the instrument path, mostly for reporters and tests.
func NewRecord(m Metrics, v Value, cnt int, dimensions Dimension) Record {
	return Record{metrics: m, value: v, cnt: cnt, dimensions: dimensions}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	return &Record{
		metrics:    r.metrics,
		value:      r.value,
		cnt:        r.cnt,
		dimensions: maps.Clone(r.dimensions),
	}
}

// Metrics returns the instrument the record was produced by.
func (r *Record) Metrics() Metrics {
	return r.metrics
}

// Value returns the value as the policy presents it: averages are divided by
// their count, everything else is raw.
func (r *Record) Value() Value {
	switch r.metrics.Policy() {
	case Policy_Avg, Policy_Stopwatch:
		if r.cnt != 0 {
			return r.value / Value(r.cnt)
		}
	}
	return r.value
}

// RawData returns the accumulated value and observation count.
func (r *Record) RawData() (Value, int) {
	return r.value, r.cnt
}

// Dimensions returns the record labels.
func (r *Record) Dimensions() Dimension {
	return r.dimensions
}

// Key identifies the series a record belongs to: group, name and the sorted
// labels, skipping any label listed in skip.
func (r *Record) Key(skip map[string]string) string {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteString(r.metrics.Group())
	sb.WriteByte('*')
	sb.WriteString(r.metrics.Name())
	sb.WriteByte('*')

	keys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		if _, ok := skip[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(r.dimensions[k])
		sb.WriteByte(',')
	}
	return sb.String()
}

// Merge folds other into r according to the policy. Both records must belong
// to the same series.
func (r *Record) Merge(other Record) error {
	if r.metrics.Name() != other.metrics.Name() || r.metrics.Group() != other.metrics.Group() {
		return fmt.Errorf("%w: %s.%s vs %s.%s", ErrRecordMismatch,
			r.metrics.Group(), r.metrics.Name(), other.metrics.Group(), other.metrics.Name())
	}
	if r.metrics.Policy() != other.metrics.Policy() {
		return fmt.Errorf("%w: policy %v vs %v", ErrRecordMismatch, r.metrics.Policy(), other.metrics.Policy())
	}
	if !maps.Equal(r.dimensions, other.dimensions) {
		return fmt.Errorf("%w: dimensions %v vs %v", ErrRecordMismatch, r.dimensions, other.dimensions)
	}

	switch r.metrics.Policy() {
	case Policy_Set:
		r.value = other.value
	case Policy_Sum:
		r.value += other.value
	case Policy_Max:
		if other.value > r.value {
			r.value = other.value
		}
	case Policy_Min:
		if other.value < r.value {
			r.value = other.value
		}
	case Policy_Stopwatch, Policy_Avg:
		r.value += other.value
		r.cnt += other.cnt
	default:
		return fmt.Errorf("metrics(%s) policy %v cannot be merged", r.metrics.Name(), r.metrics.Policy())
	}
	return nil
}
