package metrics

import (
	"sort"
	"sync"
)

// Aggregator is an in-process Reporter that merges observations per series.
// The probe CLI prints it on exit and tests use it to assert on emitted metrics.
type Aggregator struct {
	lock    sync.Mutex
	records map[string]*Record
}

var _ Reporter = (*Aggregator)(nil)

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{records: map[string]*Record{}}
}

// Report merges r into its series.
func (a *Aggregator) Report(r Record) {
	key := r.Key(nil)
	a.lock.Lock()
	defer a.lock.Unlock()
	if cur, ok := a.records[key]; ok {
		_ = cur.Merge(r)
		return
	}
	a.records[key] = r.Clone()
}

// Get returns the presented value of one series. ok is false when nothing was reported.
func (a *Aggregator) Get(group, name string, dimensions Dimension) (Value, bool) {
	probe := Record{metrics: &instrument{name: name, group: group}, dimensions: dimensions}
	a.lock.Lock()
	defer a.lock.Unlock()
	r, ok := a.records[probe.Key(nil)]
	if !ok {
		return 0, false
	}
	return r.Value(), true
}

// Snapshot returns copies of every series sorted by key.
func (a *Aggregator) Snapshot() []Record {
	a.lock.Lock()
	keys := make([]string, 0, len(a.records))
	for k := range a.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, *a.records[k].Clone())
	}
	a.lock.Unlock()
	return out
}

// Reset drops every series.
func (a *Aggregator) Reset() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.records = map[string]*Record{}
}
