package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstr(name string, p Policy) *instrument {
	return &instrument{name: name, group: "test", policy: p}
}

func TestRecordMerge(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		a, b   Value
		want   Value
	}{
		{"set keeps last", Policy_Set, 5, 3, 3},
		{"sum adds", Policy_Sum, 5, 3, 8},
		{"max keeps larger", Policy_Max, 5, 3, 5},
		{"min keeps smaller", Policy_Min, 5, 3, 3},
		{"avg divides by count", Policy_Avg, 4, 8, 6},
		{"stopwatch averages", Policy_Stopwatch, 10, 20, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInstr("m", tt.policy)
			r := NewRecord(m, tt.a, 1, Dimension{"k": "v"})
			require.NoError(t, r.Merge(NewRecord(m, tt.b, 1, Dimension{"k": "v"})))
			assert.Equal(t, tt.want, r.Value())
		})
	}
}

func TestRecordMergeMismatch(t *testing.T) {
	sum := newInstr("m", Policy_Sum)
	r := NewRecord(sum, 1, 0, Dimension{"k": "v"})

	assert.ErrorIs(t, r.Merge(NewRecord(newInstr("other", Policy_Sum), 1, 0, Dimension{"k": "v"})), ErrRecordMismatch)
	assert.ErrorIs(t, r.Merge(NewRecord(newInstr("m", Policy_Max), 1, 0, Dimension{"k": "v"})), ErrRecordMismatch)
	assert.ErrorIs(t, r.Merge(NewRecord(sum, 1, 0, Dimension{"k": "w"})), ErrRecordMismatch)
	assert.ErrorIs(t, r.Merge(NewRecord(sum, 1, 0, nil)), ErrRecordMismatch)

	none := NewRecord(newInstr("n", Policy_None), 1, 0, nil)
	assert.Error(t, none.Merge(NewRecord(newInstr("n", Policy_None), 1, 0, nil)))
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := NewRecord(newInstr("m", Policy_Sum), 1, 0, Dimension{"k": "v"})
	cp := r.Clone()
	cp.dimensions["k"] = "changed"
	assert.Equal(t, "v", r.Dimensions()["k"])
}

func TestRecordKey(t *testing.T) {
	m := newInstr("m", Policy_Sum)
	a := NewRecord(m, 1, 0, Dimension{"b": "2", "a": "1"})
	b := NewRecord(m, 1, 0, Dimension{"a": "1", "b": "2"})
	assert.Equal(t, a.Key(nil), b.Key(nil))
	assert.Equal(t, "test*m*a:1,b:2,", a.Key(nil))
	assert.Equal(t, "test*m*b:2,", a.Key(map[string]string{"a": ""}))
}
