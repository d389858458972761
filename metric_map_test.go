package cardiffd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveMetric(mm *MetricMap, m Metric) {
	if m.Rate == 0 {
		m.Rate = 1
	}
	mm.Receive(&m)
}

func TestReceiveCounterAppliesSampleRate(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "c", Value: 1, Rate: 0.1, Type: COUNTER})
	receiveMetric(mm, Metric{Name: "c", Value: 2, Type: COUNTER})

	require.Contains(t, mm.Counters, "c")
	assert.Equal(t, int64(12), mm.Counters["c"][""].Value)
}

func TestReceiveGaugeDelta(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "g", Value: 5, Type: GAUGE})
	receiveMetric(mm, Metric{Name: "g", Value: 3, IsDelta: true, Type: GAUGE})
	assert.Equal(t, 5.0, mm.Gauges["g"][""].Value)
	assert.Equal(t, 3.0, mm.Gauges["g"][""].Delta)

	receiveMetric(mm, Metric{Name: "g", Value: 2, IsDelta: true, Type: GAUGE})
	assert.Equal(t, 5.0, mm.Gauges["g"][""].Value)
	assert.Equal(t, 5.0, mm.Gauges["g"][""].Delta)

	// an absolute sample discards the deltas that preceded it
	receiveMetric(mm, Metric{Name: "g", Value: 1, Type: GAUGE})
	assert.Equal(t, 1.0, mm.Gauges["g"][""].Value)
	assert.Equal(t, 0.0, mm.Gauges["g"][""].Delta)
	assert.True(t, mm.Gauges["g"][""].Absolute)
}

func TestReceiveGaugeDeltaWithoutBase(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "g", Value: 4, IsDelta: true, Type: GAUGE})

	g := mm.Gauges["g"][""]
	assert.False(t, g.Absolute)
	assert.Equal(t, 0.0, g.Value)
	assert.Equal(t, 4.0, g.Delta)
}

func TestReceiveTimerTracksSampledCount(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "t", Value: 10, Rate: 0.5, Type: TIMER})
	receiveMetric(mm, Metric{Name: "t", Value: 20, Rate: 0.5, Type: TIMER})

	timer := mm.Timers["t"][""]
	assert.Equal(t, []float64{10, 20}, timer.Values)
	assert.Equal(t, 4.0, timer.SampledCount)
}

func TestReceiveSetCollectsDistinctValues(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "s", StringValue: "joe", Type: SET})
	receiveMetric(mm, Metric{Name: "s", StringValue: "bob", Type: SET})
	receiveMetric(mm, Metric{Name: "s", StringValue: "joe", Type: SET})

	assert.Len(t, mm.Sets["s"][""].Values, 2)
}

func TestReceiveDropsTypeConflicts(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	receiveMetric(mm, Metric{Name: "m", Value: 5, Type: COUNTER})
	receiveMetric(mm, Metric{Name: "m", Value: 3, Type: GAUGE})
	receiveMetric(mm, Metric{Name: "m", Value: 1, Type: COUNTER})

	// the established accumulator is untouched, the conflicting sample is counted
	assert.Equal(t, uint64(1), mm.TypeConflicts)
	assert.NotContains(t, mm.Gauges, "m")
	assert.Equal(t, int64(6), mm.Counters["m"][""].Value)
}

func TestReceiveReleasesMetric(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	released := 0
	m := &Metric{Name: "c", Value: 1, Rate: 1, Type: COUNTER, DoneFunc: func() { released++ }}
	mm.Receive(m)
	assert.Equal(t, 1, released)
}

func TestMergeMaps(t *testing.T) {
	t.Parallel()
	mm1 := NewMetricMap()
	receiveMetric(mm1, Metric{Name: "c", Value: 5, Type: COUNTER})
	receiveMetric(mm1, Metric{Name: "t", Value: 1, Type: TIMER})
	receiveMetric(mm1, Metric{Name: "s", StringValue: "a", Type: SET})
	receiveMetric(mm1, Metric{Name: "g", Value: 1, Timestamp: 1, Type: GAUGE})
	mm1.TypeConflicts = 2

	mm2 := NewMetricMap()
	receiveMetric(mm2, Metric{Name: "c", Value: 3, Type: COUNTER})
	receiveMetric(mm2, Metric{Name: "t", Value: 2, Type: TIMER})
	receiveMetric(mm2, Metric{Name: "s", StringValue: "b", Type: SET})
	receiveMetric(mm2, Metric{Name: "g", Value: 9, Timestamp: 2, Type: GAUGE})
	mm2.TypeConflicts = 1

	merged := MergeMaps([]*MetricMap{mm1, mm2})
	assert.Equal(t, int64(8), merged.Counters["c"][""].Value)
	assert.Equal(t, []float64{1, 2}, merged.Timers["t"][""].Values)
	assert.Len(t, merged.Sets["s"][""].Values, 2)
	// latest gauge wins
	assert.Equal(t, 9.0, merged.Gauges["g"][""].Value)
	assert.Equal(t, uint64(3), merged.TypeConflicts)
}

func TestMergeDropsTypeConflicts(t *testing.T) {
	t.Parallel()
	mm1 := NewMetricMap()
	receiveMetric(mm1, Metric{Name: "x", Value: 5, Type: COUNTER})

	mm2 := NewMetricMap()
	receiveMetric(mm2, Metric{Name: "x", Value: 3, Type: GAUGE})

	merged := MergeMaps([]*MetricMap{mm1, mm2})
	assert.Equal(t, int64(5), merged.Counters["x"][""].Value)
	assert.NotContains(t, merged.Gauges, "x")
	assert.Equal(t, uint64(1), merged.TypeConflicts)
}

func TestMergeGaugeCarriesDeltas(t *testing.T) {
	t.Parallel()
	mm1 := NewMetricMap()
	receiveMetric(mm1, Metric{Name: "foo", Value: 10, Timestamp: 1, Type: GAUGE})

	mm2 := NewMetricMap()
	receiveMetric(mm2, Metric{Name: "foo", Value: 5, IsDelta: true, Timestamp: 2, Type: GAUGE})

	merged := MergeMaps([]*MetricMap{mm1, mm2})
	g := merged.Gauges["foo"][""]
	assert.Equal(t, 10.0, g.Value)
	assert.Equal(t, 5.0, g.Delta)
	assert.True(t, g.Absolute)

	// merge order must not matter for the final adjusted value
	merged = MergeMaps([]*MetricMap{mm2, mm1})
	g = merged.Gauges["foo"][""]
	assert.Equal(t, 10.0, g.Value)
	assert.Equal(t, 5.0, g.Delta)
	assert.True(t, g.Absolute)
}

func TestSplitGroupsByName(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, name := range names {
		receiveMetric(mm, Metric{Name: name, Value: 1, Type: COUNTER})
		receiveMetric(mm, Metric{Name: name + ".timer", Value: 1, Type: TIMER})
	}

	maps := mm.Split(3)
	require.Len(t, maps, 3)
	total := 0
	for _, split := range maps {
		for name := range split.Counters {
			assert.Equal(t, Bucket(name, 3), indexOf(t, maps, split))
			total++
		}
		for name := range split.Timers {
			assert.Equal(t, Bucket(name, 3), indexOf(t, maps, split))
			total++
		}
	}
	assert.Equal(t, 2*len(names), total)
}

func indexOf(t *testing.T, maps []*MetricMap, mm *MetricMap) int {
	for i, m := range maps {
		if m == mm {
			return i
		}
	}
	t.Fatal("map not found")
	return -1
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()
	mm := NewMetricMap()
	assert.True(t, mm.IsEmpty())
	receiveMetric(mm, Metric{Name: "c", Value: 1, Type: COUNTER})
	assert.False(t, mm.IsEmpty())
}
