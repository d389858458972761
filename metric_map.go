package cardiffd

import (
	"github.com/sirupsen/logrus"
)

// MetricMap is used for storing aggregated Metric values.
// The keys of each map are metric names.
//
// Within one flush window a metric name maps to exactly one metric type.
// A sample whose type disagrees with the established type for its name is
// dropped and counted in TypeConflicts; the existing accumulator is never
// touched and the sample is never coerced.
type MetricMap struct {
	Counters Counters
	Timers   Timers
	Gauges   Gauges
	Sets     Sets

	// TypeConflicts is the number of samples dropped due to the
	// one-type-per-name invariant. Not synchronized; a MetricMap is
	// owned by a single goroutine at any time.
	TypeConflicts uint64
}

func NewMetricMap() *MetricMap {
	return &MetricMap{
		Counters: Counters{},
		Timers:   Timers{},
		Gauges:   Gauges{},
		Sets:     Sets{},
	}
}

// established returns the type currently holding the name, or 0 if the
// name is unseen in this window.
func (mm *MetricMap) established(name string) MetricType {
	if _, ok := mm.Counters[name]; ok {
		return COUNTER
	}
	if _, ok := mm.Timers[name]; ok {
		return TIMER
	}
	if _, ok := mm.Gauges[name]; ok {
		return GAUGE
	}
	if _, ok := mm.Sets[name]; ok {
		return SET
	}
	return 0
}

// Receive adds a single Metric to the MetricMap, and releases the Metric.
func (mm *MetricMap) Receive(m *Metric) {
	tagsKey := m.FormatTagsKey()

	if est := mm.established(m.Name); est != 0 && est != m.Type {
		mm.TypeConflicts++
		m.Done()
		return
	}

	switch m.Type {
	case COUNTER:
		mm.receiveCounter(m, tagsKey)
	case GAUGE:
		mm.receiveGauge(m, tagsKey)
	case TIMER:
		mm.receiveTimer(m, tagsKey)
	case SET:
		mm.receiveSet(m, tagsKey)
	default:
		logrus.StandardLogger().Errorf("Unknown metric type %s for %s", m.Type, m.Name)
	}
	m.Done()
}

func MergeMaps(mms []*MetricMap) *MetricMap {
	mm := NewMetricMap()
	for _, mmFrom := range mms {
		mm.Merge(mmFrom)
	}
	return mm
}

// Merge folds mmFrom into mm. The one-type-per-name invariant is enforced
// here too: names may arrive with conflicting types from different
// consolidation slots or upstream frames, and the accumulator established
// in mm wins.
func (mm *MetricMap) Merge(mmFrom *MetricMap) {
	mmFrom.Counters.Each(func(metricName string, tagsKey string, c Counter) {
		if mm.conflicts(metricName, COUNTER) {
			return
		}
		mm.MergeCounter(metricName, tagsKey, c)
	})
	mmFrom.Gauges.Each(func(metricName string, tagsKey string, g Gauge) {
		if mm.conflicts(metricName, GAUGE) {
			return
		}
		mm.MergeGauge(metricName, tagsKey, g)
	})
	mmFrom.Sets.Each(func(metricName string, tagsKey string, s Set) {
		if mm.conflicts(metricName, SET) {
			return
		}
		mm.MergeSet(metricName, tagsKey, s)
	})
	mmFrom.Timers.Each(func(metricName string, tagsKey string, t Timer) {
		if mm.conflicts(metricName, TIMER) {
			return
		}
		mm.MergeTimer(metricName, tagsKey, t)
	})
	mm.TypeConflicts += mmFrom.TypeConflicts
}

func (mm *MetricMap) conflicts(name string, mt MetricType) bool {
	est := mm.established(name)
	if est != 0 && est != mt {
		mm.TypeConflicts++
		return true
	}
	return false
}

func (mm *MetricMap) MergeCounter(metricName string, tagsKey string, counterFrom Counter) {
	v, ok := mm.Counters[metricName]
	if ok {
		counterInto, ok := v[tagsKey]
		if ok {
			if counterInto.Timestamp < counterFrom.Timestamp {
				counterInto.Timestamp = counterFrom.Timestamp
			}
			counterInto.Value += counterFrom.Value
		} else {
			counterInto = counterFrom
		}
		v[tagsKey] = counterInto
	} else {
		mm.Counters[metricName] = map[string]Counter{
			tagsKey: counterFrom,
		}
	}
}

func (mm *MetricMap) MergeGauge(metricName string, tagsKey string, gaugeFrom Gauge) {
	v, ok := mm.Gauges[metricName]
	if ok {
		gaugeInto, ok := v[tagsKey]
		if ok {
			// The most recent absolute observation is the base; pending
			// deltas from both sides are carried so each is applied once.
			if gaugeFrom.Absolute && (!gaugeInto.Absolute || gaugeInto.Timestamp < gaugeFrom.Timestamp) {
				gaugeInto.Value = gaugeFrom.Value
				gaugeInto.Absolute = true
			}
			gaugeInto.Delta += gaugeFrom.Delta
			if gaugeInto.Timestamp < gaugeFrom.Timestamp {
				gaugeInto.Timestamp = gaugeFrom.Timestamp
			}
		} else {
			gaugeInto = gaugeFrom
		}
		v[tagsKey] = gaugeInto
	} else {
		mm.Gauges[metricName] = map[string]Gauge{
			tagsKey: gaugeFrom,
		}
	}
}

func (mm *MetricMap) MergeSet(metricName string, tagsKey string, setFrom Set) {
	v, ok := mm.Sets[metricName]
	if ok {
		setInto, ok := v[tagsKey]
		if ok {
			if setInto.Timestamp < setFrom.Timestamp {
				setInto.Timestamp = setFrom.Timestamp
			}
			for setValue := range setFrom.Values {
				setInto.Values[setValue] = struct{}{}
			}
		} else {
			setInto = setFrom
		}
		v[tagsKey] = setInto
	} else {
		mm.Sets[metricName] = map[string]Set{
			tagsKey: setFrom,
		}
	}
}

func (mm *MetricMap) MergeTimer(metricName string, tagsKey string, timerFrom Timer) {
	v, ok := mm.Timers[metricName]
	if ok {
		timerInto, ok := v[tagsKey]
		if ok {
			if timerInto.Timestamp < timerFrom.Timestamp {
				timerInto.Timestamp = timerFrom.Timestamp
			}
			timerInto.Values = append(timerInto.Values, timerFrom.Values...)
			timerInto.SampledCount += timerFrom.SampledCount
		} else {
			timerInto = timerFrom
		}
		v[tagsKey] = timerInto
	} else {
		mm.Timers[metricName] = map[string]Timer{
			tagsKey: timerFrom,
		}
	}
}

func (mm *MetricMap) IsEmpty() bool {
	return len(mm.Counters)+len(mm.Timers)+len(mm.Sets)+len(mm.Gauges) == 0
}

// Split will split a MetricMap up in to multiple MetricMaps, where each one contains metrics only for its buckets.
func (mm *MetricMap) Split(count int) []*MetricMap {
	maps := make([]*MetricMap, count)
	for i := 0; i < count; i++ {
		maps[i] = NewMetricMap()
	}

	mm.Counters.Each(func(metricName string, tagsKey string, c Counter) {
		mmSplit := maps[Bucket(metricName, count)]
		if v, ok := mmSplit.Counters[metricName]; ok {
			v[tagsKey] = c
		} else {
			mmSplit.Counters[metricName] = map[string]Counter{tagsKey: c}
		}
	})
	mm.Gauges.Each(func(metricName string, tagsKey string, g Gauge) {
		mmSplit := maps[Bucket(metricName, count)]
		if v, ok := mmSplit.Gauges[metricName]; ok {
			v[tagsKey] = g
		} else {
			mmSplit.Gauges[metricName] = map[string]Gauge{tagsKey: g}
		}
	})
	mm.Timers.Each(func(metricName string, tagsKey string, t Timer) {
		mmSplit := maps[Bucket(metricName, count)]
		if v, ok := mmSplit.Timers[metricName]; ok {
			v[tagsKey] = t
		} else {
			mmSplit.Timers[metricName] = map[string]Timer{tagsKey: t}
		}
	})
	mm.Sets.Each(func(metricName string, tagsKey string, s Set) {
		mmSplit := maps[Bucket(metricName, count)]
		if v, ok := mmSplit.Sets[metricName]; ok {
			v[tagsKey] = s
		} else {
			mmSplit.Sets[metricName] = map[string]Set{tagsKey: s}
		}
	})

	return maps
}

func (mm *MetricMap) receiveCounter(m *Metric, tagsKey string) {
	value := int64(m.Value / m.Rate)
	v, ok := mm.Counters[m.Name]
	if ok {
		c, ok := v[tagsKey]
		if ok {
			c.Value += value
			if m.Timestamp > c.Timestamp {
				c.Timestamp = m.Timestamp
			}
		} else {
			c = NewCounter(m.Timestamp, value, m.Source, m.Tags)
		}
		v[tagsKey] = c
	} else {
		mm.Counters[m.Name] = map[string]Counter{
			tagsKey: NewCounter(m.Timestamp, value, m.Source, m.Tags),
		}
	}
}

func (mm *MetricMap) receiveGauge(m *Metric, tagsKey string) {
	v, ok := mm.Gauges[m.Name]
	if ok {
		g, ok := v[tagsKey]
		if ok {
			if m.IsDelta {
				g.Delta += m.Value
			} else {
				// An absolute observation supersedes any deltas seen before it.
				g.Value = m.Value
				g.Delta = 0
				g.Absolute = true
			}
			if m.Timestamp > g.Timestamp {
				g.Timestamp = m.Timestamp
			}
		} else {
			g = mm.newGauge(m)
		}
		v[tagsKey] = g
	} else {
		mm.Gauges[m.Name] = map[string]Gauge{
			tagsKey: mm.newGauge(m),
		}
	}
}

func (mm *MetricMap) newGauge(m *Metric) Gauge {
	if m.IsDelta {
		return Gauge{Delta: m.Value, Timestamp: m.Timestamp, Source: m.Source, Tags: m.Tags.Copy()}
	}
	return NewGauge(m.Timestamp, m.Value, m.Source, m.Tags)
}

func (mm *MetricMap) receiveTimer(m *Metric, tagsKey string) {
	v, ok := mm.Timers[m.Name]
	if ok {
		t, ok := v[tagsKey]
		if ok {
			t.Values = append(t.Values, m.Value)
			if m.Timestamp > t.Timestamp {
				t.Timestamp = m.Timestamp
			}
			t.SampledCount += 1.0 / m.Rate
		} else {
			t = NewTimer(m.Timestamp, []float64{m.Value}, m.Source, m.Tags)
			t.SampledCount = 1.0 / m.Rate
		}
		v[tagsKey] = t
	} else {
		t := NewTimer(m.Timestamp, []float64{m.Value}, m.Source, m.Tags)
		t.SampledCount = 1.0 / m.Rate

		mm.Timers[m.Name] = map[string]Timer{
			tagsKey: t,
		}
	}
}

func (mm *MetricMap) receiveSet(m *Metric, tagsKey string) {
	v, ok := mm.Sets[m.Name]
	if ok {
		s, ok := v[tagsKey]
		if ok {
			s.Values[m.StringValue] = struct{}{}
			if m.Timestamp > s.Timestamp {
				s.Timestamp = m.Timestamp
			}
		} else {
			s = NewSet(m.Timestamp, map[string]struct{}{m.StringValue: {}}, m.Source, m.Tags)
		}
		v[tagsKey] = s
	} else {
		mm.Sets[m.Name] = map[string]Set{
			tagsKey: NewSet(m.Timestamp, map[string]struct{}{m.StringValue: {}}, m.Source, m.Tags),
		}
	}
}
