package fixtures

import (
	"github.com/cardiffd/cardiffd"
)

type MetricOpt func(m *cardiffd.Metric)

// MakeMetric provides a way to build a metric for tests.
func MakeMetric(opts ...MetricOpt) *cardiffd.Metric {
	m := &cardiffd.Metric{
		Type: cardiffd.COUNTER,
		Name: "name",
		Rate: 1,
		Tags: cardiffd.Tags{
			"foo:bar",
		},
		Source: "baz",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func Name(n string) MetricOpt {
	return func(m *cardiffd.Metric) {
		m.Name = n
	}
}

func MType(mt cardiffd.MetricType) MetricOpt {
	return func(m *cardiffd.Metric) {
		m.Type = mt
	}
}

func Value(v float64) MetricOpt {
	return func(m *cardiffd.Metric) {
		m.Value = v
	}
}

func Rate(r float64) MetricOpt {
	return func(m *cardiffd.Metric) {
		m.Rate = r
	}
}

func AddTag(t ...string) MetricOpt {
	return func(m *cardiffd.Metric) {
		m.Tags = append(m.Tags, t...)
	}
}

func DropSource(m *cardiffd.Metric) {
	m.Source = cardiffd.UnknownSource
}

// SortCompare func for metrics so they can be compared with require.EqualValues
// Invoke with sort.Slice(x, SortCompare(x))
func SortCompare(ms []*cardiffd.Metric) func(i, j int) bool {
	return func(i, j int) bool {
		if ms[i].Name == ms[j].Name {
			if len(ms[i].Tags) == len(ms[j].Tags) { // This is not exactly accurate, but close enough with our data
				if ms[i].Type == cardiffd.SET {
					return ms[i].StringValue < ms[j].StringValue
				} else {
					return ms[i].Value < ms[j].Value
				}
			}
			return len(ms[i].Tags) < len(ms[j].Tags)
		}
		return ms[i].Name < ms[j].Name
	}
}
