package pool

import (
	"sync"

	"github.com/cardiffd/cardiffd"
)

// MetricPool is a strongly typed wrapper around a sync.Pool for *cardiffd.Metric, it provides
// two main benefits: 1) metrics are very short lived and we create a lot of them, 2) reuse
// of the tags buffer
type MetricPool struct {
	p             sync.Pool
	estimatedTags int
}

// NewMetricPool returns a new metric pool.
func NewMetricPool(estimatedTags int) *MetricPool {
	return &MetricPool{
		p: sync.Pool{
			New: func() interface{} {
				return &cardiffd.Metric{}
			},
		},
		estimatedTags: estimatedTags,
	}
}

// Get returns a *cardiffd.Metric suitable for holding a metric.  The DoneFunc should be called
// when the metric is no longer required.  It must not be called earlier, and the Tags field may
// be reused.
func (mp *MetricPool) Get() *cardiffd.Metric {
	m := mp.p.Get().(*cardiffd.Metric)
	if m.DoneFunc != nil { // it was re-used, and the data needs cleaning
		m.Name = ""
		m.Value = 0
		m.Rate = 1
		m.Tags = m.Tags[:0]
		m.TagsKey = ""
		m.StringValue = ""
		m.IsDelta = false
		m.Source = ""
		m.Timestamp = 0
		m.Type = 0
	} else {
		m.DoneFunc = func() {
			mp.p.Put(m)
		}
		if mp.estimatedTags != 0 {
			m.Tags = make(cardiffd.Tags, 0, mp.estimatedTags)
		}
	}
	return m
}
