package stats

import (
	"context"
	"time"

	"github.com/cardiffd/cardiffd"
)

// InternalStatser is a Statser which feeds metrics back in to the aggregation
// pipeline on a best effort basis.  If all buffers are full, metrics will be
// dropped.  Metrics sent after the context is closed will be silently dropped.
//
// There is an assumption (but not enforcement) that InternalStatser is a
// singleton, and therefore there is no namespacing/tags on the dropped metrics.
type InternalStatser struct {
	flushNotifier

	tags      cardiffd.Tags
	namespace string
	hostname  cardiffd.Source
	handler   cardiffd.PipelineHandler

	consolidator *cardiffd.MetricConsolidator
}

// NewInternalStatser creates a new Statser which sends metrics to the
// supplied handler.
func NewInternalStatser(tags cardiffd.Tags, namespace string, hostname cardiffd.Source, handler cardiffd.PipelineHandler) *InternalStatser {
	if hostname != cardiffd.UnknownSource {
		tags = tags.Concat(cardiffd.Tags{"host:" + string(hostname)})
	}
	return &InternalStatser{
		tags:      tags,
		namespace: namespace,
		hostname:  hostname,
		handler:   handler,
		// We can't just use a MetricMap because everything
		// that writes to it is on its own goroutine.
		consolidator: cardiffd.NewMetricConsolidator(10, 0, nil),
	}
}

func (is *InternalStatser) NotifyFlush(ctx context.Context, d time.Duration) {
	mms := is.consolidator.DrainWithContext(ctx)
	if mms == nil {
		// context is canceled
		return
	}
	is.consolidator.Fill()
	is.handler.DispatchMetricMap(ctx, cardiffd.MergeMaps(mms))
	is.flushNotifier.NotifyFlush(ctx, d)
}

// Gauge sends a gauge metric
func (is *InternalStatser) Gauge(name string, value float64, tags cardiffd.Tags) {
	g := &cardiffd.Metric{
		Name:   name,
		Value:  value,
		Tags:   tags,
		Source: is.hostname,
		Rate:   1,
		Type:   cardiffd.GAUGE,
	}
	is.dispatchMetric(g)
}

// Count sends a counter metric
func (is *InternalStatser) Count(name string, amount float64, tags cardiffd.Tags) {
	c := &cardiffd.Metric{
		Name:   name,
		Value:  amount,
		Tags:   tags,
		Source: is.hostname,
		Rate:   1,
		Type:   cardiffd.COUNTER,
	}
	is.dispatchMetric(c)
}

// Increment sends a counter metric with a value of 1
func (is *InternalStatser) Increment(name string, tags cardiffd.Tags) {
	is.Count(name, 1, tags)
}

// TimingMS sends a timing metric from a millisecond value
func (is *InternalStatser) TimingMS(name string, ms float64, tags cardiffd.Tags) {
	t := &cardiffd.Metric{
		Name:   name,
		Value:  ms,
		Tags:   tags,
		Source: is.hostname,
		Rate:   1,
		Type:   cardiffd.TIMER,
	}
	is.dispatchMetric(t)
}

// TimingDuration sends a timing metric from a time.Duration
func (is *InternalStatser) TimingDuration(name string, d time.Duration, tags cardiffd.Tags) {
	is.TimingMS(name, float64(d)/float64(time.Millisecond), tags)
}

// NewTimer returns a new timer with time set to now
func (is *InternalStatser) NewTimer(name string, tags cardiffd.Tags) *Timer {
	return newTimer(is, name, tags)
}

// WithTags creates a new Statser with additional tags
func (is *InternalStatser) WithTags(tags cardiffd.Tags) Statser {
	return NewTaggedStatser(is, tags)
}

func (is *InternalStatser) dispatchMetric(metric *cardiffd.Metric) {
	// the metric is owned by this file, we can change it freely because we know its origins
	metric.Timestamp = cardiffd.NanoNow()
	if is.namespace != "" {
		metric.Name = is.namespace + "." + metric.Name
	}
	metric.Tags = metric.Tags.Concat(is.tags)
	is.consolidator.ReceiveMetrics([]*cardiffd.Metric{metric})
}
