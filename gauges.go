package cardiffd

// Gauge is used for storing aggregated values for gauges.
// A gauge is last-write-wins within a window; delta samples adjust the
// previous value instead of replacing it.
//
// Delta samples are accumulated in Delta rather than folded into Value
// immediately, so that merging two Gauges never loses or double-applies
// an adjustment. Absolute records whether Value was ever set by an
// absolute sample; a Gauge built purely from deltas has Absolute false
// and adjusts whatever value it is merged on to. The reducer folds
// Delta into Value when the window closes.
type Gauge struct {
	Value     float64  // The last absolute value observed
	Delta     float64  // Pending delta adjustments not yet folded into Value
	Timestamp Nanotime // Last time value was updated
	Source    Source   // Source of the metric
	Tags      Tags     // The tags for the gauge
	Absolute  bool     // Whether Value holds an absolute observation
}

// NewGauge initialises a new gauge from an absolute observation.
func NewGauge(timestamp Nanotime, value float64, source Source, tags Tags) Gauge {
	return Gauge{Value: value, Absolute: true, Timestamp: timestamp, Source: source, Tags: tags.Copy()}
}

// Gauges stores a map of gauges by tags.
type Gauges map[string]map[string]Gauge

// MetricsName returns the name of the aggregated metrics collection.
func (g Gauges) MetricsName() string {
	return "Gauges"
}

// Delete deletes the metrics from the collection.
func (g Gauges) Delete(k string) {
	delete(g, k)
}

// DeleteChild deletes the metrics from the collection for the given tags.
func (g Gauges) DeleteChild(k, t string) {
	delete(g[k], t)
}

// HasChildren returns whether there are more children nested under the key.
func (g Gauges) HasChildren(k string) bool {
	return len(g[k]) != 0
}

// Each iterates over each gauge.
func (g Gauges) Each(f func(metricName string, tagsKey string, g Gauge)) {
	for key, value := range g {
		for tags, gauge := range value {
			f(key, tags, gauge)
		}
	}
}
