package cardiffd

import (
	"fmt"
	"hash/adler32"
)

// MetricType is an enumeration of all the possible types of Metric.
type MetricType byte

const (
	_ = iota
	// COUNTER is statsd counter type
	COUNTER MetricType = iota
	// TIMER is statsd timer type
	TIMER
	// GAUGE is statsd gauge type
	GAUGE
	// SET is statsd set type
	SET
)

func (m MetricType) String() string {
	switch m {
	case SET:
		return "set"
	case GAUGE:
		return "gauge"
	case TIMER:
		return "timer"
	case COUNTER:
		return "counter"
	}
	return "unknown"
}

// Metric represents a single decoded datapoint.
type Metric struct {
	Name        string     // The name of the metric
	Value       float64    // The numeric value of the metric
	Rate        float64    // The sampling rate of the metric, in (0,1]
	Tags        Tags       // The tags for the metric
	TagsKey     string     // The tags rendered as a string to uniquely identify the tagset in a map
	StringValue string     // The string value for set metrics
	IsDelta     bool       // A gauge value prefixed with + or - adjusts the previous value instead of replacing it
	Source      Source     // Source of the metric
	Timestamp   Nanotime   // Receipt time of this metric
	Type        MetricType // The type of metric
	DoneFunc    func()     // Returns the metric to the pool. May be nil. Call Metric.Done(), not this.
}

// Bucket will pick a distribution bucket for this metric to land in.  max is exclusive.
func (m *Metric) Bucket(max int) int {
	return Bucket(m.Name, max)
}

func Bucket(metricName string, max int) int {
	bucket := adler32.Checksum([]byte(metricName))
	return int(bucket % uint32(max))
}

func (m *Metric) String() string {
	return fmt.Sprintf("{%s, %s, %f, %s, %v}", m.Type, m.Name, m.Value, m.StringValue, m.Tags)
}

// Done invokes DoneFunc if it's set, returning the metric to the pool.
func (m *Metric) Done() {
	if m.DoneFunc != nil {
		m.DoneFunc()
	}
}

func (m *Metric) FormatTagsKey() string {
	if m.TagsKey == "" {
		m.TagsKey = FormatTagsKey(m.Source, m.Tags)
	}
	return m.TagsKey
}

func FormatTagsKey(source Source, tags Tags) string {
	t := tags.SortedString()
	if source == "" {
		return t
	}
	return t + "," + StatsdSourceID + ":" + string(source)
}

// AggregatedMetrics is an interface for aggregated metrics.
type AggregatedMetrics interface {
	MetricsName() string
	Delete(string)
	DeleteChild(string, string)
	HasChildren(string) bool
}
