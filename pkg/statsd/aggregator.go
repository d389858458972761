package statsd

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// MetricAggregator aggregates metrics.
type MetricAggregator struct {
	metricMapsReceived uint64
	expiryInterval     time.Duration // How often to expire metrics
	percentThresholds  map[float64]string
	now                func() time.Time // Returns current time. Useful for testing.
	statser            stats.Statser
	metricMap          *cardiffd.MetricMap
}

// NewMetricAggregator creates a new MetricAggregator object.
func NewMetricAggregator(percentThresholds []float64, expiryInterval time.Duration) *MetricAggregator {
	a := MetricAggregator{
		expiryInterval:    expiryInterval,
		percentThresholds: make(map[float64]string, len(percentThresholds)),
		now:               time.Now,
		statser:           stats.NewNullStatser(), // Will probably be replaced via TrackMetrics
		metricMap:         cardiffd.NewMetricMap(),
	}
	for _, pct := range percentThresholds {
		a.percentThresholds[pct] = "p" + strconv.FormatFloat(pct, 'f', -1, 64)
	}
	return &a
}

// round rounds a number to its nearest integer value.
// poor man's math.Round(x) = math.Floor(x + 0.5).
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Flush prepares the contents of a MetricAggregator for sending via the backends.
func (a *MetricAggregator) Flush(flushInterval time.Duration) {
	a.statser.Gauge("aggregator.metricmaps_received", float64(a.metricMapsReceived), nil)
	a.statser.Count("aggregator.type_conflicts", float64(a.metricMap.TypeConflicts), nil)

	flushInSeconds := float64(flushInterval) / float64(time.Second)

	a.metricMap.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
		counter.PerSecond = float64(counter.Value) / flushInSeconds
		a.metricMap.Counters[key][tagsKey] = counter
	})

	a.metricMap.Gauges.Each(func(key, tagsKey string, gauge cardiffd.Gauge) {
		// Fold pending deltas into the reported value. The folded value
		// becomes the base for the next window.
		gauge.Value += gauge.Delta
		gauge.Delta = 0
		gauge.Absolute = true
		a.metricMap.Gauges[key][tagsKey] = gauge
	})

	a.metricMap.Timers.Each(func(key, tagsKey string, timer cardiffd.Timer) {
		if count := len(timer.Values); count > 0 {
			sort.Float64s(timer.Values)
			timer.Min = timer.Values[0]
			timer.Max = timer.Values[count-1]

			var sum float64
			for _, v := range timer.Values {
				sum += v
			}
			timer.Sum = sum
			timer.Mean = sum / float64(count)

			mid := count / 2
			if count%2 == 0 {
				timer.Median = (timer.Values[mid-1] + timer.Values[mid]) / 2
			} else {
				timer.Median = timer.Values[mid]
			}

			for pct, name := range a.percentThresholds {
				// Nearest-rank method, clamped to the observed values.
				rank := int(math.Ceil(pct / 100 * float64(count)))
				if rank < 1 {
					rank = 1
				} else if rank > count {
					rank = count
				}
				timer.Percentiles.Set(name, timer.Values[rank-1])
			}

			timer.Count = int(round(timer.SampledCount))
			timer.PerSecond = timer.SampledCount / flushInSeconds
		} else {
			timer.Count = 0
			timer.SampledCount = 0
			timer.PerSecond = 0
		}
		a.metricMap.Timers[key][tagsKey] = timer
	})
}

// TrackMetrics attaches a Statser to the aggregator for internal metrics.
func (a *MetricAggregator) TrackMetrics(statser stats.Statser) {
	a.statser = statser
}

func (a *MetricAggregator) Process(f ProcessFunc) {
	f(a.metricMap)
}

func isExpired(interval time.Duration, now, ts cardiffd.Nanotime) bool {
	return interval != 0 && time.Duration(now-ts) > interval
}

func deleteMetric(key, tagsKey string, metrics cardiffd.AggregatedMetrics) {
	metrics.DeleteChild(key, tagsKey)
	if !metrics.HasChildren(key) {
		metrics.Delete(key)
	}
}

// Reset clears the contents of a MetricAggregator.
func (a *MetricAggregator) Reset() {
	a.metricMapsReceived = 0
	a.metricMap.TypeConflicts = 0
	nowNano := cardiffd.Nanotime(a.now().UnixNano())

	a.metricMap.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
		if isExpired(a.expiryInterval, nowNano, counter.Timestamp) {
			deleteMetric(key, tagsKey, a.metricMap.Counters)
		} else {
			a.metricMap.Counters[key][tagsKey] = cardiffd.Counter{
				Timestamp: counter.Timestamp,
				Source:    counter.Source,
				Tags:      counter.Tags,
			}
		}
	})

	a.metricMap.Timers.Each(func(key, tagsKey string, timer cardiffd.Timer) {
		if isExpired(a.expiryInterval, nowNano, timer.Timestamp) {
			deleteMetric(key, tagsKey, a.metricMap.Timers)
		} else {
			a.metricMap.Timers[key][tagsKey] = cardiffd.Timer{
				Timestamp: timer.Timestamp,
				Source:    timer.Source,
				Tags:      timer.Tags,
				Values:    timer.Values[:0],
			}
		}
	})

	a.metricMap.Gauges.Each(func(key, tagsKey string, gauge cardiffd.Gauge) {
		if isExpired(a.expiryInterval, nowNano, gauge.Timestamp) {
			deleteMetric(key, tagsKey, a.metricMap.Gauges)
		}
		// No reset for gauges, they keep the last value until expiration
	})

	a.metricMap.Sets.Each(func(key, tagsKey string, set cardiffd.Set) {
		if isExpired(a.expiryInterval, nowNano, set.Timestamp) {
			deleteMetric(key, tagsKey, a.metricMap.Sets)
		} else {
			a.metricMap.Sets[key][tagsKey] = cardiffd.Set{
				Values:    make(map[string]struct{}),
				Timestamp: set.Timestamp,
				Source:    set.Source,
				Tags:      set.Tags,
			}
		}
	})
}

// ReceiveMap takes a single metric map and will aggregate the values
func (a *MetricAggregator) ReceiveMap(mm *cardiffd.MetricMap) {
	a.metricMapsReceived++
	a.metricMap.Merge(mm)
}
