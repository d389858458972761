package cardiffd

// Timer is used for storing aggregated values for timers.
// Values holds the raw observed durations for the window; the reduced
// fields are filled in at flush time and are zero before that.
type Timer struct {
	Count        int         // The number of timers in the series
	SampledCount float64     // Number of timings received, divided by sampling rate
	PerSecond    float64     // The calculated per second rate
	Mean         float64     // The mean time of the series
	Median       float64     // The median time of the series
	Min          float64     // The minimum time of the series
	Max          float64     // The maximum time of the series
	Sum          float64     // The sum for the series
	Values       []float64   // The raw observed values
	Percentiles  Percentiles // The percentile aggregations of the metric
	Timestamp    Nanotime    // Last time value was updated
	Source       Source      // Source of the metric
	Tags         Tags        // The tags for the timer
}

// NewTimer initialises a new timer.
func NewTimer(timestamp Nanotime, values []float64, source Source, tags Tags) Timer {
	return Timer{Values: values, Timestamp: timestamp, Source: source, Tags: tags.Copy(), SampledCount: float64(len(values))}
}

// NewTimerValues initialises a new timer only from a Values array.
func NewTimerValues(values []float64) Timer {
	return NewTimer(Nanotime(0), values, "", nil)
}

// Timers stores a map of timers by tags.
type Timers map[string]map[string]Timer

// MetricsName returns the name of the aggregated metrics collection.
func (t Timers) MetricsName() string {
	return "Timers"
}

// Delete deletes the metrics from the collection.
func (t Timers) Delete(k string) {
	delete(t, k)
}

// DeleteChild deletes the metrics from the collection for the given tags.
func (t Timers) DeleteChild(k, tags string) {
	delete(t[k], tags)
}

// HasChildren returns whether there are more children nested under the key.
func (t Timers) HasChildren(k string) bool {
	return len(t[k]) != 0
}

// Each iterates over each timer.
func (t Timers) Each(f func(metricName string, tagsKey string, t Timer)) {
	for key, value := range t {
		for tags, timer := range value {
			f(key, tags, timer)
		}
	}
}
