package cardiffd

import (
	"context"
	"time"
)

// Nanotime is the number of nanoseconds elapsed since January 1, 1970 UTC.
// Get the value with time.Now().UnixNano().
type Nanotime int64

func NanoNow() Nanotime {
	return Nanotime(time.Now().UnixNano())
}

// Source is the hostname or IP address a metric originated from.
type Source string

// UnknownSource is the source of a metric when it cannot be determined.
const UnknownSource Source = ""

// Wait blocks until an earlier asynchronous operation completes.
type Wait func()

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)

// Runner exposes a Runnable through an interface.
type Runner interface {
	Run(context.Context)
}

func MaybeAppendRunnable(runnables []Runnable, maybeRunner interface{}) []Runnable {
	if r, ok := maybeRunner.(Runner); ok {
		runnables = append(runnables, r.Run)
	}
	return runnables
}

// RawMetricHandler is an interface that accepts a Metric for processing.  Raw refers to pre-aggregation, not
// pre-consolidation.
type RawMetricHandler interface {
	DispatchMetrics(ctx context.Context, m []*Metric)
	DispatchMetricMap(ctx context.Context, mm *MetricMap)
}

// PipelineHandler can be used to handle metrics, it provides an estimate of how many tags it may add.
type PipelineHandler interface {
	RawMetricHandler
	// EstimatedTags returns a guess for how many tags to pre-allocate
	EstimatedTags() int
}
