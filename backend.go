package cardiffd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// BackendFactory is a function that returns a Backend.
type BackendFactory func(*viper.Viper, logrus.FieldLogger) (Backend, error)

// SendCallback is called by Backend.SendMetricsAsync() to notify about the result of the operation.
// A list of errors is passed to the callback. It may be empty or contain nil values. Every non-nil value is an error
// that happened while sending metrics.
type SendCallback func([]error)

// Backend represents a delivery destination for reduced metrics.
// If Backend implements the Runner interface, it's started in a new goroutine at creation.
type Backend interface {
	// Name returns the name of the backend.
	Name() string
	// SendMetricsAsync flushes the metrics to the backend, preparing the payload synchronously but doing the send asynchronously.
	// Must not read/write MetricMap after returning.
	SendMetricsAsync(context.Context, *MetricMap, SendCallback)
}

// RawBackend is a Backend which receives the drained, pre-reduction
// snapshot instead of reduced values. Forwarding raw samples is what keeps
// percentile aggregation statistically correct across tiers; merging
// already-reduced percentiles is not equivalent to re-deriving them from
// raw samples.
type RawBackend interface {
	Backend
	// SendRawAsync forwards the raw snapshot, preparing the payload synchronously but doing the send asynchronously.
	// Implementations read only raw accumulator fields (counter sums, gauge values, set values, timer Values).
	SendRawAsync(context.Context, *MetricMap, SendCallback)
}
