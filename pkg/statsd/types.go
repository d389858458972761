package statsd

import (
	"context"
	"time"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// ProcessFunc is a function that gets executed by Aggregator with its state passed into the function.
type ProcessFunc func(*cardiffd.MetricMap)

// DispatcherProcessFunc is a function that gets executed by worker goroutines with the worker id and
// its Aggregator passed into the function.
type DispatcherProcessFunc func(int, Aggregator)

// Aggregator is an object that aggregates statsd metrics.
// The function NewMetricAggregator should be used to create the objects.
//
// Incoming metrics should be passed via ReceiveMap function.
type Aggregator interface {
	ReceiveMap(mm *cardiffd.MetricMap)
	Flush(interval time.Duration)
	Process(ProcessFunc)
	Reset()
	TrackMetrics(statser stats.Statser)
}

// AggregateProcesser is an interface to run a function against each Aggregator, in the goroutine
// context of the Aggregator.
type AggregateProcesser interface {
	Process(ctx context.Context, fn DispatcherProcessFunc) cardiffd.Wait
}

// Datagram is a received UDP datagram that has not been parsed.
type Datagram struct {
	IP       cardiffd.Source
	Msg      []byte
	DoneFunc func() // to be called once the datagram has been parsed and msg is no longer needed
}
