package statsd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/fixtures"
)

func newTestBackendHandler(numWorkers int) *BackendHandler {
	factory := AggregatorFactoryFunc(func() Aggregator {
		return NewMetricAggregator(nil, 0)
	})
	return NewBackendHandler(numWorkers, 10, 2, 50*time.Millisecond, factory)
}

// sumCounter collects the value of a counter across all worker aggregators.
func sumCounter(ctx context.Context, bh *BackendHandler, name string) int64 {
	var mu sync.Mutex
	var sum int64
	w := bh.Process(ctx, func(workerID int, aggr Aggregator) {
		aggr.Process(func(mm *cardiffd.MetricMap) {
			if tagged, ok := mm.Counters[name]; ok {
				mu.Lock()
				for _, counter := range tagged {
					sum += counter.Value
				}
				mu.Unlock()
			}
		})
	})
	w()
	mu.Lock()
	defer mu.Unlock()
	return sum
}

// drainCounters reads and resets the named counters across all worker
// aggregators, returning the total drained.  The read and the reset happen
// on the worker goroutine, so they are atomic with respect to incoming merges.
func drainCounters(ctx context.Context, bh *BackendHandler, names ...string) int64 {
	var mu sync.Mutex
	var sum int64
	w := bh.Process(ctx, func(workerID int, aggr Aggregator) {
		aggr.Process(func(mm *cardiffd.MetricMap) {
			mu.Lock()
			for _, name := range names {
				for _, counter := range mm.Counters[name] {
					sum += counter.Value
				}
			}
			mu.Unlock()
		})
		aggr.Reset()
	})
	w()
	mu.Lock()
	defer mu.Unlock()
	return sum
}

func TestBackendHandlerAggregates(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, stopClock := fixtures.NewAdvancingClock(ctx)
	defer stopClock()

	bh := newTestBackendHandler(2)
	go bh.Run(ctx)

	bh.DispatchMetrics(ctx, []*cardiffd.Metric{
		{Name: "c", Value: 1, Rate: 1, Type: cardiffd.COUNTER},
		{Name: "c", Value: 2, Rate: 1, Type: cardiffd.COUNTER},
	})

	require.Eventually(t, func() bool {
		return sumCounter(ctx, bh, "c") == 3
	}, 4*time.Second, time.Millisecond)
}

func TestBackendHandlerDispatchMetricMap(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, stopClock := fixtures.NewAdvancingClock(ctx)
	defer stopClock()

	bh := newTestBackendHandler(2)
	go bh.Run(ctx)

	mm := cardiffd.NewMetricMap()
	mm.Receive(&cardiffd.Metric{Name: "c", Value: 5, Rate: 1, Type: cardiffd.COUNTER})
	bh.DispatchMetricMap(ctx, mm)

	require.Eventually(t, func() bool {
		return sumCounter(ctx, bh, "c") == 5
	}, 4*time.Second, time.Millisecond)
}

func TestBackendHandlerProcessVisitsEveryWorker(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, stopClock := fixtures.NewAdvancingClock(ctx)
	defer stopClock()

	bh := newTestBackendHandler(4)
	go bh.Run(ctx)

	var mu sync.Mutex
	seen := make(map[int]struct{})
	w := bh.Process(ctx, func(workerID int, aggr Aggregator) {
		mu.Lock()
		seen[workerID] = struct{}{}
		mu.Unlock()
	})
	w()

	assert.Len(t, seen, 4)
}

func TestBackendHandlerConcurrentRecordAndDrain(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx, stopClock := fixtures.NewAdvancingClock(ctx)
	defer stopClock()

	bh := newTestBackendHandler(4)
	go bh.Run(ctx)

	const producers = 4
	const perProducer = 100
	names := []string{"c0", "c1", "c2", "c3"}

	var producerWg sync.WaitGroup
	producerWg.Add(producers)
	for i := 0; i < producers; i++ {
		name := names[i]
		go func() {
			defer producerWg.Done()
			for j := 0; j < perProducer; j++ {
				bh.DispatchMetrics(ctx, []*cardiffd.Metric{
					{Name: name, Value: 1, Rate: 1, Type: cardiffd.COUNTER},
				})
			}
		}()
	}

	// Drain concurrently with the producers.  Every recorded value must be
	// drained exactly once, so the running total converges on the number of
	// values produced and never passes it.
	var drained int64
	require.Eventually(t, func() bool {
		drained += drainCounters(ctx, bh, names...)
		return drained == producers*perProducer
	}, 8*time.Second, time.Millisecond)
	producerWg.Wait()

	assert.EqualValues(t, producers*perProducer, drained)
	assert.Zero(t, drainCounters(ctx, bh, names...))
}

func TestBackendHandlerReleasesMetrics(t *testing.T) {
	t.Parallel()
	bh := newTestBackendHandler(1)

	released := 0
	bh.DispatchMetrics(context.Background(), []*cardiffd.Metric{
		{Name: "c", Value: 1, Rate: 1, Type: cardiffd.COUNTER, DoneFunc: func() { released++ }},
	})
	assert.Equal(t, 1, released)
}
