package statsd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ash2k/stager/wait"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// AggregatorFactory creates Aggregator objects.
type AggregatorFactory interface {
	// Create creates Aggregator objects.
	Create() Aggregator
}

// AggregatorFactoryFunc type is an adapter to allow the use of ordinary functions as AggregatorFactory.
type AggregatorFactoryFunc func() Aggregator

// Create calls f().
func (f AggregatorFactoryFunc) Create() Aggregator {
	return f()
}

// BackendHandler consolidates incoming metrics, shards them by name across a set of workers which
// own Aggregators, and exposes the aggregators to the flusher via Process.
type BackendHandler struct {
	consolidator        *cardiffd.MetricConsolidator
	consolidatedMetrics chan []*cardiffd.MetricMap

	numWorkers int
	workers    []*worker
}

// NewBackendHandler initialises a new Handler which sends metrics to all backends
func NewBackendHandler(numWorkers int, perWorkerBufferSize int, consolidatorSlots int, consolidationInterval time.Duration, af AggregatorFactory) *BackendHandler {
	workers := make([]*worker, numWorkers)

	for i := 0; i < numWorkers; i++ {
		workers[i] = &worker{
			aggr:           af.Create(),
			metricMapQueue: make(chan *cardiffd.MetricMap, perWorkerBufferSize),
			processChan:    make(chan *processCommand),
			id:             i,
		}
	}

	consolidatedMetrics := make(chan []*cardiffd.MetricMap, 1)

	return &BackendHandler{
		consolidator:        cardiffd.NewMetricConsolidator(consolidatorSlots, consolidationInterval, consolidatedMetrics),
		consolidatedMetrics: consolidatedMetrics,

		numWorkers: numWorkers,
		workers:    workers,
	}
}

// EstimatedTags returns a guess for how many tags to pre-allocate
func (bh *BackendHandler) EstimatedTags() int {
	return 0
}

// Run runs the BackendHandler workers until the Context is closed.
func (bh *BackendHandler) Run(ctx context.Context) {
	var wg wait.Group
	defer func() {
		for _, worker := range bh.workers {
			close(worker.metricMapQueue) // Close channel to terminate worker
		}
		wg.Wait() // Wait for all workers to finish
	}()
	for _, worker := range bh.workers {
		wg.Start(worker.work)
	}
	wg.StartWithContext(ctx, bh.consolidator.Run)

	for {
		select {
		case <-ctx.Done():
			return
		case mms := <-bh.consolidatedMetrics:
			bh.distribute(ctx, cardiffd.MergeMaps(mms))
		}
	}
}

// distribute splits a MetricMap up by metric name and enqueues the pieces to their owning workers.
func (bh *BackendHandler) distribute(ctx context.Context, mm *cardiffd.MetricMap) {
	for i, split := range mm.Split(bh.numWorkers) {
		if split.IsEmpty() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case bh.workers[i].metricMapQueue <- split:
		}
	}
}

// RunMetrics attaches a Statser to the BackendHandler.  Stops when the context is closed.
func (bh *BackendHandler) RunMetrics(ctx context.Context) {
	statser := stats.FromContext(ctx)
	var wg wait.Group
	defer wg.Wait()
	for _, worker := range bh.workers {
		worker := worker
		wg.Start(func() {
			worker.runMetrics(ctx, statser)
		})
	}
	bh.Process(ctx, func(workerId int, aggr Aggregator) {
		aggr.TrackMetrics(statser.WithTags(cardiffd.Tags{fmt.Sprintf("aggregator_id:%d", workerId)}))
	})
}

// DispatchMetrics dispatches a batch of metrics to a consolidation map.  The metrics are released
// back to their pool as they are consolidated.
func (bh *BackendHandler) DispatchMetrics(ctx context.Context, metrics []*cardiffd.Metric) {
	bh.consolidator.ReceiveMetrics(metrics)
}

// DispatchMetricMap dispatches a metric map to a consolidation map.
func (bh *BackendHandler) DispatchMetricMap(ctx context.Context, mm *cardiffd.MetricMap) {
	bh.consolidator.ReceiveMetricMap(mm)
}

// Process concurrently executes provided function in goroutines that own Aggregators.
// DispatcherProcessFunc function may be executed zero or up to numWorkers times. It is executed
// less than numWorkers times if the context signals "done".
func (bh *BackendHandler) Process(ctx context.Context, f DispatcherProcessFunc) cardiffd.Wait {
	var wg sync.WaitGroup
	cmd := &processCommand{
		f:    f,
		done: wg.Done,
	}
	wg.Add(bh.numWorkers)
	cmdSent := 0
loop:
	for _, worker := range bh.workers {
		select {
		case <-ctx.Done():
			wg.Add(cmdSent - bh.numWorkers) // Not all commands have been sent, should decrement the WG counter.
			break loop
		case worker.processChan <- cmd:
			cmdSent++
		}
	}

	return wg.Wait
}
