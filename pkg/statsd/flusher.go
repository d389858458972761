package statsd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// MetricFlusher periodically flushes metrics from all Aggregators to Senders.
type MetricFlusher struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	lastFlush      int64 // Last time the metrics where aggregated. Unix timestamp in nsec.
	lastFlushError int64 // Time of the last flush error. Unix timestamp in nsec.

	flushInterval      time.Duration // How often to flush metrics to the sender
	flushOffset        time.Duration // Offset for when to flush if alignment is enabled
	flushAligned       bool          // Indicate if flush is aligned to the interval or not
	dispatchTimeout    time.Duration // Timeout for a single backend dispatch, 0 to disable
	aggregateProcesser AggregateProcesser
	backends           []cardiffd.Backend
	rawBackends        []cardiffd.RawBackend
	logger             logrus.FieldLogger
}

// NewMetricFlusher creates a new MetricFlusher with provided configuration.
func NewMetricFlusher(flushInterval, flushOffset time.Duration, aligned bool, dispatchTimeout time.Duration, aggregateProcesser AggregateProcesser, backends []cardiffd.Backend, logger logrus.FieldLogger) *MetricFlusher {
	var rawBackends []cardiffd.RawBackend
	var reducedBackends []cardiffd.Backend
	for _, backend := range backends {
		// A backend forwarding the raw window sees the data before reduction, and only that.
		if rb, ok := backend.(cardiffd.RawBackend); ok {
			rawBackends = append(rawBackends, rb)
		} else {
			reducedBackends = append(reducedBackends, backend)
		}
	}
	return &MetricFlusher{
		flushInterval:      flushInterval,
		flushOffset:        flushOffset,
		flushAligned:       aligned,
		dispatchTimeout:    dispatchTimeout,
		aggregateProcesser: aggregateProcesser,
		backends:           reducedBackends,
		rawBackends:        rawBackends,
		logger:             logger,
	}
}

func (f *MetricFlusher) makeTicker(ctx context.Context) (<-chan time.Time, func()) {
	if f.flushAligned {
		flushTicker := util.NewAlignedTickerWithContext(ctx, f.flushInterval, f.flushOffset)
		return flushTicker.C, flushTicker.Stop
	}
	clck := clock.FromContext(ctx)
	flushTicker := clck.NewTicker(f.flushInterval)
	return flushTicker.C, flushTicker.Stop
}

// Run runs the MetricFlusher.
func (f *MetricFlusher) Run(ctx context.Context) {
	statser := stats.FromContext(ctx)

	ch, stop := f.makeTicker(ctx)
	defer stop()

	lastFlush := clock.FromContext(ctx).Now()
	for {
		select {
		case <-ctx.Done():
			return
		case thisFlush := <-ch: // Time to flush to the backends
			flushDelta := thisFlush.Sub(lastFlush)
			f.flushData(ctx, flushDelta, statser)
			statser.Increment("flusher.flushes_completed", nil)
			statser.NotifyFlush(ctx, flushDelta)
			lastFlush = thisFlush
			// If the flush took longer than the interval, drop the tick that accumulated
			// behind it rather than flushing an artificially short window.
			select {
			case skipped := <-ch:
				statser.Increment("flusher.flushes_skipped", nil)
				lastFlush = skipped
			default:
			}
		}
	}
}

func (f *MetricFlusher) flushData(ctx context.Context, flushInterval time.Duration, statser stats.Statser) {
	var sendWg sync.WaitGroup
	timerTotal := statser.NewTimer("flusher.total_time", nil)
	processWait := f.aggregateProcesser.Process(ctx, func(workerId int, aggr Aggregator) {
		// This is in the flusher, but it's an aggregator action, so put it in that space.
		tags := cardiffd.Tags{fmt.Sprintf("aggregator_id:%d", workerId)}

		// Raw backends see the window before reduction.  Payload preparation is synchronous
		// in SendRawAsync, so the map can be safely mutated once it returns.
		timerRaw := statser.NewTimer("aggregator.raw_time", tags)
		aggr.Process(func(m *cardiffd.MetricMap) {
			if !m.IsEmpty() {
				f.sendRawAsync(ctx, &sendWg, m, statser)
			}
		})
		timerRaw.SendGauge()

		timerFlush := statser.NewTimer("aggregator.aggregation_time", tags)
		aggr.Flush(flushInterval)
		timerFlush.SendGauge()

		timerProcess := statser.NewTimer("aggregator.process_time", tags)
		aggr.Process(func(m *cardiffd.MetricMap) {
			// A shard that saw nothing this window is not dispatched.
			if !m.IsEmpty() {
				f.sendMetricsAsync(ctx, &sendWg, m, statser)
			}
		})
		timerProcess.SendGauge()

		timerReset := statser.NewTimer("aggregator.reset_time", tags)
		aggr.Reset()
		timerReset.SendGauge()
	})
	processWait() // Wait for all workers to execute function
	sendWg.Wait() // Wait for all backends to finish sending
	timerTotal.SendGauge()
}

func (f *MetricFlusher) sendRawAsync(ctx context.Context, wg *sync.WaitGroup, m *cardiffd.MetricMap, statser stats.Statser) {
	wg.Add(len(f.rawBackends))
	for _, backend := range f.rawBackends {
		backend := backend
		sendCtx, cancel := f.dispatchContext(ctx)
		finished := make(chan []error, 1)
		backend.SendRawAsync(sendCtx, m, func(errs []error) {
			select {
			case finished <- errs:
			default:
			}
		})
		go f.waitSendResult(sendCtx, cancel, wg, backend.Name(), finished, statser)
	}
}

func (f *MetricFlusher) sendMetricsAsync(ctx context.Context, wg *sync.WaitGroup, m *cardiffd.MetricMap, statser stats.Statser) {
	wg.Add(len(f.backends))
	for _, backend := range f.backends {
		backend := backend
		sendCtx, cancel := f.dispatchContext(ctx)
		finished := make(chan []error, 1)
		backend.SendMetricsAsync(sendCtx, m, func(errs []error) {
			select {
			case finished <- errs:
			default:
			}
		})
		go f.waitSendResult(sendCtx, cancel, wg, backend.Name(), finished, statser)
	}
}

// waitSendResult accounts for a dispatch when the backend's callback fires or
// its dispatch context expires, whichever happens first.  A destination that
// never answers must not hold the flush cycle hostage.
func (f *MetricFlusher) waitSendResult(sendCtx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, backendName string, finished <-chan []error, statser stats.Statser) {
	defer wg.Done()
	defer cancel()
	select {
	case errs := <-finished:
		f.handleSendResult(backendName, errs, statser)
	case <-sendCtx.Done():
		f.handleSendResult(backendName, []error{sendCtx.Err()}, statser)
	}
}

// dispatchContext bounds how long a single backend may take to accept and
// deliver a window, so one stuck destination cannot hold back the others.
func (f *MetricFlusher) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.dispatchTimeout > 0 {
		return context.WithTimeout(ctx, f.dispatchTimeout)
	}
	return context.WithCancel(ctx)
}

func (f *MetricFlusher) handleSendResult(backendName string, flushResults []error, statser stats.Statser) {
	tags := cardiffd.Tags{"backend:" + backendName}
	timestampPointer := &f.lastFlush
	for _, err := range flushResults {
		if err != nil {
			timestampPointer = &f.lastFlushError
			if cardiffd.IsRetryable(err) {
				statser.Increment("backend.send_retryable", tags)
			}
			if err != context.DeadlineExceeded && err != context.Canceled {
				f.logger.WithField("backend", backendName).WithError(err).Error("sending metrics to backend failed")
			}
		}
	}
	if timestampPointer == &f.lastFlushError {
		statser.Increment("backend.send_failure", tags)
	} else {
		statser.Increment("backend.send_success", tags)
	}
	atomic.StoreInt64(timestampPointer, time.Now().UnixNano())
}
