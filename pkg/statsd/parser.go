package statsd

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/lexer"
	"github.com/cardiffd/cardiffd/internal/pool"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// DatagramParser receives datagrams and parses them into Metrics.
// For each Metric it calls Handler.DispatchMetrics()
type DatagramParser struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	badLines             uint64
	metricsReceived      uint64
	metricsReceivedTotal uint64 // Like metricsReceived but never reset, for the web surface.

	ignoreHost bool
	handler    cardiffd.RawMetricHandler // handler to invoke
	namespace  string                    // Namespace to prefix all metrics
	metricPool *pool.MetricPool
	logger     logrus.FieldLogger
	logRate    *rate.Limiter

	badLineGauge stats.ChangeGauge

	in <-chan *Datagram // Input chan of datagrams to parse
}

// NewDatagramParser initialises a new DatagramParser.
func NewDatagramParser(in <-chan *Datagram, ns string, ignoreHost bool, estimatedTags int, handler cardiffd.RawMetricHandler, badLineRateLimitPerSecond rate.Limit, logger logrus.FieldLogger) *DatagramParser {
	var logRate *rate.Limiter
	if badLineRateLimitPerSecond > 0 {
		logRate = rate.NewLimiter(badLineRateLimitPerSecond, 1)
	}
	return &DatagramParser{
		in:         in,
		ignoreHost: ignoreHost,
		handler:    handler,
		namespace:  ns,
		metricPool: pool.NewMetricPool(estimatedTags),
		logger:     logger,
		logRate:    logRate,
	}
}

func (dp *DatagramParser) RunMetrics(ctx context.Context) {
	statser := stats.FromContext(ctx)

	flushed, unregister := statser.RegisterFlush()
	defer unregister()
	for {
		select {
		case <-ctx.Done():
			return
		case <-flushed:
			statser.Count("metrics_received", float64(atomic.SwapUint64(&dp.metricsReceived, 0)), nil)
			dp.badLineGauge.Cur = atomic.LoadUint64(&dp.badLines)
			dp.badLineGauge.SendIfChanged(statser, "bad_lines_seen", nil)
		}
	}
}

func (dp *DatagramParser) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-dp.in:
			accum := dp.handleDatagram(dg.IP, dg.Msg)
			dg.DoneFunc()
			if len(accum) > 0 {
				dp.handler.DispatchMetrics(ctx, accum)
			}
		}
	}
}

// handleDatagram handles the contents of a datagram and parses it in to metrics.  Returns the
// metrics successfully parsed.
func (dp *DatagramParser) handleDatagram(ip cardiffd.Source, msg []byte) []*cardiffd.Metric {
	var accum []*cardiffd.Metric
	var numMetrics uint64
	for {
		idx := bytes.IndexByte(msg, '\n')
		var line []byte
		// protocol does not require line to end in \n
		if idx == -1 { // \n not found
			if len(msg) == 0 {
				break
			}
			line = msg
			msg = nil
		} else { // usual case
			line = msg[:idx]
			msg = msg[idx+1:]
		}
		metric, err := dp.parseLine(line)
		if err != nil {
			// a bad actor can send a lot of bad lines, rate limit the logging
			if dp.logRate == nil || dp.logRate.Allow() {
				dp.logger.WithError(err).WithFields(logrus.Fields{
					"line": string(line),
					"ip":   ip,
				}).Info("error parsing line")
			}
			atomic.AddUint64(&dp.badLines, 1)
			continue
		}
		numMetrics++
		metric.Timestamp = cardiffd.NanoNow()
		if !dp.ignoreHost {
			metric.Source = ip
		}
		accum = append(accum, metric)
	}
	atomic.AddUint64(&dp.metricsReceived, numMetrics)
	atomic.AddUint64(&dp.metricsReceivedTotal, numMetrics)
	return accum
}

// Counters returns a snapshot of the lifetime counters for the web surface.
func (dp *DatagramParser) Counters() map[string]uint64 {
	return map[string]uint64{
		"metrics_received": atomic.LoadUint64(&dp.metricsReceivedTotal),
		"bad_lines_seen":   atomic.LoadUint64(&dp.badLines),
	}
}

func (dp *DatagramParser) parseLine(line []byte) (*cardiffd.Metric, error) {
	l := lexer.Lexer{MetricPool: dp.metricPool}
	return l.Run(line, dp.namespace)
}
