package statsd

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
	"github.com/cardiffd/cardiffd/pkg/web"
)

// Server encapsulates all of the parameters necessary for starting up
// the daemon. These can either be set via command line or directly.
type Server struct {
	Backends              []cardiffd.Backend
	InternalTags          cardiffd.Tags
	InternalNamespace     string
	DefaultTags           cardiffd.Tags
	ExpiryInterval        time.Duration
	FlushInterval         time.Duration
	FlushOffset           time.Duration
	FlushAligned          bool
	DispatchTimeout       time.Duration
	IgnoreHost            bool
	MaxReaders            int
	MaxParsers            int
	MaxWorkers            int
	MaxQueueSize          int
	ReceiveBatchSize      int
	ConsolidationInterval time.Duration
	MetricsAddr           string
	UpstreamAddr          string
	Namespace             string
	PercentThreshold      []float64
	BadLinesPerSecond     rate.Limit
	StatserType           string
	ConnPerReader         bool
	WebAddr               string
	WebEnablePprof        bool
	Logger                logrus.FieldLogger
}

// stage runs a set of Runnables with a context that is separate from the caller's, but carries
// the same values.  Stopping a stage cancels its Runnables and waits for them to return.
// Stages are stopped in the reverse of start order (via defer), so the receiving end of the
// pipeline shuts down first and everything in flight drains forward.
type stage struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func startStage(valuesCtx context.Context, runnables ...cardiffd.Runnable) *stage {
	ctx, cancel := context.WithCancel(valuesCtx)
	st := &stage{cancel: cancel}
	st.wg.Add(len(runnables))
	for _, r := range runnables {
		r := r
		go func() {
			defer st.wg.Done()
			r(ctx)
		}()
	}
	return st
}

func (st *stage) stop() {
	st.cancel()
	st.wg.Wait()
}

// Run runs the server until context signals done.
func (s *Server) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// 1. Build the pipeline back to front.
	factory := AggregatorFactoryFunc(func() Aggregator {
		return NewMetricAggregator(s.PercentThreshold, s.ExpiryInterval)
	})
	handler := NewBackendHandler(s.MaxWorkers, s.MaxQueueSize, s.MaxParsers+1, s.ConsolidationInterval, factory)
	var pipeline cardiffd.PipelineHandler = NewTagHandler(handler, s.DefaultTags)

	// 2. Set up the statser and attach it to the context for everything downstream.
	hostname := cardiffd.Source(getHost(logger))
	var statser stats.Statser
	switch s.StatserType {
	case StatserNull:
		statser = stats.NewNullStatser()
	case StatserLogging:
		statser = stats.NewLoggingStatser(s.InternalTags, logger)
	default:
		statser = stats.NewInternalStatser(s.InternalTags, s.internalNamespace(), hostname, pipeline)
	}
	ctx = stats.NewContext(ctx, statser)

	// 3. Start the backends that run.
	backendRunnables := []cardiffd.Runnable{}
	for _, backend := range s.Backends {
		backendRunnables = cardiffd.MaybeAppendRunnable(backendRunnables, backend)
	}
	if len(backendRunnables) > 0 {
		stBackends := startStage(ctx, backendRunnables...)
		defer stBackends.stop()
	}

	// 4. Start the aggregation workers.
	stWorkers := startStage(ctx, handler.Run, handler.RunMetrics)
	defer stWorkers.stop()

	// 5. Start the parsers.
	datagrams := make(chan *Datagram, s.ReceiveBatchSize)
	parserRunnables := []cardiffd.Runnable{}
	parsers := make([]*DatagramParser, 0, s.MaxParsers)
	for i := 0; i < s.MaxParsers; i++ {
		parser := NewDatagramParser(datagrams, s.Namespace, s.IgnoreHost, pipeline.EstimatedTags(), pipeline, s.BadLinesPerSecond, logger)
		parsers = append(parsers, parser)
		parserRunnables = append(parserRunnables, parser.Run)
		if i == 0 {
			parserRunnables = append(parserRunnables, parser.RunMetrics)
		}
	}
	stParsers := startStage(ctx, parserRunnables...)
	defer stParsers.stop()

	// 6. Start the receivers.
	sockets, err := s.makeSockets()
	if err != nil {
		return err
	}
	receiver := NewDatagramReceiver(datagrams, logger)
	receiverRunnables := []cardiffd.Runnable{receiver.RunMetrics}
	for r := 0; r < s.MaxReaders; r++ {
		c := sockets[r%len(sockets)]
		receiverRunnables = append(receiverRunnables, func(ctx context.Context) {
			receiver.Receive(ctx, c)
		})
	}
	stReceivers := startStage(ctx, receiverRunnables...)
	defer stReceivers.stop()
	// Closing the sockets makes blocked readers error out, so it must happen before the
	// receiver stage is waited on.
	defer func() {
		for _, c := range sockets {
			if e := c.Close(); e != nil {
				logger.WithError(e).Warn("error closing socket")
			}
		}
	}()

	// 7. Start the upstream listener, if configured.
	var upstream *UpstreamReceiver
	if s.UpstreamAddr != "" {
		l, err := net.Listen("tcp", s.UpstreamAddr)
		if err != nil {
			return err
		}
		upstream = NewUpstreamReceiver(pipeline, logger)
		stUpstream := startStage(ctx, upstream.RunMetrics, func(ctx context.Context) {
			upstream.Receive(ctx, l)
		})
		defer stUpstream.stop()
		// As with the UDP sockets, the listener is closed before the stage is waited on.
		defer func() {
			if e := l.Close(); e != nil {
				logger.WithError(e).Warn("error closing upstream listener")
			}
		}()
	}

	// 8. Start the web server, if configured.
	if s.WebAddr != "" {
		groups := []web.CounterGroup{
			{Name: "receiver", Get: receiver.Counters},
			{Name: "parser", Get: sumCounters(parsers)},
		}
		if upstream != nil {
			groups = append(groups, web.CounterGroup{Name: "upstream", Get: upstream.Counters})
		}
		webServer, err := web.NewServer(logger, s.WebAddr, s.WebEnablePprof, groups)
		if err != nil {
			return err
		}
		stWeb := startStage(ctx, webServer.Run)
		defer stWeb.stop()
	}

	// 9. Start the flusher.
	flusher := NewMetricFlusher(s.FlushInterval, s.FlushOffset, s.FlushAligned, s.DispatchTimeout, handler, s.Backends, logger)
	stFlusher := startStage(ctx, flusher.Run)
	defer stFlusher.stop()

	// 10. Listen until done.
	<-ctx.Done()
	return ctx.Err()
}

// sumCounters merges the lifetime counters of all parsers.
func sumCounters(parsers []*DatagramParser) func() map[string]uint64 {
	return func() map[string]uint64 {
		total := make(map[string]uint64)
		for _, p := range parsers {
			for k, v := range p.Counters() {
				total[k] += v
			}
		}
		return total
	}
}

func (s *Server) internalNamespace() string {
	namespace := s.Namespace
	if s.InternalNamespace != "" {
		if namespace != "" {
			namespace = namespace + "." + s.InternalNamespace
		} else {
			namespace = s.InternalNamespace
		}
	}
	return namespace
}

// makeSockets opens the listening UDP socket, or one socket per reader when ConnPerReader is
// enabled, so the kernel spreads the load between the readers.
func (s *Server) makeSockets() ([]net.PacketConn, error) {
	count := 1
	if s.ConnPerReader {
		count = s.MaxReaders
	}
	sockets := make([]net.PacketConn, 0, count)
	for i := 0; i < count; i++ {
		var c net.PacketConn
		var err error
		if s.ConnPerReader {
			c, err = reuseport.ListenPacket("udp", s.MetricsAddr)
		} else {
			c, err = net.ListenPacket("udp", s.MetricsAddr)
		}
		if err != nil {
			for _, open := range sockets {
				open.Close()
			}
			return nil, err
		}
		sockets = append(sockets, c)
	}
	return sockets, nil
}

func getHost(logger logrus.FieldLogger) string {
	host, err := os.Hostname()
	if err != nil {
		logger.WithError(err).Warn("cannot get hostname")
		return ""
	}
	return host
}
