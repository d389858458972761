package statsd

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/protocol"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// UpstreamReceiver accepts TCP connections from downstream daemons and feeds the forwarded
// aggregation windows in to the pipeline.  Forwarded windows carry raw timer series, so
// percentiles computed here remain exact across tiers.
type UpstreamReceiver struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	framesReceived      uint64
	badFrames           uint64
	framesReceivedTotal uint64 // Like framesReceived but never reset, for the web surface.
	badFramesTotal      uint64

	handler cardiffd.RawMetricHandler
	logger  logrus.FieldLogger
}

// NewUpstreamReceiver initialises a new UpstreamReceiver.
func NewUpstreamReceiver(handler cardiffd.RawMetricHandler, logger logrus.FieldLogger) *UpstreamReceiver {
	return &UpstreamReceiver{
		handler: handler,
		logger:  logger,
	}
}

func (ur *UpstreamReceiver) RunMetrics(ctx context.Context) {
	statser := stats.FromContext(ctx)

	flushed, unregister := statser.RegisterFlush()
	defer unregister()
	for {
		select {
		case <-ctx.Done():
			return
		case <-flushed:
			statser.Count("upstream.frames_received", float64(atomic.SwapUint64(&ur.framesReceived, 0)), nil)
			statser.Count("upstream.bad_frames", float64(atomic.SwapUint64(&ur.badFrames, 0)), nil)
		}
	}
}

// Counters returns a snapshot of the lifetime counters for the web surface.
func (ur *UpstreamReceiver) Counters() map[string]uint64 {
	return map[string]uint64{
		"frames_received": atomic.LoadUint64(&ur.framesReceivedTotal),
		"bad_frames":      atomic.LoadUint64(&ur.badFramesTotal),
	}
}

// Receive accepts connections on l until the context is closed.
func (ur *UpstreamReceiver) Receive(ctx context.Context, l net.Listener) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ur.logger.WithError(err).Warn("error accepting connection")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ur.handleConnection(ctx, conn)
		}()
	}
}

func (ur *UpstreamReceiver) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		// Unblock a pending read on shutdown.
		<-ctx.Done()
		conn.Close()
	}()
	logger := ur.logger.WithField("peer", conn.RemoteAddr().String())
	for {
		mm, err := protocol.ReadFrame(conn)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err != io.EOF {
				atomic.AddUint64(&ur.badFrames, 1)
				atomic.AddUint64(&ur.badFramesTotal, 1)
				logger.WithError(err).Warn("closing connection")
			}
			return
		}
		atomic.AddUint64(&ur.framesReceived, 1)
		atomic.AddUint64(&ur.framesReceivedTotal, 1)
		ur.handler.DispatchMetricMap(ctx, mm)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
