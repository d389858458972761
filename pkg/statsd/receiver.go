package statsd

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

// ip packet size is stored in two bytes and that is how big in theory the packet can be.
// In practice it is highly unlikely but still possible to get packets bigger than usual MTU of 1500.
const packetSizeUDP = 0xffff

// DatagramReceiver receives datagrams on its PacketConn and passes them off to be parsed
type DatagramReceiver struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	lastPacket           int64 // When last packet was received. Unix timestamp in nsec.
	packetsReceived      uint64
	packetsReceivedTotal uint64 // Like packetsReceived but never reset, for the web surface.

	logger logrus.FieldLogger

	out chan<- *Datagram // Output chan of datagrams to parse

	bufPool sync.Pool
}

// NewDatagramReceiver initialises a new DatagramReceiver.
func NewDatagramReceiver(out chan<- *Datagram, logger logrus.FieldLogger) *DatagramReceiver {
	return &DatagramReceiver{
		out:    out,
		logger: logger,
		bufPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, packetSizeUDP)
			},
		},
	}
}

func (dr *DatagramReceiver) RunMetrics(ctx context.Context) {
	statser := stats.FromContext(ctx)

	flushed, unregister := statser.RegisterFlush()
	defer unregister()
	for {
		select {
		case <-ctx.Done():
			return
		case <-flushed:
			statser.Count("packets_received", float64(atomic.SwapUint64(&dr.packetsReceived, 0)), nil)
		}
	}
}

// Receive accepts incoming datagrams on c, and passes them off to be parsed.
func (dr *DatagramReceiver) Receive(ctx context.Context, c net.PacketConn) {
	doneChan := ctx.Done()
	for {
		buf := dr.bufPool.Get().([]byte)
		// This will error out when the socket is closed.
		nbytes, addr, err := c.ReadFrom(buf)
		if err != nil {
			dr.bufPool.Put(buf) // nolint:staticcheck
			select {
			case <-doneChan:
				return
			default:
			}
			if netErr, ok := err.(net.Error); ok && !netErr.Temporary() {
				dr.logger.WithError(err).Error("non-temporary error reading from socket")
				return
			}
			dr.logger.WithError(err).Warn("error reading from socket")
			continue
		}
		atomic.AddUint64(&dr.packetsReceived, 1)
		atomic.AddUint64(&dr.packetsReceivedTotal, 1)
		atomic.StoreInt64(&dr.lastPacket, time.Now().UnixNano())
		dg := &Datagram{
			IP:  getIP(addr),
			Msg: buf[:nbytes],
			DoneFunc: func() {
				dr.bufPool.Put(buf) // nolint:staticcheck
			},
		}
		select {
		case dr.out <- dg:
		case <-doneChan:
			return
		}
	}
}

// Counters returns a snapshot of the lifetime counters for the web surface.
func (dr *DatagramReceiver) Counters() map[string]uint64 {
	return map[string]uint64{
		"packets_received": atomic.LoadUint64(&dr.packetsReceivedTotal),
		"last_packet_ns":   uint64(atomic.LoadInt64(&dr.lastPacket)),
	}
}

func getIP(addr net.Addr) cardiffd.Source {
	if a, ok := addr.(*net.UDPAddr); ok {
		return cardiffd.Source(a.IP.String())
	}
	return cardiffd.UnknownSource
}
