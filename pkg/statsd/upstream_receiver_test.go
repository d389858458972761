package statsd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/fixtures"
	"github.com/cardiffd/cardiffd/pkg/protocol"
)

func newTestUpstreamReceiver(t *testing.T) (*UpstreamReceiver, *capturingHandler, net.Listener, func()) {
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	handler := &capturingHandler{}
	ur := NewUpstreamReceiver(handler, fixtures.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ur.Receive(ctx, l)
	}()
	return ur, handler, l, func() {
		cancel()
		l.Close()
		<-done
	}
}

func TestUpstreamReceiverIngestsFrames(t *testing.T) {
	t.Parallel()
	ur, handler, l, stop := newTestUpstreamReceiver(t)
	defer stop()

	mm := cardiffd.NewMetricMap()
	mm.Receive(&cardiffd.Metric{Name: "t", Value: 1, Rate: 0.5, Type: cardiffd.TIMER})
	mm.Receive(&cardiffd.Metric{Name: "t", Value: 2, Rate: 1, Type: cardiffd.TIMER})
	frame, err := protocol.EncodeFrame(mm)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return len(handler.Maps()) == 1
	}, time.Second, time.Millisecond)

	received := handler.Maps()[0]
	timer := received.Timers["t"][""]
	assert.Equal(t, []float64{1, 2}, timer.Values)
	assert.Equal(t, 3.0, timer.SampledCount)
	assert.Equal(t, map[string]uint64{"frames_received": 1, "bad_frames": 0}, ur.Counters())
}

func TestUpstreamReceiverMultipleFramesPerConnection(t *testing.T) {
	t.Parallel()
	ur, handler, l, stop := newTestUpstreamReceiver(t)
	defer stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for _, name := range []string{"one", "two", "three"} {
		mm := cardiffd.NewMetricMap()
		mm.Receive(&cardiffd.Metric{Name: name, Value: 1, Rate: 1, Type: cardiffd.COUNTER})
		frame, err := protocol.EncodeFrame(mm)
		require.NoError(t, err)
		_, err = conn.Write(frame)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(handler.Maps()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), ur.Counters()["frames_received"])
}

func TestUpstreamReceiverClosesOnBadFrame(t *testing.T) {
	t.Parallel()
	ur, handler, l, stop := newTestUpstreamReceiver(t)
	defer stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// length prefix claims 5 bytes of payload, but it is not JSON
	_, err = conn.Write([]byte{0, 0, 0, 5, 'j', 'u', 'n', 'k', '!'})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ur.Counters()["bad_frames"] == 1
	}, time.Second, time.Millisecond)

	// the connection is closed by the receiver
	buf := make([]byte, 1)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(buf)
	assert.Error(t, err)
	assert.Empty(t, handler.Maps())
}
