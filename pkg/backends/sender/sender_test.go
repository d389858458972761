package sender

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd/internal/fixtures"
	"github.com/cardiffd/cardiffd/internal/util"
)

func newTestSender(t *testing.T, factory ConnFactory) *Sender {
	return &Sender{
		ConnFactory: factory,
		Sink:        make(chan Stream, 1),
		BufPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
		Backoff: util.NewBackoffFactory(1.0, time.Minute, time.Millisecond, 0),
		Logger:  fixtures.NewTestLogger(t),
	}
}

func sendStream(ctx context.Context, s *Sender, cb func([]error), payloads ...string) {
	buf := make(chan *bytes.Buffer, len(payloads))
	for _, payload := range payloads {
		b := s.GetBuffer()
		b.WriteString(payload)
		buf <- b
	}
	close(buf)
	s.Sink <- Stream{Ctx: ctx, Cb: cb, Buf: buf}
}

func TestSenderWritesStream(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan []byte, 1)
	var wg wait.Group
	defer wg.Wait()
	wg.Start(func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	})

	s := newTestSender(t, func() (net.Conn, error) {
		return net.Dial("tcp", l.Addr().String())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wg.StartWithContext(ctx, s.Run)

	acked := make(chan []error, 1)
	sendStream(ctx, s, func(errs []error) { acked <- errs }, "hello ", "world")

	select {
	case errs := <-acked:
		assert.Empty(t, errs)
	case <-ctx.Done():
		t.Fatal("timed out waiting for ack")
	}
	cancel()

	assert.Equal(t, "hello world", string(<-received))
}

func TestSenderReconnects(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	var wg wait.Group
	defer wg.Wait()
	// close the listener first so the accept loop exits before wg.Wait
	defer l.Close()
	wg.Start(func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_, _ = io.ReadAll(conn)
			conn.Close()
		}
	})

	var attempts uint64
	s := newTestSender(t, func() (net.Conn, error) {
		if atomic.AddUint64(&attempts, 1) < 3 {
			return nil, errors.New("connection refused")
		}
		return net.Dial("tcp", l.Addr().String())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wg.StartWithContext(ctx, s.Run)

	acked := make(chan []error, 1)
	sendStream(ctx, s, func(errs []error) { acked <- errs }, "payload")

	select {
	case errs := <-acked:
		assert.Empty(t, errs)
	case <-ctx.Done():
		t.Fatal("timed out waiting for ack")
	}
	cancel()

	assert.GreaterOrEqual(t, atomic.LoadUint64(&attempts), uint64(3))
}

func TestSenderReleasesPulledStreamWithExpiredContext(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	var wg wait.Group
	defer wg.Wait()
	// close the listener first so the accept loop exits before wg.Wait
	defer l.Close()
	wg.Start(func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_, _ = io.ReadAll(conn)
			conn.Close()
		}
	})

	s := newTestSender(t, func() (net.Conn, error) {
		return net.Dial("tcp", l.Addr().String())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wg.StartWithContext(ctx, s.Run)

	staleCtx, staleCancel := context.WithCancel(ctx)
	staleCancel()
	staleAcked := make(chan []error, 1)
	sendStream(staleCtx, s, func(errs []error) { staleAcked <- errs }, "stale")

	select {
	case errs := <-staleAcked:
		require.Len(t, errs, 1)
		assert.Equal(t, context.Canceled, errs[0])
	case <-ctx.Done():
		t.Fatal("stale stream was not released")
	}

	// the delivery loop must keep going after releasing a stale stream
	acked := make(chan []error, 1)
	sendStream(ctx, s, func(errs []error) { acked <- errs }, "fresh")
	select {
	case errs := <-acked:
		assert.Empty(t, errs)
	case <-ctx.Done():
		t.Fatal("timed out waiting for ack")
	}
	cancel()
}

func TestSenderReleasesQueuedStreamWhileDestinationDown(t *testing.T) {
	t.Parallel()
	// The destination never accepts a connection, so the stream sits queued.
	// Expiry of its context must still produce an acknowledgement.
	s := newTestSender(t, func() (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	s.Backoff = util.NewBackoffFactory(1.0, time.Hour, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	var wg wait.Group
	defer wg.Wait()
	defer cancel()
	wg.StartWithContext(ctx, s.Run)

	streamCtx, streamCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer streamCancel()
	acked := make(chan []error, 1)
	sendStream(streamCtx, s, func(errs []error) { acked <- errs }, "queued")

	select {
	case errs := <-acked:
		require.Len(t, errs, 1)
		assert.Equal(t, context.DeadlineExceeded, errs[0])
	case <-time.After(5 * time.Second):
		t.Fatal("queued stream was not released")
	}
}

func TestSenderReleasesAbandonedStreamWhileReconnecting(t *testing.T) {
	t.Parallel()
	// The first connection fails on write so the stream is carried to the
	// reconnect loop; the destination then stays down.  When the stream's
	// context expires it must be released instead of waiting out the backoff.
	var attempts uint64
	s := newTestSender(t, func() (net.Conn, error) {
		if atomic.AddUint64(&attempts, 1) == 1 {
			client, server := net.Pipe()
			server.Close()
			return client, nil
		}
		return nil, errors.New("connection refused")
	})
	s.Backoff = util.NewBackoffFactory(1.0, time.Hour, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	var wg wait.Group
	defer wg.Wait()
	defer cancel()
	wg.StartWithContext(ctx, s.Run)

	streamCtx, streamCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer streamCancel()
	acked := make(chan []error, 1)
	sendStream(streamCtx, s, func(errs []error) { acked <- errs }, "abandoned")

	select {
	case errs := <-acked:
		require.Len(t, errs, 1)
		assert.Equal(t, context.DeadlineExceeded, errs[0])
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned stream was not released")
	}
}

func TestSenderAcksInFlightStreamOnShutdown(t *testing.T) {
	t.Parallel()
	// The first connection fails on write, carrying the stream back to the
	// reconnect loop; shutdown must then acknowledge it rather than drop it.
	var attempts uint64
	s := newTestSender(t, func() (net.Conn, error) {
		if atomic.AddUint64(&attempts, 1) == 1 {
			client, server := net.Pipe()
			server.Close()
			return client, nil
		}
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	acked := make(chan []error, 1)
	sendStream(ctx, s, func(errs []error) { acked <- errs }, "never sent")

	var wg wait.Group
	wg.StartWithContext(ctx, s.Run)
	time.AfterFunc(50*time.Millisecond, cancel)
	wg.Wait()

	select {
	case errs := <-acked:
		require.Len(t, errs, 1)
		assert.Equal(t, context.Canceled, errs[0])
	case <-time.After(time.Second):
		t.Fatal("in-flight stream was not acknowledged")
	}
}

func TestBufferPoolRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSender(t, nil)
	buf := s.GetBuffer()
	buf.WriteString("data")
	s.PutBuffer(buf)
	assert.Zero(t, s.GetBuffer().Len())
}
