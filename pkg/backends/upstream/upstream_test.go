package upstream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/fixtures"
	"github.com/cardiffd/cardiffd/internal/util"
	"github.com/cardiffd/cardiffd/pkg/protocol"
)

func testBackoff() util.BackoffFactory {
	return util.NewBackoffFactory(1.0, time.Second, 10*time.Millisecond, 1)
}

func TestSendRawAsyncRoundTrip(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()

	c, err := NewClient(l.Addr().String(), time.Second, 10*time.Second, testBackoff(), fixtures.NewTestLogger(t))
	require.NoError(t, err)

	received := make(chan *cardiffd.MetricMap, 1)
	var acceptWg sync.WaitGroup
	acceptWg.Add(1)
	go func() {
		defer acceptWg.Done()
		conn, e := l.Accept()
		if !assert.NoError(t, e) {
			return
		}
		defer conn.Close()
		assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		mm, e := protocol.ReadFrame(conn)
		if assert.NoError(t, e) {
			received <- mm
		}
	}()
	defer acceptWg.Wait()

	var wg wait.Group
	defer wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	wg.StartWithContext(ctx, c.Run)

	mm := cardiffd.NewMetricMap()
	mm.Timers["t1"] = map[string]cardiffd.Timer{
		"": {Values: []float64{1, 2, 3}, SampledCount: 3},
	}

	var swg sync.WaitGroup
	swg.Add(1)
	c.SendRawAsync(ctx, mm, func(errs []error) {
		defer swg.Done()
		for i, e := range errs {
			assert.NoError(t, e, i)
		}
	})
	swg.Wait()

	select {
	case got := <-received:
		// raw timer values survive the hop untouched
		require.Contains(t, got.Timers, "t1")
		assert.Equal(t, []float64{1, 2, 3}, got.Timers["t1"][""].Values)
		assert.Equal(t, 3.0, got.Timers["t1"][""].SampledCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSendMetricsAsyncIsNoop(t *testing.T) {
	t.Parallel()
	c, err := NewClient("localhost:9", time.Second, time.Second, testBackoff(), fixtures.NewTestLogger(t))
	require.NoError(t, err)
	called := false
	c.SendMetricsAsync(context.Background(), cardiffd.NewMetricMap(), func(errs []error) {
		called = true
		assert.Empty(t, errs)
	})
	assert.True(t, called)
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	_, err := NewClient("", time.Second, time.Second, testBackoff(), fixtures.NewTestLogger(t))
	require.Error(t, err)
}
