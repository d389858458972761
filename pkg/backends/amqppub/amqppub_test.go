package amqppub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/fixtures"
	"github.com/cardiffd/cardiffd/internal/util"
)

func testBackoff() util.BackoffFactory {
	return util.NewBackoffFactory(1.0, time.Second, 10*time.Millisecond, 1)
}

func newTestClient(t *testing.T) *Client {
	cl, err := NewClient(DefaultURL, "metrics", DefaultExchangeType, DefaultRoutingKey, testBackoff(), fixtures.NewTestLogger(t))
	require.NoError(t, err)
	return cl
}

func TestSendMetricsAsyncQueuesMessage(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)

	mm := cardiffd.NewMetricMap()
	mm.Counters["c1"] = map[string]cardiffd.Counter{"": {Value: 5, PerSecond: 0.5}}

	done := make(chan []error, 1)
	go cl.SendMetricsAsync(context.Background(), mm, func(errs []error) {
		done <- errs
	})

	select {
	case req := <-cl.requests:
		decoded := cardiffd.NewMetricMap()
		require.NoError(t, json.Unmarshal(req.body, decoded))
		require.Contains(t, decoded.Counters, "c1")
		assert.Equal(t, int64(5), decoded.Counters["c1"][""].Value)
		req.cb(nil)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish request")
	}

	select {
	case errs := <-done:
		assert.Empty(t, errs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestSendMetricsAsyncCancelled(t *testing.T) {
	t.Parallel()
	cl := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	cl.SendMetricsAsync(ctx, cardiffd.NewMetricMap(), func(errs []error) {
		called = true
		require.Len(t, errs, 1)
		assert.Equal(t, context.Canceled, errs[0])
	})
	assert.True(t, called)
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	_, err := NewClient("", "", DefaultExchangeType, DefaultRoutingKey, testBackoff(), fixtures.NewTestLogger(t))
	require.Error(t, err)
	_, err = NewClient(DefaultURL, "", DefaultExchangeType, "", testBackoff(), fixtures.NewTestLogger(t))
	require.Error(t, err)
}
