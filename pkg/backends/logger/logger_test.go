package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
)

func TestSendMetricsAsync(t *testing.T) {
	t.Parallel()
	logger, hook := logrustest.NewNullLogger()
	cl, err := NewClient(true, logger)
	require.NoError(t, err)

	mm := cardiffd.NewMetricMap()
	mm.Counters["c1"] = map[string]cardiffd.Counter{"": {Value: 5, PerSecond: 0.5}}
	mm.Gauges["g1"] = map[string]cardiffd.Gauge{"": {Value: 3}}

	called := false
	cl.SendMetricsAsync(context.Background(), mm, func(errs []error) {
		called = true
		assert.Empty(t, errs)
	})
	require.True(t, called)

	// one entry per metric plus the flush summary
	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	last := entries[len(entries)-1]
	assert.Equal(t, "flush", last.Message)
	assert.Equal(t, 1, last.Data["counters"])
	assert.Equal(t, 1, last.Data["gauges"])
}

func TestSendMetricsAsyncQuiet(t *testing.T) {
	t.Parallel()
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	cl, err := NewClient(false, logger)
	require.NoError(t, err)

	mm := cardiffd.NewMetricMap()
	mm.Counters["c1"] = map[string]cardiffd.Counter{"": {Value: 5}}

	cl.SendMetricsAsync(context.Background(), mm, func(errs []error) {
		assert.Empty(t, errs)
	})
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "flush", hook.LastEntry().Message)
}
