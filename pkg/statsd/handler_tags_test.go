package statsd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/fixtures"
)

func TestTagHandlerAddsDefaultTags(t *testing.T) {
	t.Parallel()
	next := &capturingHandler{}
	th := NewTagHandler(next, cardiffd.Tags{"env:prod", "region:eu"})

	th.DispatchMetrics(context.Background(), []*cardiffd.Metric{
		fixtures.MakeMetric(),
	})

	metrics := next.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, cardiffd.Tags{"foo:bar", "env:prod", "region:eu"}, metrics[0].Tags)
}

func TestTagHandlerDeduplicates(t *testing.T) {
	t.Parallel()
	next := &capturingHandler{}
	th := NewTagHandler(next, cardiffd.Tags{"foo:bar", "env:prod"})

	th.DispatchMetrics(context.Background(), []*cardiffd.Metric{
		fixtures.MakeMetric(),
	})

	metrics := next.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, cardiffd.Tags{"foo:bar", "env:prod"}, metrics[0].Tags)
}

func TestTagHandlerEstimatedTags(t *testing.T) {
	t.Parallel()
	th := NewTagHandler(&capturingHandler{}, cardiffd.Tags{"a:1", "b:2"})
	assert.Equal(t, 2, th.EstimatedTags())
}

func TestTagHandlerPassesMapsThrough(t *testing.T) {
	t.Parallel()
	next := &capturingHandler{}
	th := NewTagHandler(next, cardiffd.Tags{"env:prod"})

	mm := cardiffd.NewMetricMap()
	mm.Receive(fixtures.MakeMetric())
	th.DispatchMetricMap(context.Background(), mm)

	maps := next.Maps()
	require.Len(t, maps, 1)
	assert.Same(t, mm, maps[0])
}

func TestUniqueTags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		t1, t2   cardiffd.Tags
		expected cardiffd.Tags
	}{
		{"disjoint", cardiffd.Tags{"a:1"}, cardiffd.Tags{"b:2"}, cardiffd.Tags{"a:1", "b:2"}},
		{"overlap", cardiffd.Tags{"a:1", "b:2"}, cardiffd.Tags{"b:2", "c:3"}, cardiffd.Tags{"a:1", "b:2", "c:3"}},
		{"duplicates within", cardiffd.Tags{"a:1", "a:1"}, nil, cardiffd.Tags{"a:1"}},
		{"both empty", nil, nil, cardiffd.Tags{}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, uniqueTags(tc.t1, tc.t2))
		})
	}
}
