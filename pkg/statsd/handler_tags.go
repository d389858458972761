package statsd

import (
	"context"

	"github.com/cardiffd/cardiffd"
)

var present = struct{}{}

// TagHandler adds the daemon-wide default tags and the source to metrics and passes them on to the
// next handler in the pipeline.
type TagHandler struct {
	handler       cardiffd.PipelineHandler
	tags          cardiffd.Tags // Tags to add to all metrics
	estimatedTags int
}

// NewTagHandler initialises a new handler which adds unique tags and sends metrics to the next handler
func NewTagHandler(handler cardiffd.PipelineHandler, tags cardiffd.Tags) *TagHandler {
	return &TagHandler{
		handler:       handler,
		tags:          tags,
		estimatedTags: len(tags) + handler.EstimatedTags(),
	}
}

// EstimatedTags returns a guess for how many tags to pre-allocate
func (th *TagHandler) EstimatedTags() int {
	return th.estimatedTags
}

// DispatchMetrics adds the unique tags from the TagHandler to the metrics and passes them to the
// next stage in the pipeline
func (th *TagHandler) DispatchMetrics(ctx context.Context, metrics []*cardiffd.Metric) {
	for _, m := range metrics {
		m.Tags = uniqueTags(m.Tags, th.tags)
	}
	th.handler.DispatchMetrics(ctx, metrics)
}

// DispatchMetricMap passes the metric map to the next stage in the pipeline.  Default tags are
// only applied to individual metrics, maps arrive pre-tagged from an upstream daemon.
func (th *TagHandler) DispatchMetricMap(ctx context.Context, mm *cardiffd.MetricMap) {
	th.handler.DispatchMetricMap(ctx, mm)
}

// uniqueTags returns the set of t1 | t2.
func uniqueTags(t1 cardiffd.Tags, t2 cardiffd.Tags) cardiffd.Tags {
	tags := cardiffd.Tags{}
	seen := map[string]struct{}{}

	for _, v := range t1 {
		if _, ok := seen[v]; !ok {
			tags = append(tags, v)
			seen[v] = present
		}
	}

	for _, v := range t2 {
		if _, ok := seen[v]; !ok {
			tags = append(tags, v)
			seen[v] = present
		}
	}

	return tags
}
