package stats

import (
	"context"
	"time"

	"github.com/cardiffd/cardiffd"
)

// TaggedStatser adds tags to another Statser.
type TaggedStatser struct {
	statser Statser
	tags    cardiffd.Tags
}

// NewTaggedStatser wraps a Statser so that all metrics sent through it carry
// the supplied tags, in addition to any tags provided at call sites.
func NewTaggedStatser(statser Statser, tags cardiffd.Tags) Statser {
	if ts, ok := statser.(*TaggedStatser); ok {
		return &TaggedStatser{
			statser: ts.statser,
			tags:    ts.tags.Concat(tags),
		}
	}
	return &TaggedStatser{
		statser: statser,
		tags:    tags,
	}
}

func (ts *TaggedStatser) NotifyFlush(ctx context.Context, d time.Duration) {
	ts.statser.NotifyFlush(ctx, d)
}

func (ts *TaggedStatser) RegisterFlush() (<-chan time.Duration, func()) {
	return ts.statser.RegisterFlush()
}

func (ts *TaggedStatser) Gauge(name string, value float64, tags cardiffd.Tags) {
	ts.statser.Gauge(name, value, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) Count(name string, amount float64, tags cardiffd.Tags) {
	ts.statser.Count(name, amount, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) Increment(name string, tags cardiffd.Tags) {
	ts.statser.Increment(name, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) TimingMS(name string, ms float64, tags cardiffd.Tags) {
	ts.statser.TimingMS(name, ms, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) TimingDuration(name string, d time.Duration, tags cardiffd.Tags) {
	ts.statser.TimingDuration(name, d, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) NewTimer(name string, tags cardiffd.Tags) *Timer {
	return newTimer(ts.statser, name, ts.concatTags(ts.tags, tags))
}

func (ts *TaggedStatser) WithTags(tags cardiffd.Tags) Statser {
	return NewTaggedStatser(ts, tags)
}

func (ts *TaggedStatser) concatTags(base cardiffd.Tags, additional cardiffd.Tags) cardiffd.Tags {
	if len(base) == 0 {
		return additional
	}
	if len(additional) == 0 {
		return base
	}
	return base.Concat(additional)
}
