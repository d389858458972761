package stats

import (
	"context"
	"time"

	"github.com/cardiffd/cardiffd"
)

// Statser is the interface for sending internal metrics about the daemon itself.
type Statser interface {
	// NotifyFlush is called when a flush occurs.  It signals all known subscribers.
	NotifyFlush(ctx context.Context, d time.Duration)
	// RegisterFlush returns a channel which will receive a notification after every flush, and a cleanup
	// function which should be called when the channel is no longer being read.
	RegisterFlush() (ch <-chan time.Duration, unregister func())

	Gauge(name string, value float64, tags cardiffd.Tags)
	Count(name string, amount float64, tags cardiffd.Tags)
	Increment(name string, tags cardiffd.Tags)
	TimingMS(name string, ms float64, tags cardiffd.Tags)
	TimingDuration(name string, d time.Duration, tags cardiffd.Tags)
	NewTimer(name string, tags cardiffd.Tags) *Timer
	WithTags(tags cardiffd.Tags) Statser
}
