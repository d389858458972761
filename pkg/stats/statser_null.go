package stats

import (
	"time"

	"github.com/cardiffd/cardiffd"
)

// NullStatser is a null object implementation of Statser.  Metrics sent to it
// are discarded.
type NullStatser struct {
	flushNotifier
}

func NewNullStatser() *NullStatser {
	return &NullStatser{}
}

func (ns *NullStatser) Gauge(name string, value float64, tags cardiffd.Tags)           {}
func (ns *NullStatser) Count(name string, amount float64, tags cardiffd.Tags)          {}
func (ns *NullStatser) Increment(name string, tags cardiffd.Tags)                      {}
func (ns *NullStatser) TimingMS(name string, ms float64, tags cardiffd.Tags)           {}
func (ns *NullStatser) TimingDuration(name string, d time.Duration, tags cardiffd.Tags) {
}

func (ns *NullStatser) NewTimer(name string, tags cardiffd.Tags) *Timer {
	return newTimer(ns, name, tags)
}

func (ns *NullStatser) WithTags(tags cardiffd.Tags) Statser {
	return ns
}
