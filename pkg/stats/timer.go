package stats

import (
	"time"

	"github.com/cardiffd/cardiffd"
)

// Timer times an operation and submits a timing metric when it completes.
type Timer struct {
	statser   Statser
	name      string
	tags      cardiffd.Tags
	startTime time.Time
}

func newTimer(statser Statser, name string, tags cardiffd.Tags) *Timer {
	return &Timer{
		statser:   statser,
		name:      name,
		tags:      tags,
		startTime: time.Now(),
	}
}

// SendGauge submits the elapsed time as a gauge, in seconds.
func (t *Timer) SendGauge() {
	t.statser.Gauge(t.name, time.Since(t.startTime).Seconds(), t.tags)
}

// Send submits the elapsed time as a timer, in milliseconds.
func (t *Timer) Send() {
	t.statser.TimingDuration(t.name, time.Since(t.startTime), t.tags)
}
