package statsd

import (
	"context"
	"fmt"
	"time"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/stats"
)

type processCommand struct {
	f    DispatcherProcessFunc
	done func()
}

type worker struct {
	aggr           Aggregator
	metricMapQueue chan *cardiffd.MetricMap
	processChan    chan *processCommand
	id             int
}

func (w *worker) work() {
	for {
		select {
		case mm, ok := <-w.metricMapQueue:
			if !ok {
				return
			}
			w.aggr.ReceiveMap(mm)
		case cmd := <-w.processChan:
			w.executeProcess(cmd)
		}
	}
}

func (w *worker) executeProcess(cmd *processCommand) {
	defer cmd.done() // Done with the process command
	cmd.f(w.id, w.aggr)
}

func (w *worker) runMetrics(ctx context.Context, statser stats.Statser) {
	stats.NewChannelStatsWatcher(
		statser,
		"dispatch_aggregator_map",
		cardiffd.Tags{fmt.Sprintf("aggregator_id:%d", w.id)},
		cap(w.metricMapQueue),
		func() int { return len(w.metricMapQueue) },
		1000*time.Millisecond,
	).Run(ctx)
}
