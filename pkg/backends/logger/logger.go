package logger

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
)

// BackendName is the name of this backend.
const BackendName = "logger"

// Client writes flushed metrics to the process log. Mostly useful for debugging
// a pipeline without standing up a real destination.
type Client struct {
	logger  logrus.FieldLogger
	verbose bool
}

// NewClientFromViper constructs a logger backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (cardiffd.Backend, error) {
	l := util.GetSubViper(v, "logger")
	l.SetDefault("verbose", false)
	return NewClient(l.GetBool("verbose"), logger)
}

// NewClient constructs a logger backend. When verbose is set every metric is
// logged individually, otherwise only a per-flush summary line is emitted.
func NewClient(verbose bool, logger logrus.FieldLogger) (*Client, error) {
	return &Client{
		logger:  logger,
		verbose: verbose,
	}, nil
}

// SendMetricsAsync logs the metrics in the MetricMap. It never fails.
func (client *Client) SendMetricsAsync(ctx context.Context, metrics *cardiffd.MetricMap, cb cardiffd.SendCallback) {
	counters := 0
	timers := 0
	gauges := 0
	sets := 0
	metrics.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
		counters++
		if client.verbose {
			client.logger.WithFields(logrus.Fields{
				"type":       "counter",
				"name":       key,
				"tags":       counter.Tags,
				"value":      counter.Value,
				"per_second": counter.PerSecond,
			}).Info("metric")
		}
	})
	metrics.Timers.Each(func(key, tagsKey string, timer cardiffd.Timer) {
		timers++
		if client.verbose {
			fields := logrus.Fields{
				"type":   "timer",
				"name":   key,
				"tags":   timer.Tags,
				"count":  timer.Count,
				"lower":  timer.Min,
				"upper":  timer.Max,
				"mean":   timer.Mean,
				"median": timer.Median,
				"sum":    timer.Sum,
			}
			for _, pct := range timer.Percentiles {
				fields[pct.Str] = pct.Float
			}
			client.logger.WithFields(fields).Info("metric")
		}
	})
	metrics.Gauges.Each(func(key, tagsKey string, gauge cardiffd.Gauge) {
		gauges++
		if client.verbose {
			client.logger.WithFields(logrus.Fields{
				"type":  "gauge",
				"name":  key,
				"tags":  gauge.Tags,
				"value": gauge.Value,
			}).Info("metric")
		}
	})
	metrics.Sets.Each(func(key, tagsKey string, set cardiffd.Set) {
		sets++
		if client.verbose {
			client.logger.WithFields(logrus.Fields{
				"type":  "set",
				"name":  key,
				"tags":  set.Tags,
				"size":  len(set.Values),
			}).Info("metric")
		}
	})
	client.logger.WithFields(logrus.Fields{
		"counters": counters,
		"timers":   timers,
		"gauges":   gauges,
		"sets":     sets,
	}).Info("flush")
	cb(nil)
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}
