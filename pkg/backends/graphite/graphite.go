package graphite

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
	"github.com/cardiffd/cardiffd/pkg/backends/sender"
)

const (
	// BackendName is the name of this backend.
	BackendName = "graphite"
	// DefaultAddress is the default address of Graphite server.
	DefaultAddress = "localhost:2003"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultGlobalPrefix is the default global prefix.
	DefaultGlobalPrefix = "cardiff"
	// legacyPrefix is the fixed prefix used by legacy mode, from the original statsd daemons.
	legacyPrefix = "stats"
	// DefaultPrefixCounter is the default counters prefix.
	DefaultPrefixCounter = "counters"
	// DefaultPrefixTimer is the default timers prefix.
	DefaultPrefixTimer = "timers"
	// DefaultPrefixGauge is the default gauges prefix.
	DefaultPrefixGauge = "gauges"
	// DefaultPrefixSet is the default sets prefix.
	DefaultPrefixSet = "sets"
	// DefaultGlobalSuffix is the default global suffix.
	DefaultGlobalSuffix = ""
	// DefaultMode controls whether to use legacy namespace, no tags, or tags
	DefaultMode = "tags"
	// DefaultProtocol is the default wire protocol, the plaintext protocol.
	DefaultProtocol = "text"
	// DefaultPickleBatchSize is the default number of datapoints per pickle frame.
	DefaultPickleBatchSize = 300
)

const (
	bufSize = 1 * 1024 * 1024
	// maxConcurrentSends is the number of max concurrent SendMetricsAsync calls that can actually make progress.
	// More calls will block. The current implementation uses maximum 1 call.
	maxConcurrentSends = 10
)

var (
	regWhitespace  = regexp.MustCompile(`\s+`)
	regNonAlphaNum = regexp.MustCompile(`[^a-zA-Z\d_.-]`)
)

// Client is an object that is used to send messages to a Graphite server's TCP interface.
type Client struct {
	sender           sender.Sender
	counterNamespace string // all strings have . stripped off start and end, and are normalized.
	timerNamespace   string
	gaugesNamespace  string
	setsNamespace    string
	globalSuffix     string
	legacyNamespace  bool
	enableTags       bool
	pickle           bool
	pickleBatchSize  int
}

func (client *Client) Run(ctx context.Context) {
	client.sender.Run(ctx)
}

// SendMetricsAsync flushes the metrics to the Graphite server, preparing payload synchronously but doing the send asynchronously.
func (client *Client) SendMetricsAsync(ctx context.Context, metrics *cardiffd.MetricMap, cb cardiffd.SendCallback) {
	buf := client.preparePayload(metrics, time.Now())
	sink := make(chan *bytes.Buffer, 1)
	sink <- buf
	close(sink)
	select {
	case <-ctx.Done():
		client.sender.PutBuffer(buf)
		cb([]error{ctx.Err()})
	case client.sender.Sink <- sender.Stream{Ctx: ctx, Cb: cb, Buf: sink}:
	}
}

// normalizeMetricName will:
// - Replace:
// -- whitespace with "_"
// -- "/" with "-"
// - Delete:
// -- any character that is non alphanumeric, "_", ".", or "-"
func normalizeMetricName(s string) string {
	r1 := regWhitespace.ReplaceAllLiteral([]byte(s), []byte{'_'})
	r2 := bytes.Replace(r1, []byte{'/'}, []byte{'-'}, -1)
	return string(regNonAlphaNum.ReplaceAllLiteral(r2, nil))
}

// asGraphiteTag will convert a `key:value` or `value` tag to `key=value` or `unnamed=value`
func asGraphiteTag(tag string) string {
	if strings.Contains(tag, ":") {
		return strings.Replace(tag, ":", "=", 1)
	}
	return "unnamed=" + tag
}

// prepareName will create a metric name, handling correct prefix, suffixes, and tags, with an optional host tag if
// not overridden by a tag on the metric.
func (client *Client) prepareName(namespace, name, suffix string, source cardiffd.Source, tags cardiffd.Tags) string {
	buf := bytes.Buffer{}
	if namespace != "" {
		buf.WriteString(namespace)
		buf.WriteByte('.')
	}
	buf.WriteString(normalizeMetricName(name))
	if suffix != "" {
		buf.WriteByte('.')
		buf.WriteString(suffix)
	}
	if client.globalSuffix != "" {
		buf.WriteByte('.')
		buf.WriteString(client.globalSuffix)
	}

	if client.enableTags {
		haveHost := false
		for _, tag := range tags {
			graphiteTag := asGraphiteTag(tag)
			buf.WriteByte(';')
			buf.WriteString(graphiteTag)
			if strings.HasPrefix(tag, "host:") {
				haveHost = true
			}
		}
		if !haveHost && source != cardiffd.UnknownSource {
			buf.WriteString(";host=")
			buf.WriteString(string(source))
		}
	}

	return buf.String()
}

// emitter collects datapoints destined for a single payload buffer, in either wire protocol.
type emitter interface {
	emit(path string, timestamp int64, value float64)
	finish()
}

type textEmitter struct {
	buf *bytes.Buffer
}

func (te *textEmitter) emit(path string, timestamp int64, value float64) {
	_, _ = fmt.Fprintf(te.buf, "%s %f %d\n", path, value, timestamp)
}

func (te *textEmitter) finish() {}

// pickleEmitter writes framed pickles of at most batchSize datapoints each.
type pickleEmitter struct {
	buf       *bytes.Buffer
	frame     bytes.Buffer
	pw        *pickleWriter
	count     int
	batchSize int
}

func (pe *pickleEmitter) emit(path string, timestamp int64, value float64) {
	if pe.pw == nil {
		pe.frame.Reset()
		pe.pw = newPickleWriter(&pe.frame)
		pe.count = 0
	}
	pe.pw.writeDatapoint(path, timestamp, value)
	pe.count++
	if pe.count >= pe.batchSize {
		pe.closeFrame()
	}
}

func (pe *pickleEmitter) closeFrame() {
	pe.pw.close()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(pe.frame.Len()))
	pe.buf.Write(header[:])
	pe.buf.Write(pe.frame.Bytes())
	pe.pw = nil
}

func (pe *pickleEmitter) finish() {
	if pe.pw != nil && pe.count > 0 {
		pe.closeFrame()
	}
}

func (client *Client) makeEmitter(buf *bytes.Buffer) emitter {
	if client.pickle {
		return &pickleEmitter{buf: buf, batchSize: client.pickleBatchSize}
	}
	return &textEmitter{buf: buf}
}

func (client *Client) preparePayload(metrics *cardiffd.MetricMap, ts time.Time) *bytes.Buffer {
	buf := client.sender.GetBuffer()
	now := ts.Unix()
	e := client.makeEmitter(buf)
	if client.legacyNamespace {
		metrics.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
			e.emit(client.prepareName("stats_counts", key, "", counter.Source, counter.Tags), now, float64(counter.Value))
			e.emit(client.prepareName(client.counterNamespace, key, "", counter.Source, counter.Tags), now, counter.PerSecond)
		})
	} else {
		metrics.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
			e.emit(client.prepareName(client.counterNamespace, key, "count", counter.Source, counter.Tags), now, float64(counter.Value))
			e.emit(client.prepareName(client.counterNamespace, key, "rate", counter.Source, counter.Tags), now, counter.PerSecond)
		})
	}
	metrics.Timers.Each(func(key, tagsKey string, timer cardiffd.Timer) {
		e.emit(client.prepareName(client.timerNamespace, key, "lower", timer.Source, timer.Tags), now, timer.Min)
		e.emit(client.prepareName(client.timerNamespace, key, "upper", timer.Source, timer.Tags), now, timer.Max)
		e.emit(client.prepareName(client.timerNamespace, key, "count", timer.Source, timer.Tags), now, float64(timer.Count))
		e.emit(client.prepareName(client.timerNamespace, key, "count_ps", timer.Source, timer.Tags), now, timer.PerSecond)
		e.emit(client.prepareName(client.timerNamespace, key, "mean", timer.Source, timer.Tags), now, timer.Mean)
		e.emit(client.prepareName(client.timerNamespace, key, "median", timer.Source, timer.Tags), now, timer.Median)
		e.emit(client.prepareName(client.timerNamespace, key, "sum", timer.Source, timer.Tags), now, timer.Sum)
		for _, pct := range timer.Percentiles {
			e.emit(client.prepareName(client.timerNamespace, key, pct.Str, timer.Source, timer.Tags), now, pct.Float)
		}
	})
	metrics.Gauges.Each(func(key, tagsKey string, gauge cardiffd.Gauge) {
		e.emit(client.prepareName(client.gaugesNamespace, key, "", gauge.Source, gauge.Tags), now, gauge.Value)
	})
	metrics.Sets.Each(func(key, tagsKey string, set cardiffd.Set) {
		e.emit(client.prepareName(client.setsNamespace, key, "", set.Source, set.Tags), now, float64(len(set.Values)))
	})
	e.finish()
	return buf
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}

// NewClientFromViper constructs a Client object using configuration provided by Viper
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (cardiffd.Backend, error) {
	g := util.GetSubViper(v, "graphite")
	g.SetDefault("address", DefaultAddress)
	g.SetDefault("dial_timeout", DefaultDialTimeout)
	g.SetDefault("write_timeout", DefaultWriteTimeout)
	g.SetDefault("global_prefix", DefaultGlobalPrefix)
	g.SetDefault("prefix_counter", DefaultPrefixCounter)
	g.SetDefault("prefix_timer", DefaultPrefixTimer)
	g.SetDefault("prefix_gauge", DefaultPrefixGauge)
	g.SetDefault("prefix_set", DefaultPrefixSet)
	g.SetDefault("global_suffix", DefaultGlobalSuffix)
	g.SetDefault("mode", DefaultMode)
	g.SetDefault("protocol", DefaultProtocol)
	g.SetDefault("pickle_batch_size", DefaultPickleBatchSize)
	backoffFactory, err := util.GetRetryFromViper(g)
	if err != nil {
		return nil, fmt.Errorf("[%s] %v", BackendName, err)
	}
	return NewClient(
		g.GetString("address"),
		g.GetDuration("dial_timeout"),
		g.GetDuration("write_timeout"),
		g.GetString("global_prefix"),
		g.GetString("prefix_counter"),
		g.GetString("prefix_timer"),
		g.GetString("prefix_gauge"),
		g.GetString("prefix_set"),
		g.GetString("global_suffix"),
		g.GetString("mode"),
		g.GetString("protocol"),
		g.GetInt("pickle_batch_size"),
		backoffFactory,
		logger,
	)
}

// NewClient constructs a Graphite backend object.
func NewClient(
	address string,
	dialTimeout time.Duration,
	writeTimeout time.Duration,
	globalPrefix string,
	prefixCounter string,
	prefixTimer string,
	prefixGauge string,
	prefixSet string,
	globalSuffix string,
	mode string,
	protocol string,
	pickleBatchSize int,
	backoffFactory util.BackoffFactory,
	logger logrus.FieldLogger,
) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("[%s] address is required", BackendName)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] dialTimeout should be positive", BackendName)
	}
	if writeTimeout < 0 {
		return nil, fmt.Errorf("[%s] writeTimeout should be non-negative", BackendName)
	}
	globalSuffix = strings.Trim(globalSuffix, ".")

	var legacyNamespace, enableTags bool
	switch mode {
	case "legacy":
		legacyNamespace = true
		enableTags = false
	case "basic":
		legacyNamespace = false
		enableTags = false
	case "tags":
		legacyNamespace = false
		enableTags = true
	default:
		return nil, fmt.Errorf("[%s] mode must be one of 'legacy', 'basic', or 'tags'", BackendName)
	}

	var pickle bool
	switch protocol {
	case "text":
		pickle = false
	case "pickle":
		pickle = true
	default:
		return nil, fmt.Errorf("[%s] protocol must be one of 'text' or 'pickle'", BackendName)
	}
	if pickle && pickleBatchSize <= 0 {
		return nil, fmt.Errorf("[%s] pickle_batch_size should be positive", BackendName)
	}

	var counterNamespace, timerNamespace, gaugesNamespace, setsNamespace string

	if legacyNamespace {
		counterNamespace = legacyPrefix
		timerNamespace = combine(legacyPrefix, "timers")
		gaugesNamespace = combine(legacyPrefix, "gauges")
		setsNamespace = combine(legacyPrefix, "sets")
	} else {
		counterNamespace = combine(globalPrefix, prefixCounter)
		timerNamespace = combine(globalPrefix, prefixTimer)
		gaugesNamespace = combine(globalPrefix, prefixGauge)
		setsNamespace = combine(globalPrefix, prefixSet)
	}

	counterNamespace = normalizeMetricName(counterNamespace)
	timerNamespace = normalizeMetricName(timerNamespace)
	gaugesNamespace = normalizeMetricName(gaugesNamespace)
	setsNamespace = normalizeMetricName(setsNamespace)
	globalSuffix = normalizeMetricName(globalSuffix)

	logger.WithFields(logrus.Fields{
		"address":           address,
		"dial-timeout":      dialTimeout,
		"write-timeout":     writeTimeout,
		"counter-namespace": counterNamespace,
		"timer-namespace":   timerNamespace,
		"gauges-namespace":  gaugesNamespace,
		"sets-namespace":    setsNamespace,
		"global-suffix":     globalSuffix,
		"mode":              mode,
		"protocol":          protocol,
	}).Info("created backend")

	return &Client{
		sender: sender.Sender{
			Logger: logger,
			ConnFactory: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, dialTimeout)
			},
			Sink: make(chan sender.Stream, maxConcurrentSends),
			BufPool: sync.Pool{
				New: func() interface{} {
					buf := new(bytes.Buffer)
					buf.Grow(bufSize)
					return buf
				},
			},
			WriteTimeout: writeTimeout,
			Backoff:      backoffFactory,
		},
		counterNamespace: counterNamespace,
		timerNamespace:   timerNamespace,
		gaugesNamespace:  gaugesNamespace,
		setsNamespace:    setsNamespace,
		globalSuffix:     globalSuffix,
		legacyNamespace:  legacyNamespace,
		enableTags:       enableTags,
		pickle:           pickle,
		pickleBatchSize:  pickleBatchSize,
	}, nil
}

func combine(prefix, suffix string) string {
	prefix = strings.Trim(prefix, ".")
	suffix = strings.Trim(suffix, ".")
	if prefix != "" && suffix != "" {
		return prefix + "." + suffix
	}
	if prefix != "" {
		return prefix
	}
	return suffix
}
