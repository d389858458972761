package statsd

import (
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
)

// DefaultBackends is the list of default backends' names.
var DefaultBackends = []string{"graphite"}

// DefaultMaxReaders is the default number of socket reading goroutines.
var DefaultMaxReaders = minInt(8, runtime.NumCPU())

// DefaultMaxParsers is the default number of datagram parsing goroutines.
var DefaultMaxParsers = runtime.NumCPU()

// DefaultMaxWorkers is the default number of goroutines that aggregate metrics.
var DefaultMaxWorkers = runtime.NumCPU()

// DefaultPercentThreshold is the default list of applied percentiles.
var DefaultPercentThreshold = []float64{50, 90, 99}

// DefaultTags is the default list of additional tags.
var DefaultTags = cardiffd.Tags{}

// DefaultInternalTags is the default list of additional tags on internal metrics.
var DefaultInternalTags = cardiffd.Tags{}

const (
	// StatserInternal is the name used to indicate the use of the internal statser.
	StatserInternal = "internal"
	// StatserLogging is the name used to indicate the use of the logging statser.
	StatserLogging = "logging"
	// StatserNull is the name used to indicate the use of the null statser.
	StatserNull = "null"
)

const (
	// DefaultExpiryInterval is the default expiry interval for metrics.
	DefaultExpiryInterval = 5 * time.Minute
	// DefaultFlushInterval is the default metrics flush interval.
	DefaultFlushInterval = 10 * time.Second
	// DefaultFlushOffset is the default metrics flush offset when alignment is enabled.
	DefaultFlushOffset = 0 * time.Second
	// DefaultFlushAligned indicates whether the flush should be aligned to the interval by default.
	DefaultFlushAligned = false
	// DefaultMetricsAddr is the default address on which to listen for metrics.
	DefaultMetricsAddr = ":8125"
	// UpstreamPort is the conventional port for the upstream listener. The listener is
	// disabled unless an address is configured.
	UpstreamPort = 8126
	// DefaultDispatchTimeout is the default timeout for dispatching a flushed window to a backend.
	DefaultDispatchTimeout = 10 * time.Second
	// DefaultMaxQueueSize is the default maximum number of buffered metric maps per worker.
	DefaultMaxQueueSize = 10000 // arbitrary
	// DefaultReceiveBatchSize is the default number of datagrams in flight between the readers and the parsers.
	DefaultReceiveBatchSize = 1000 // arbitrary
	// DefaultConsolidationInterval is the default interval at which consolidated metrics are
	// pushed to the aggregation workers.
	DefaultConsolidationInterval = 1 * time.Second
	// DefaultBadLinesPerSecondLogged is the default number of malformed lines logged per second.
	DefaultBadLinesPerSecondLogged = 1
	// DefaultStatserType is the default statser type.
	DefaultStatserType = StatserInternal
	// DefaultInternalNamespace is the default namespace for internal metrics.
	DefaultInternalNamespace = "cardiff"
	// DefaultConnPerReader is the default for whether to open a listening socket per reader.
	DefaultConnPerReader = false
	// DefaultIgnoreHost is the default for whether to ignore the metric source.
	DefaultIgnoreHost = false
)

const (
	// ParamBackends is the name of parameter with backends.
	ParamBackends = "backends"
	// ParamDefaultTags is the name of parameter with the list of additional tags.
	ParamDefaultTags = "default-tags"
	// ParamInternalTags is the name of parameter with the list of tags for internal metrics.
	ParamInternalTags = "internal-tags"
	// ParamInternalNamespace is the name of parameter with the namespace for internal metrics.
	ParamInternalNamespace = "internal-namespace"
	// ParamExpiryInterval is the name of parameter with expiry interval for metrics.
	ParamExpiryInterval = "expiry-interval"
	// ParamFlushInterval is the name of parameter with metrics flush interval.
	ParamFlushInterval = "flush-interval"
	// ParamFlushOffset is the name of parameter with metrics flush offset.
	ParamFlushOffset = "flush-offset"
	// ParamFlushAligned is the name of parameter with aligned flush behavior.
	ParamFlushAligned = "flush-aligned"
	// ParamIgnoreHost is the name of parameter indicating if the source should be used as the host.
	ParamIgnoreHost = "ignore-host"
	// ParamMaxReaders is the name of parameter with number of socket readers.
	ParamMaxReaders = "max-readers"
	// ParamMaxParsers is the name of parameter with number of datagram parsers.
	ParamMaxParsers = "max-parsers"
	// ParamMaxWorkers is the name of parameter with number of goroutines that aggregate metrics.
	ParamMaxWorkers = "max-workers"
	// ParamMaxQueueSize is the name of parameter with maximum number of buffered metric maps per worker.
	ParamMaxQueueSize = "max-queue-size"
	// ParamReceiveBatchSize is the name of parameter with the number of datagrams in flight.
	ParamReceiveBatchSize = "receive-batch-size"
	// ParamConsolidationInterval is the name of the parameter with the consolidation interval.
	ParamConsolidationInterval = "consolidation-interval"
	// ParamMetricsAddr is the name of parameter with address on which to listen for metrics.
	ParamMetricsAddr = "metrics-addr"
	// ParamUpstreamAddr is the name of parameter with address on which to listen for forwarded windows.
	ParamUpstreamAddr = "upstream-addr"
	// ParamDispatchTimeout is the name of parameter with the per-backend dispatch timeout.
	ParamDispatchTimeout = "dispatch-timeout"
	// ParamNamespace is the name of parameter with namespace for all metrics.
	ParamNamespace = "namespace"
	// ParamPercentThreshold is the name of parameter with list of applied percentiles.
	ParamPercentThreshold = "percent-threshold"
	// ParamBadLinesPerSecondLogged is the name of the parameter with the number of malformed lines logged per second.
	ParamBadLinesPerSecondLogged = "bad-lines-logged-per-second"
	// ParamStatserType is the name of the parameter with the type of statser.
	ParamStatserType = "statser-type"
	// ParamConnPerReader is the name of the parameter indicating whether to open a listening socket per reader.
	ParamConnPerReader = "conn-per-reader"
	// ParamWebAddr is the name of parameter with the address of the observability web server.
	ParamWebAddr = "web-addr"
	// ParamWebEnablePprof is the name of parameter enabling the profiling endpoints.
	ParamWebEnablePprof = "web-enable-pprof"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.Duration(ParamExpiryInterval, DefaultExpiryInterval, "After how long do we expire metrics (0 to disable)")
	fs.Duration(ParamFlushInterval, DefaultFlushInterval, "How often to flush metrics to the backends")
	fs.Duration(ParamFlushOffset, DefaultFlushOffset, "Offset of the flush interval when alignment is enabled")
	fs.Bool(ParamFlushAligned, DefaultFlushAligned, "Align the flush to the interval")
	fs.Bool(ParamIgnoreHost, DefaultIgnoreHost, "Don't add the source address as the metric source")
	fs.Int(ParamMaxReaders, DefaultMaxReaders, "Maximum number of socket readers")
	fs.Int(ParamMaxParsers, DefaultMaxParsers, "Maximum number of datagram parsers")
	fs.Int(ParamMaxWorkers, DefaultMaxWorkers, "Maximum number of workers to process metrics")
	fs.Int(ParamMaxQueueSize, DefaultMaxQueueSize, "Maximum number of buffered metric maps per worker")
	fs.Int(ParamReceiveBatchSize, DefaultReceiveBatchSize, "The number of datagrams in flight between the readers and the parsers")
	fs.Duration(ParamConsolidationInterval, DefaultConsolidationInterval, "How often to push consolidated metrics to the workers")
	fs.String(ParamMetricsAddr, DefaultMetricsAddr, "Address on which to listen for metrics")
	fs.String(ParamUpstreamAddr, "", "Address on which to listen for windows forwarded by downstream daemons, conventionally port 8126 (empty to disable)")
	fs.Duration(ParamDispatchTimeout, DefaultDispatchTimeout, "Timeout for dispatching a flushed window to a backend (0 to disable)")
	fs.String(ParamNamespace, "", "Namespace all metrics")
	fs.Int(ParamBadLinesPerSecondLogged, DefaultBadLinesPerSecondLogged, "Number of malformed lines to log per second (0 for unlimited)")
	fs.String(ParamStatserType, DefaultStatserType, "How to process internal metrics (internal, logging, or null)")
	fs.Bool(ParamConnPerReader, DefaultConnPerReader, "Open a listening socket per reader (requires SO_REUSEPORT)")
	fs.String(ParamInternalNamespace, DefaultInternalNamespace, "Namespace for internal metrics")
	fs.String(ParamWebAddr, "", "Address of the observability web server (empty to disable)")
	fs.Bool(ParamWebEnablePprof, false, "Enable the profiling endpoints on the web server")
	//TODO Remove workaround when https://github.com/spf13/viper/issues/112 is fixed
	// https://github.com/spf13/viper/issues/200
	fs.String(ParamBackends, strings.Join(DefaultBackends, ","), "Comma-separated list of backends")
	fs.String(ParamDefaultTags, strings.Join(DefaultTags, ","), "Comma-separated list of tags to add to all metrics")
	fs.String(ParamInternalTags, strings.Join(DefaultInternalTags, ","), "Comma-separated list of tags to add to internal metrics")
	fs.String(ParamPercentThreshold, strings.Join(toStringSlice(DefaultPercentThreshold), ","), "Comma-separated list of percentiles")
}

// InitDefaults sets the defaults for the server configuration on a viper instance.
func InitDefaults(v *viper.Viper) {
	v.SetDefault(ParamBackends, DefaultBackends)
	v.SetDefault(ParamDefaultTags, DefaultTags)
	v.SetDefault(ParamInternalTags, DefaultInternalTags)
	v.SetDefault(ParamInternalNamespace, DefaultInternalNamespace)
	v.SetDefault(ParamExpiryInterval, DefaultExpiryInterval)
	v.SetDefault(ParamFlushInterval, DefaultFlushInterval)
	v.SetDefault(ParamFlushOffset, DefaultFlushOffset)
	v.SetDefault(ParamFlushAligned, DefaultFlushAligned)
	v.SetDefault(ParamIgnoreHost, DefaultIgnoreHost)
	v.SetDefault(ParamMaxReaders, DefaultMaxReaders)
	v.SetDefault(ParamMaxParsers, DefaultMaxParsers)
	v.SetDefault(ParamMaxWorkers, DefaultMaxWorkers)
	v.SetDefault(ParamMaxQueueSize, DefaultMaxQueueSize)
	v.SetDefault(ParamReceiveBatchSize, DefaultReceiveBatchSize)
	v.SetDefault(ParamConsolidationInterval, DefaultConsolidationInterval)
	v.SetDefault(ParamMetricsAddr, DefaultMetricsAddr)
	v.SetDefault(ParamUpstreamAddr, "")
	v.SetDefault(ParamDispatchTimeout, DefaultDispatchTimeout)
	v.SetDefault(ParamNamespace, "")
	v.SetDefault(ParamPercentThreshold, DefaultPercentThreshold)
	v.SetDefault(ParamBadLinesPerSecondLogged, DefaultBadLinesPerSecondLogged)
	v.SetDefault(ParamStatserType, DefaultStatserType)
	v.SetDefault(ParamConnPerReader, DefaultConnPerReader)
	v.SetDefault(ParamWebAddr, "")
	v.SetDefault(ParamWebEnablePprof, false)
}

func toStringSlice(fs []float64) []string {
	s := make([]string, len(fs))
	for i, f := range fs {
		s[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
