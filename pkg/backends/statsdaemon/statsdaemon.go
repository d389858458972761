package statsdaemon

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
)

const (
	// BackendName is the name of this backend.
	BackendName = "statsdaemon"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultSkipPrefix is the default prefix of metrics that are not re-sent upstream.
	DefaultSkipPrefix = "cardiff."

	// maxUDPPacketSize is small enough to fit into a single ethernet frame.
	maxUDPPacketSize = 1472
)

// Client re-encodes aggregated counters and gauges as statsd datagrams and
// sends them to another statsd-speaking server. Timers and sets are not
// forwarded: their per-sample information is already gone after aggregation,
// so re-sending them would double-count. Use the raw upstream backend when
// the full picture has to survive another hop.
type Client struct {
	addr        string
	dialTimeout time.Duration
	skipPrefix  string
	logger      logrus.FieldLogger
}

// NewClientFromViper constructs a statsdaemon backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (cardiffd.Backend, error) {
	s := util.GetSubViper(v, "statsdaemon")
	s.SetDefault("dial_timeout", DefaultDialTimeout)
	s.SetDefault("skip_prefix", DefaultSkipPrefix)
	return NewClient(
		s.GetString("address"),
		s.GetDuration("dial_timeout"),
		s.GetString("skip_prefix"),
		logger,
	)
}

// NewClient constructs a statsdaemon backend.
func NewClient(address string, dialTimeout time.Duration, skipPrefix string, logger logrus.FieldLogger) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("[%s] address is required", BackendName)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] dial_timeout should be positive", BackendName)
	}
	logger.WithFields(logrus.Fields{
		"address":     address,
		"skip-prefix": skipPrefix,
	}).Info("created backend")
	return &Client{
		addr:        address,
		dialTimeout: dialTimeout,
		skipPrefix:  skipPrefix,
		logger:      logger,
	}, nil
}

// SendMetricsAsync re-encodes counters and gauges and sends them over UDP.
// Packets are prepared synchronously, the network send happens in the background.
func (client *Client) SendMetricsAsync(ctx context.Context, metrics *cardiffd.MetricMap, cb cardiffd.SendCallback) {
	packets := client.preparePackets(metrics)
	if len(packets) == 0 {
		cb(nil)
		return
	}
	go func() {
		cb([]error{client.sendPackets(packets)})
	}()
}

// preparePackets encodes the metrics into datagrams no larger than maxUDPPacketSize.
func (client *Client) preparePackets(metrics *cardiffd.MetricMap) []*bytes.Buffer {
	var packets []*bytes.Buffer
	buf := new(bytes.Buffer)
	line := new(bytes.Buffer)

	flushLine := func() {
		if buf.Len()+line.Len() > maxUDPPacketSize {
			packets = append(packets, buf)
			buf = new(bytes.Buffer)
		}
		_, _ = line.WriteTo(buf)
		line.Reset()
	}

	metrics.Counters.Each(func(key, tagsKey string, counter cardiffd.Counter) {
		if client.skipPrefix != "" && strings.HasPrefix(key, client.skipPrefix) {
			return
		}
		fmt.Fprintf(line, "%s:%d|c", key, counter.Value)
		writeTags(line, counter.Tags)
		line.WriteByte('\n')
		flushLine()
	})
	metrics.Gauges.Each(func(key, tagsKey string, gauge cardiffd.Gauge) {
		if client.skipPrefix != "" && strings.HasPrefix(key, client.skipPrefix) {
			return
		}
		fmt.Fprintf(line, "%s:%g|g", key, gauge.Value)
		writeTags(line, gauge.Tags)
		line.WriteByte('\n')
		flushLine()
	})

	if buf.Len() > 0 {
		packets = append(packets, buf)
	}
	return packets
}

func writeTags(buf *bytes.Buffer, tags cardiffd.Tags) {
	if len(tags) == 0 {
		return
	}
	buf.WriteString("|#")
	buf.WriteString(tags.String())
}

func (client *Client) sendPackets(packets []*bytes.Buffer) error {
	conn, err := net.DialTimeout("udp", client.addr, client.dialTimeout)
	if err != nil {
		return fmt.Errorf("[%s] error connecting: %v", BackendName, err)
	}
	defer conn.Close()
	for _, packet := range packets {
		if _, err := conn.Write(packet.Bytes()); err != nil {
			return fmt.Errorf("[%s] error sending: %v", BackendName, err)
		}
	}
	return nil
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}
