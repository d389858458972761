package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
	"github.com/cardiffd/cardiffd/pkg/backends/sender"
	"github.com/cardiffd/cardiffd/pkg/protocol"
)

const (
	// BackendName is the name of this backend.
	BackendName = "upstream"
	// DefaultDialTimeout is the default net.Dial timeout.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout is the default socket write timeout.
	DefaultWriteTimeout = 30 * time.Second
)

const (
	bufSize            = 1 * 1024 * 1024
	maxConcurrentSends = 10
)

// Client forwards raw aggregation windows to the upstream port of another
// daemon in the tier. Each window travels as one length-prefixed frame, so
// the upstream daemon can merge the untouched samples into its own table and
// reduce them there.
type Client struct {
	sender sender.Sender
}

// NewClientFromViper constructs an upstream forwarding backend using configuration provided by Viper.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (cardiffd.Backend, error) {
	u := util.GetSubViper(v, "upstream")
	u.SetDefault("dial_timeout", DefaultDialTimeout)
	u.SetDefault("write_timeout", DefaultWriteTimeout)
	backoffFactory, err := util.GetRetryFromViper(u)
	if err != nil {
		return nil, fmt.Errorf("[%s] %v", BackendName, err)
	}
	return NewClient(
		u.GetString("address"),
		u.GetDuration("dial_timeout"),
		u.GetDuration("write_timeout"),
		backoffFactory,
		logger,
	)
}

// NewClient constructs an upstream forwarding backend.
func NewClient(address string, dialTimeout, writeTimeout time.Duration, backoffFactory util.BackoffFactory, logger logrus.FieldLogger) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("[%s] address is required", BackendName)
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("[%s] dial_timeout should be positive", BackendName)
	}
	if writeTimeout < 0 {
		return nil, fmt.Errorf("[%s] write_timeout should be non-negative", BackendName)
	}
	logger.WithField("address", address).Info("created backend")
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
	}, nil
}

func (client *Client) Run(ctx context.Context) {
	client.sender.Run(ctx)
}

// SendRawAsync frames the raw window synchronously and hands it to the sender for delivery.
func (client *Client) SendRawAsync(ctx context.Context, metrics *cardiffd.MetricMap, cb cardiffd.SendCallback) {
	frame, err := protocol.EncodeFrame(metrics)
	if err != nil {
		cb([]error{err})
		return
	}
	buf := client.sender.GetBuffer()
	buf.Write(frame)
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

// SendMetricsAsync does nothing. Reduced values are deliberately not
// forwarded: the upstream daemon reduces the raw window itself.
func (client *Client) SendMetricsAsync(ctx context.Context, metrics *cardiffd.MetricMap, cb cardiffd.SendCallback) {
	cb(nil)
}

// Name returns the name of the backend.
func (client *Client) Name() string {
	return BackendName
}
