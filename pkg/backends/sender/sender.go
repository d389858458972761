// Package sender provides a shared stream-oriented delivery loop for backends that write to a
// single TCP destination.
package sender

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/util"
)

const maxStreamsPerConnection = 100

type ConnFactory func() (net.Conn, error)

// Stream is a single logical payload, presented as a sequence of buffers.
type Stream struct {
	Ctx context.Context
	Cb  cardiffd.SendCallback
	Buf chan *bytes.Buffer
}

// Sender pulls Streams off its Sink and writes them to a connection, reconnecting as needed.
// Connection attempts are paced by the backoff policy.
type Sender struct {
	ConnFactory  ConnFactory
	Sink         chan Stream
	BufPool      sync.Pool
	WriteTimeout time.Duration
	Backoff      util.BackoffFactory
	Logger       logrus.FieldLogger
}

func (s *Sender) Run(ctx context.Context) {
	var stream *Stream
	var errs []error
	var bo backoff.BackOff
	for {
		w, err := s.ConnFactory()
		if err != nil {
			s.Logger.WithError(err).Warn("failed to connect")
			if bo == nil {
				bo = s.makeBackoff()
			}
			next := bo.NextBackOff()
			if next == backoff.Stop {
				bo.Reset()
				next = bo.NextBackOff()
			}
			timer := time.NewTimer(next)
		wait:
			for {
				var abandoned <-chan struct{}
				if stream != nil && stream.Ctx != nil {
					abandoned = stream.Ctx.Done()
				}
				var sink <-chan Stream
				if stream == nil {
					sink = s.Sink
				}
				select {
				case <-ctx.Done():
					timer.Stop()
					s.releaseStream(stream, ctx.Err())
					return
				case str := <-sink:
					// Pull streams even while the destination is down so a
					// queued one whose owner gives up can be released.
					stream = &str
				case <-abandoned:
					s.releaseStream(stream, stream.Ctx.Err())
					stream = nil
				case <-timer.C:
					break wait
				}
			}
			continue
		}
		bo = nil
		stream, errs, err = s.innerRun(ctx, w, stream, errs)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				s.releaseStream(stream, err)
				return
			}
			errs = append(errs, err)
		}
	}
}

func (s *Sender) makeBackoff() backoff.BackOff {
	if s.Backoff != nil {
		return s.Backoff()
	}
	return backoff.NewExponentialBackOff()
}

// releaseStream drains and acknowledges a stream that will never be sent.
func (s *Sender) releaseStream(stream *Stream, err error) {
	if stream == nil {
		return
	}
	for buf := range stream.Buf {
		s.PutBuffer(buf)
	}
	stream.Cb([]error{err})
}

func (s *Sender) innerRun(ctx context.Context, conn net.Conn, stream *Stream, errs []error) (*Stream, []error, error) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.Logger.WithError(err).Warn("close failed")
		}
	}()
	var err error
loop:
	for streamCount := 0; streamCount < maxStreamsPerConnection; streamCount++ {
		if stream == nil {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break loop
			case str := <-s.Sink:
				stream = &str
			}
		}
		if stream.Ctx != nil && stream.Ctx.Err() != nil {
			s.releaseStream(stream, stream.Ctx.Err())
			stream = nil
			continue
		}
		for buf := range stream.Buf {
			if s.WriteTimeout > 0 {
				if e := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); e != nil {
					s.Logger.WithError(e).Warn("failed to set write deadline")
				}
			}
			_, err = conn.Write(buf.Bytes())
			s.PutBuffer(buf)
			if err != nil {
				break loop
			}
		}
		stream.Cb(errs)
		stream = nil
		errs = nil
	}
	return stream, errs, err
}

func (s *Sender) GetBuffer() *bytes.Buffer {
	return s.BufPool.Get().(*bytes.Buffer)
}

func (s *Sender) PutBuffer(buf *bytes.Buffer) {
	buf.Reset() // Reset buffer before returning it into the pool
	s.BufPool.Put(buf)
}
