// Package protocol implements the framing used between tiered daemons.  An aggregation window is
// forwarded as a single frame holding the raw (pre-reduction) metric map, so that the receiving
// tier can compute percentiles over the full series.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/cardiffd/cardiffd"
)

// MaxFrameSize is the largest frame a receiver will accept.
const MaxFrameSize = 64 * 1024 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeFrame serializes a MetricMap with a length prefix, ready to be written to a stream.
func EncodeFrame(mm *cardiffd.MetricMap) ([]byte, error) {
	payload, err := json.Marshal(mm)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// ReadFrame reads a single length-prefixed frame from r and decodes it.  Returns io.EOF if the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader) (*cardiffd.MetricMap, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum of %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("truncated frame payload: %w", err)
	}
	mm := cardiffd.NewMetricMap()
	if err := json.Unmarshal(payload, mm); err != nil {
		return nil, fmt.Errorf("bad frame payload: %w", err)
	}
	return mm, nil
}
