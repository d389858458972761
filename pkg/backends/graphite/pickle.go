package graphite

import (
	"bytes"
	"encoding/binary"
	"math"
)

// The pickle receiver expects each message to be a framed pickle of
// [(path, (timestamp, value)), ...].  Only the handful of protocol 2 opcodes needed for that
// shape are emitted here.
const (
	pickleProto          = 2
	opProto         byte = 0x80
	opEmptyList     byte = ']'
	opMark          byte = '('
	opAppends       byte = 'e'
	opStop          byte = '.'
	opShortBinstring byte = 'U'
	opBinstring     byte = 'T'
	opBinint        byte = 'J'
	opBinfloat      byte = 'G'
	opTuple2        byte = 0x86
)

// pickleWriter accumulates a single pickled datapoint list.
type pickleWriter struct {
	buf *bytes.Buffer
}

func newPickleWriter(buf *bytes.Buffer) *pickleWriter {
	pw := &pickleWriter{buf: buf}
	buf.WriteByte(opProto)
	buf.WriteByte(pickleProto)
	buf.WriteByte(opEmptyList)
	buf.WriteByte(opMark)
	return pw
}

func (pw *pickleWriter) writeString(s string) {
	if len(s) < 256 {
		pw.buf.WriteByte(opShortBinstring)
		pw.buf.WriteByte(byte(len(s)))
	} else {
		pw.buf.WriteByte(opBinstring)
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(s)))
		pw.buf.Write(size[:])
	}
	pw.buf.WriteString(s)
}

func (pw *pickleWriter) writeInt(v int64) {
	pw.buf.WriteByte(opBinint)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
	pw.buf.Write(b[:])
}

func (pw *pickleWriter) writeFloat(v float64) {
	pw.buf.WriteByte(opBinfloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	pw.buf.Write(b[:])
}

// writeDatapoint appends one (path, (timestamp, value)) entry to the list.
func (pw *pickleWriter) writeDatapoint(path string, timestamp int64, value float64) {
	pw.writeString(path)
	pw.writeInt(timestamp)
	pw.writeFloat(value)
	pw.buf.WriteByte(opTuple2)
	pw.buf.WriteByte(opTuple2)
}

// close terminates the pickle.
func (pw *pickleWriter) close() {
	pw.buf.WriteByte(opAppends)
	pw.buf.WriteByte(opStop)
}
