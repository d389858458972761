package lexer

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/internal/pool"
)

// Lexer decodes a single statsd wire record of the form
// name:value|type[|@rate][|#tag1,tag2] into a Metric.
// A Lexer may be reused between records but is not safe for concurrent use.
type Lexer struct {
	// any field added must be considered in Lexer.reset
	input      []byte
	len        uint32
	start      uint32
	pos        uint32
	m          *cardiffd.Metric
	tags       cardiffd.Tags
	namespace  string
	err        error
	sampling   float64
	MetricPool *pool.MetricPool
}

// assumes we don't have \x00 bytes in input.
const eof byte = 0

var (
	ErrMissingKeySep   = errors.New("missing key separator")
	ErrEmptyKey        = errors.New("key zero len")
	ErrMissingValueSep = errors.New("missing value separator")
	ErrInvalidType     = errors.New("invalid type")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrInvalidRate     = errors.New("sample rate out of range")
	ErrNaN             = errors.New("invalid value NaN")
)

func (l *Lexer) next() byte {
	if l.pos >= l.len {
		return eof
	}
	b := l.input[l.pos]
	l.pos++
	return b
}

func (l *Lexer) reset() {
	l.start = 0
	l.pos = 0
	l.m = nil
	l.tags = nil
	l.err = nil
}

// Run decodes one record. The input buffer may be modified in place while
// normalizing the metric name. Decoding is side-effect-free otherwise; a
// malformed record returns a typed error and never panics.
func (l *Lexer) Run(input []byte, namespace string) (*cardiffd.Metric, error) {
	l.reset()
	l.input = input
	l.namespace = namespace
	l.len = uint32(len(l.input))
	l.sampling = float64(1)

	for state := lexStart; state != nil; {
		state = state(l)
	}
	if l.err != nil {
		return nil, l.err
	}
	l.m.Rate = l.sampling
	if l.m.Type != cardiffd.SET {
		v, err := strconv.ParseFloat(l.m.StringValue, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			return nil, ErrNaN
		}
		l.m.Value = v
		if l.m.Type == cardiffd.GAUGE && (l.m.StringValue[0] == '+' || l.m.StringValue[0] == '-') {
			l.m.IsDelta = true
		}
		l.m.StringValue = ""
	}
	l.m.Tags = l.tags
	return l.m, nil
}

type stateFn func(*Lexer) stateFn

func lexStart(l *Lexer) stateFn {
	if l.next() == eof {
		l.err = ErrMissingKeySep
		return nil
	}
	l.pos--
	l.m = l.MetricPool.Get()
	// Pull the tags from the metric, because it may have an empty buffer we can reuse.
	l.tags = l.m.Tags
	return lexKeySep
}

// lex until we find the colon separator between key and value, normalizing
// the key as we go: slashes become dashes, whitespace becomes underscores,
// anything outside [a-zA-Z0-9_.-] is deleted.
func lexKeySep(l *Lexer) stateFn {
	for {
		switch b := l.next(); b {
		case '/':
			l.input[l.pos-1] = '-'
		case ' ', '\t':
			l.input[l.pos-1] = '_'
		case ':':
			return lexKey
		case eof:
			l.err = ErrMissingKeySep
			return nil
		case '.', '-', '_':
			continue
		default:
			r := rune(b)
			if (97 <= r && 122 >= r) || (65 <= r && 90 >= r) || (48 <= r && 57 >= r) {
				continue
			}
			l.input = append(l.input[0:l.pos-1], l.input[l.pos:]...)
			l.len--
			l.pos--
		}
	}
}

// lex the key.
func lexKey(l *Lexer) stateFn {
	if l.start == l.pos-1 {
		l.err = ErrEmptyKey
		return nil
	}
	l.m.Name = string(l.input[l.start : l.pos-1])
	if l.namespace != "" {
		l.m.Name = l.namespace + "." + l.m.Name
	}
	l.start = l.pos
	return lexValueSep
}

// lex until we find the pipe separator between value and type.
func lexValueSep(l *Lexer) stateFn {
	for {
		// cheap check here. ParseFloat will do the real validation.
		switch l.next() {
		case '|':
			return lexValue
		case eof:
			l.err = ErrMissingValueSep
			return nil
		}
	}
}

// lex the value.
func lexValue(l *Lexer) stateFn {
	l.m.StringValue = string(l.input[l.start : l.pos-1])
	l.start = l.pos
	return lexType
}

// lex the type. The set of types is closed; anything else is an error.
func lexType(l *Lexer) stateFn {
	switch b := l.next(); b {
	case 'c':
		l.m.Type = cardiffd.COUNTER
		l.start = l.pos
		return lexMetricFields
	case 'g':
		l.m.Type = cardiffd.GAUGE
		l.start = l.pos
		return lexMetricFields
	case 'm':
		if b := l.next(); b != 's' {
			l.err = ErrInvalidType
			return nil
		}
		l.start = l.pos
		l.m.Type = cardiffd.TIMER
		return lexMetricFields
	case 's':
		l.m.Type = cardiffd.SET
		l.start = l.pos
		return lexMetricFields
	default:
		l.err = ErrInvalidType
		return nil
	}
}

// lex the possible separator between type and the optional fields.
func lexMetricFields(l *Lexer) stateFn {
	switch l.next() {
	case '|':
		l.start = l.pos
		return lexMetricField
	case eof:
	default:
		l.err = ErrInvalidType
	}
	return nil
}

// lex optional fields: sample rate and/or tags. Unrecognised fields are ignored.
func lexMetricField(l *Lexer) stateFn {
	switch l.next() {
	case '@':
		return lexSampleRate
	case '#':
		return lexTags
	default:
		return lexUnknown
	}
}

// lexSampleRate expects a float in (0,1] which is stored in lexer.sampling.
// Consumes all bytes up to the field separator or eof.
func lexSampleRate(l *Lexer) stateFn {
	l.start = l.pos
	for {
		switch l.next() {
		case '|':
			return lexSampleRateValue(l, false)
		case eof:
			return lexSampleRateValue(l, true)
		}
	}
}

func lexSampleRateValue(l *Lexer, atEOF bool) stateFn {
	end := l.pos
	if !atEOF {
		end--
	}
	v, err := strconv.ParseFloat(string(l.input[l.start:end]), 64)
	if err != nil {
		l.err = err
		return nil
	}
	if v <= 0 || v > 1 {
		l.err = ErrInvalidRate
		return nil
	}
	l.sampling = v
	if atEOF {
		return nil
	}
	return lexMetricField
}

// lexTags expects a comma separated list of tags. Tags have no defined format.
func lexTags(l *Lexer) stateFn {
	l.start = l.pos
	for {
		switch l.next() {
		case ',':
			l.appendTag(l.start, l.pos-1)
			l.start = l.pos
		case '|':
			l.appendTag(l.start, l.pos-1)
			l.start = l.pos
			return lexMetricField
		case eof:
			l.appendTag(l.start, l.pos)
			return nil
		}
	}
}

// lexUnknown skips over a field it does not recognise.
func lexUnknown(l *Lexer) stateFn {
	p := bytes.IndexByte(l.input[l.pos:], '|')
	if p == -1 {
		l.pos = l.len
		return nil
	}
	l.pos += uint32(p) + 1
	l.start = l.pos
	return lexMetricField
}

func (l *Lexer) appendTag(start, end uint32) {
	data := l.input[start:end]
	if len(data) > 0 {
		l.tags = append(l.tags, string(data))
	}
}
