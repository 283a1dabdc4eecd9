package wire

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// Marshal encodes v as msgpack
func Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes msgpack into v. Dynamically typed numbers keep their
// encoded width; pass them through Normalize.
func Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Normalize gives decoded numbers one type per class. msgpack writes
// integers in their smallest form, unsigned when non-negative, so 41 and 200
// would otherwise decode as int8 and uint8. Every integer becomes int64,
// except unsigned values above math.MaxInt64 which become uint64; float32
// becomes float64. Slices and maps are normalized in place.
func Normalize(v any) any {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n)
		}
		return uint64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
	case float32:
		return float64(n)
	case []any:
		for i := range n {
			n[i] = Normalize(n[i])
		}
	case map[string]any:
		for k, e := range n {
			n[k] = Normalize(e)
		}
	case map[any]any:
		for k, e := range n {
			n[k] = Normalize(e)
		}
	}
	return v
}

// NormalizeCall normalizes every dynamically typed value of a decoded
// message: argument values and the values of carried descriptors.
func NormalizeCall(msg *refspace.CallMessage) {
	for i := range msg.Args {
		a := &msg.Args[i]
		a.Value = Normalize(a.Value)
		if a.Ref != nil {
			a.Ref.Value = Normalize(a.Ref.Value)
			for k, e := range a.Ref.Values {
				a.Ref.Values[k] = Normalize(e)
			}
		}
	}
}

// EncodeFrame marshals v into a frame of the given type
func EncodeFrame(typ uint8, v any) (Frame, error) {
	payload, err := Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: encode frame type %d: %w", typ, err)
	}
	return Frame{Type: typ, Payload: payload}, nil
}

// DecodeFrame unmarshals a frame payload into v
func DecodeFrame(f Frame, v any) error {
	if err := Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("wire: decode frame type %d: %w", f.Type, err)
	}
	return nil
}

// Int normalizes a decoded number to int64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), n == float32(int64(n))
	case float64:
		return int64(n), n == float64(int64(n))
	}
	return 0, false
}

// recordType tags record frames on a record stream.
const recordType uint8 = 'r'

// RecordWriter writes length-delimited msgpack records.
// It is safe for concurrent use.
type RecordWriter struct {
	mu     sync.Mutex
	w      io.Writer
	limits Limits
}

func NewRecordWriter(w io.Writer, limits Limits) *RecordWriter {
	return &RecordWriter{w: w, limits: limits}
}

// WriteRecord encodes and writes one record
func (rw *RecordWriter) WriteRecord(v any) error {
	f, err := EncodeFrame(recordType, v)
	if err != nil {
		return err
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return WriteFrame(rw.w, f, rw.limits)
}

// RecordReader reads records written by a RecordWriter.
type RecordReader struct {
	r      io.Reader
	limits Limits
}

func NewRecordReader(r io.Reader, limits Limits) *RecordReader {
	return &RecordReader{r: r, limits: limits}
}

// ReadRecord returns the next record, or io.EOF at the end of the stream
func (rr *RecordReader) ReadRecord() (any, error) {
	f, err := ReadFrame(rr.r, rr.limits)
	if err != nil {
		return nil, err
	}
	if f.Type != recordType {
		return nil, fmt.Errorf("wire: unexpected frame type %d on record stream", f.Type)
	}
	var v any
	if err := DecodeFrame(f, &v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}
