package streambus

import (
	"errors"
	"fmt"
	"io"

	"github.com/rmacdonaldsmith/refspace-go/internal/wire"
)

// Direction bits of a stream argument, as seen from the sending side.
const (
	// DirReadable: the sender's stream is read and its data flows to the receiver
	DirReadable = 1
	// DirWritable: the receiver's writes flow into the sender's stream
	DirWritable = 2
	// DirDuplex is both directions
	DirDuplex = DirReadable | DirWritable
)

// RecordReader produces structured records. It returns io.EOF at the end.
type RecordReader interface {
	ReadRecord() (any, error)
}

// RecordWriter consumes structured records.
type RecordWriter interface {
	WriteRecord(v any) error
}

// StreamSpec is the wire value of a stream argument.
type StreamSpec struct {
	StreamType int  `msgpack:"streamType"`
	RecordMode bool `msgpack:"recordMode"`
}

func (s StreamSpec) Readable() bool { return s.StreamType&DirReadable != 0 }
func (s StreamSpec) Writable() bool { return s.StreamType&DirWritable != 0 }

// parseSpec reads a StreamSpec decoded into a generic map.
func parseSpec(v any) (StreamSpec, error) {
	switch s := v.(type) {
	case StreamSpec:
		return s, nil
	case map[string]any:
		t, ok := wire.Int(s["streamType"])
		if !ok || t < DirReadable || t > DirDuplex {
			return StreamSpec{}, fmt.Errorf("invalid stream type %v", s["streamType"])
		}
		record, _ := s["recordMode"].(bool)
		return StreamSpec{StreamType: int(t), RecordMode: record}, nil
	}
	return StreamSpec{}, fmt.Errorf("invalid stream spec %T", v)
}

// Stream declares how a local stream is tunneled when passed as a call
// argument. Build one with Readable, Writable, Duplex, RecordReadable or
// RecordWritable.
type Stream struct {
	r  io.Reader
	w  io.Writer
	rr RecordReader
	rw RecordWriter

	// shared is set when both directions use one value, which then is not
	// closed when the writable direction ends
	shared bool
}

// Readable tunnels r to the receiver, which reads it as bytes.
func Readable(r io.Reader) *Stream {
	return &Stream{r: r}
}

// Writable lets the receiver write bytes into w. w is closed at the end
// when it implements io.Closer.
func Writable(w io.Writer) *Stream {
	return &Stream{w: w}
}

// Duplex tunnels both directions of rw.
func Duplex(rw io.ReadWriter) *Stream {
	return &Stream{r: rw, w: rw, shared: true}
}

// RecordReadable tunnels the records of r.
func RecordReadable(r RecordReader) *Stream {
	return &Stream{rr: r}
}

// RecordWritable lets the receiver write records into w.
func RecordWritable(w RecordWriter) *Stream {
	return &Stream{rw: w}
}

// Spec returns the stream's direction and mode.
func (s *Stream) Spec() StreamSpec {
	var spec StreamSpec
	if s.r != nil || s.rr != nil {
		spec.StreamType |= DirReadable
	}
	if s.w != nil || s.rw != nil {
		spec.StreamType |= DirWritable
	}
	spec.RecordMode = s.rr != nil || s.rw != nil
	return spec
}

// classify reports whether v is tunneled as a stream. Explicit wrappers
// are used as is; bare values are classified by the interfaces they
// implement, record interfaces first.
func classify(v any) (*Stream, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case *Stream:
		return s, s != nil && s.Spec().StreamType != 0
	case *RemoteStream:
		return s.forward(), true
	}

	rr, isRR := v.(RecordReader)
	rw, isRW := v.(RecordWriter)
	if isRR || isRW {
		s := &Stream{}
		if isRR {
			s.rr = rr
		}
		if isRW {
			s.rw = rw
		}
		s.shared = isRR && isRW
		return s, true
	}

	r, isR := v.(io.Reader)
	w, isW := v.(io.Writer)
	if isR || isW {
		s := &Stream{}
		if isR {
			s.r = r
		}
		if isW {
			s.w = w
		}
		s.shared = isR && isW
		return s, true
	}
	return nil, false
}

// pumpOut copies the local readable side into a sub-channel and closes it.
func (s *Stream) pumpOut(ch io.WriteCloser, limits wire.Limits) error {
	defer ch.Close()
	if s.rr != nil {
		w := wire.NewRecordWriter(ch, limits)
		for {
			v, err := s.rr.ReadRecord()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := w.WriteRecord(v); err != nil {
				return err
			}
		}
	}
	_, err := io.Copy(ch, s.r)
	return err
}

// pumpIn copies a sub-channel into the local writable side, then closes
// the local side when it is closable.
func (s *Stream) pumpIn(ch io.ReadCloser, limits wire.Limits) error {
	defer ch.Close()
	var err error
	if s.rw != nil {
		r := wire.NewRecordReader(ch, limits)
		for {
			var v any
			v, err = r.ReadRecord()
			if errors.Is(err, io.EOF) {
				err = nil
				break
			}
			if err != nil {
				break
			}
			if err = s.rw.WriteRecord(v); err != nil {
				break
			}
		}
		if c, ok := s.rw.(io.Closer); ok && !s.shared {
			c.Close()
		}
		return err
	}

	_, err = io.Copy(s.w, ch)
	if c, ok := s.w.(io.Closer); ok && !s.shared {
		c.Close()
	}
	return err
}
