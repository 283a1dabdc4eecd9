package streambus

import (
	"net"
	"sync"

	"github.com/rmacdonaldsmith/refspace-go/internal/wire"
)

// RemoteStream is the receiver's end of a stream argument. Byte-mode
// streams are read and written with Read and Write, record-mode streams
// with ReadRecord and WriteRecord. Data channels are bound on first use.
type RemoteStream struct {
	bus  *Bus
	id   string
	spec StreamSpec

	readOnce sync.Once
	readCh   net.Conn
	readErr  error
	records  *wire.RecordReader

	writeOnce sync.Once
	writeCh   net.Conn
	writeErr  error
	recordW   *wire.RecordWriter

	closeOnce sync.Once
}

func newRemoteStream(bus *Bus, id string, spec StreamSpec) *RemoteStream {
	return &RemoteStream{bus: bus, id: id, spec: spec}
}

// ID returns the stream's channel id
func (s *RemoteStream) ID() string {
	return s.id
}

// Spec returns the direction and mode declared by the sender
func (s *RemoteStream) Spec() StreamSpec {
	return s.spec
}

func (s *RemoteStream) reader() (net.Conn, error) {
	if !s.spec.Readable() {
		return nil, ErrNotReadable
	}
	s.readOnce.Do(func() {
		s.readCh, s.readErr = s.bus.channel(channelName(s.id, DirReadable))
		if s.readErr == nil && s.spec.RecordMode {
			s.records = wire.NewRecordReader(s.readCh, s.bus.limits)
		}
	})
	return s.readCh, s.readErr
}

func (s *RemoteStream) writer() (net.Conn, error) {
	if !s.spec.Writable() {
		return nil, ErrNotWritable
	}
	s.writeOnce.Do(func() {
		s.writeCh, s.writeErr = s.bus.channel(channelName(s.id, DirWritable))
		if s.writeErr == nil && s.spec.RecordMode {
			s.recordW = wire.NewRecordWriter(s.writeCh, s.bus.limits)
		}
	})
	return s.writeCh, s.writeErr
}

// Read reads bytes sent by the other side
func (s *RemoteStream) Read(p []byte) (int, error) {
	ch, err := s.reader()
	if err != nil {
		return 0, err
	}
	return ch.Read(p)
}

// Write sends bytes to the other side's stream
func (s *RemoteStream) Write(p []byte) (int, error) {
	ch, err := s.writer()
	if err != nil {
		return 0, err
	}
	return ch.Write(p)
}

// ReadRecord returns the next record, or io.EOF once the sender is done.
func (s *RemoteStream) ReadRecord() (any, error) {
	if !s.spec.RecordMode {
		return nil, ErrNotRecordMode
	}
	if _, err := s.reader(); err != nil {
		return nil, err
	}
	return s.records.ReadRecord()
}

// WriteRecord sends one record to the other side's stream.
func (s *RemoteStream) WriteRecord(v any) error {
	if !s.spec.RecordMode {
		return ErrNotRecordMode
	}
	if _, err := s.writer(); err != nil {
		return err
	}
	return s.recordW.WriteRecord(v)
}

// Close ends the writable direction, so the sender's stream sees the end
// of input, and releases the readable channel if it was used.
func (s *RemoteStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.spec.Writable() {
			var ch net.Conn
			if ch, err = s.writer(); err == nil {
				err = ch.Close()
			}
		}
		if s.readCh != nil {
			s.readCh.Close()
		}
	})
	return err
}

// forward declares the stream for passing on to another peer.
func (s *RemoteStream) forward() *Stream {
	out := &Stream{shared: s.spec.StreamType == DirDuplex}
	if s.spec.RecordMode {
		if s.spec.Readable() {
			out.rr = s
		}
		if s.spec.Writable() {
			out.rw = s
		}
		return out
	}
	if s.spec.Readable() {
		out.r = s
	}
	if s.spec.Writable() {
		out.w = s
	}
	return out
}
