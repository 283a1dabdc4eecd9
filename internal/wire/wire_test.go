package wire

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	in := Frame{Type: 2, Payload: []byte("payload")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen+len(in.Payload) {
		t.Fatalf("unexpected encoded length %d", buf.Len())
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Type != in.Type || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("frame mismatch: got=%+v want=%+v", out, in)
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: 1}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Type != 1 || len(out.Payload) != 0 {
		t.Fatalf("unexpected frame %+v", out)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), DefaultLimits())
	if !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestFrameLimits(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: 1, Payload: []byte("too long")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}

	if err := WriteFrame(&buf, Frame{Type: 1, Payload: []byte("too long")}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}

func TestRecordStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf, DefaultLimits())
	records := []any{"a", map[string]any{"n": 1}, []any{"x", true}}
	for _, r := range records {
		if err := w.WriteRecord(r); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}

	r := NewRecordReader(&buf, DefaultLimits())
	first, err := r.ReadRecord()
	if err != nil || first != "a" {
		t.Fatalf("first record: %v %v", first, err)
	}
	second, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	m, ok := second.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", second)
	}
	if n, ok := Int(m["n"]); !ok || n != 1 {
		t.Fatalf("expected n=1, got %v", m["n"])
	}
	third, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("third record: %v", err)
	}
	if list, ok := third.([]any); !ok || len(list) != 2 || list[1] != true {
		t.Fatalf("unexpected third record %#v", third)
	}
	if _, err := r.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestInt(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int8(-3), -3, true},
		{uint16(7), 7, true},
		{int64(1 << 40), 1 << 40, true},
		{float64(2), 2, true},
		{float64(2.5), 2, false},
		{"3", 0, false},
	}
	for _, c := range cases {
		got, ok := Int(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("Int(%#v) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestNormalizeIntegers(t *testing.T) {
	in := map[string]any{
		"small":    41,
		"byte":     200,
		"negative": -5,
		"wide":     int64(1 << 40),
		"huge":     uint64(math.MaxUint64),
		"nested":   []any{7, map[string]any{"n": 300}},
		"float":    2.5,
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, ok := Normalize(v).(map[string]any)
	if !ok {
		t.Fatalf("expected a map, got %T", v)
	}

	want := map[string]any{
		"small":    int64(41),
		"byte":     int64(200),
		"negative": int64(-5),
		"wide":     int64(1 << 40),
		"huge":     uint64(math.MaxUint64),
		"float":    2.5,
	}
	for k, w := range want {
		if out[k] != w {
			t.Errorf("%s = %#v (%T); want %#v (%T)", k, out[k], out[k], w, w)
		}
	}

	nested, ok := out["nested"].([]any)
	if !ok || len(nested) != 2 || nested[0] != int64(7) {
		t.Fatalf("unexpected nested list %#v", out["nested"])
	}
	if inner, ok := nested[1].(map[string]any); !ok || inner["n"] != int64(300) {
		t.Fatalf("unexpected nested map %#v", nested[1])
	}
}
