package mnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

// writer accumulates a section payload using the big-endian primitive
// encoding in §6: i8/i16/i32/i64/f32/bool, length-prefixed string, raw
// bytes (the caller writes any length), and i32-counted list/map.
type writer struct {
	buf []byte
}

func (w *writer) i8(v int8)   { w.buf = append(w.buf, byte(v)) }
func (w *writer) bool(v bool) { if v { w.i8(1) } else { w.i8(0) } }

func (w *writer) i16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) f32(v float32) {
	w.i32(int32(math.Float32bits(v)))
}

func (w *writer) str(s string) {
	w.i32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) uuid(u [16]byte) {
	w.buf = append(w.buf, u[:]...)
}

// reader consumes a section payload produced by writer, returning
// ErrSectionCorrupt on any out-of-bounds read.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ragerrors.ErrSectionCorrupt, n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) i8() (int8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int8(r.buf[r.pos])
	r.pos++
	return v, nil
}

func (r *reader) boolV() (bool, error) {
	v, err := r.i8()
	return v != 0, err
}

func (r *reader) i16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *reader) i32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) i64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) f32() (float32, error) {
	v, err := r.i32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (r *reader) str() (string, error) {
	n, err := r.i32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length", ragerrors.ErrSectionCorrupt)
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) bytesN(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func (r *reader) uuid() ([16]byte, error) {
	var out [16]byte
	b, err := r.bytesN(16)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (r *reader) done() bool { return r.pos >= len(r.buf) }
