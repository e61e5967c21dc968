// Package batch implements the size-bounded packed record stream described
// in spec §4.8: BatchWriter packs records whose fields are scalars (by
// value) or 1-D slices of scalars (length-prefixed), refusing to add a
// record that would push the buffer past max_size; BatchReader inverts the
// operation, slicing records back out of a buffer without copying their
// byte-slice fields.
package batch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/pierrec/lz4/v4"

	"github.com/clusterkit/swarmrpc/internal/packer"
)

// ErrRecordTooLarge is returned by Add when record, even alone, would
// exceed the writer's max size.
var ErrRecordTooLarge = fmt.Errorf("batch: record exceeds max_size")

// ErrDecompressTooLarge is returned when a compressed blob's declared
// uncompressed length exceeds the destination buffer's length.
var ErrDecompressTooLarge = fmt.Errorf("batch: declared uncompressed length exceeds destination buffer")

// lenPrefixWidth is the width of the length prefix written before every
// 1-D slice field's elements.
const lenPrefixWidth = 4

// Writer packs records of type T into a bounded buffer, invoking OnFull
// once the buffer reaches MaxSize immediately after a successful Add.
type Writer[T any] struct {
	buf     []byte
	maxSize int

	// OnFull, if set, is called with the completed buffer (owned by the
	// caller — Writer does not retain it) immediately after the buffer
	// reaches MaxSize. The internal buffer is cleared right after.
	OnFull func([]byte)

	typ reflect.Type
}

// NewWriter creates a Writer with the given max buffer size in bytes.
func NewWriter[T any](maxSize int) (*Writer[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	if err := packer.CheckPackable(t); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return &Writer[T]{maxSize: maxSize, typ: t}, nil
}

// Add encodes record and appends it to the buffer. It refuses the add
// (returning ErrRecordTooLarge) if the encoded record's size alone exceeds
// MaxSize, or if appending would push the buffer past MaxSize. If the
// buffer reaches exactly MaxSize after a successful add, OnFull fires and
// the buffer is cleared.
func (w *Writer[T]) Add(record T) error {
	encoded := encodeRecord(reflect.ValueOf(record))

	if len(encoded) > w.maxSize {
		return ErrRecordTooLarge
	}
	if len(w.buf)+len(encoded) > w.maxSize {
		return ErrRecordTooLarge
	}

	w.buf = append(w.buf, encoded...)

	if len(w.buf) == w.maxSize {
		if w.OnFull != nil {
			w.OnFull(w.buf)
		}
		w.buf = nil
	}

	return nil
}

// Len returns the number of bytes currently buffered.
func (w *Writer[T]) Len() int { return len(w.buf) }

// Bytes returns the current uncompressed buffer.
func (w *Writer[T]) Bytes() []byte { return w.buf }

// Reset clears the buffer without invoking OnFull.
func (w *Writer[T]) Reset() { w.buf = nil }

// GetCompressed writes the LZ4-compressed buffer to dst, prefixed by the
// uncompressed length as a little-endian uint64.
func (w *Writer[T]) GetCompressed(dst *bytes.Buffer) error {
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(w.buf)))
	dst.Write(lenBytes[:])

	zw := lz4.NewWriter(dst)
	if _, err := zw.Write(w.buf); err != nil {
		return err
	}
	return zw.Close()
}

// Reader decodes records of type T out of a buffer produced by Writer.
type Reader[T any] struct {
	typ reflect.Type
}

// NewReader creates a Reader for record type T.
func NewReader[T any]() (*Reader[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	if err := packer.CheckPackable(t); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return &Reader[T]{typ: t}, nil
}

// Records decodes every record out of buf in order. []byte fields in the
// results alias buf directly (zero-copy via Go's normal slice re-slicing);
// slices of any wider scalar type are decoded into newly allocated slices.
func (r *Reader[T]) Records(buf []byte) ([]T, error) {
	var out []T
	cursor := 0
	for cursor < len(buf) {
		rv := reflect.New(r.typ).Elem()
		n, err := decodeRecord(buf, cursor, rv)
		if err != nil {
			return nil, err
		}
		cursor += n
		out = append(out, rv.Interface().(T))
	}
	return out, nil
}

// ReadCompressed reads a length-prefixed LZ4-compressed blob from src,
// decompressing into the caller-owned dst buffer (whose length bounds
// the accepted uncompressed size) and then decoding records out of it.
// The declared uncompressed length exceeding len(dst) is a protocol error.
func (r *Reader[T]) ReadCompressed(src []byte, dst []byte) ([]T, error) {
	if len(src) < 8 {
		return nil, fmt.Errorf("batch: truncated compressed blob")
	}
	uncompressedLen := binary.LittleEndian.Uint64(src[:8])
	if uncompressedLen > uint64(len(dst)) {
		return nil, ErrDecompressTooLarge
	}

	zr := lz4.NewReader(bytes.NewReader(src[8:]))
	n := 0
	for n < int(uncompressedLen) {
		m, err := zr.Read(dst[n:uncompressedLen])
		if m > 0 {
			n += m
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n == int(uncompressedLen) {
				break
			}
			return nil, err
		}
	}

	return r.Records(dst[:uncompressedLen])
}

func encodeRecord(v reflect.Value) []byte {
	var buf []byte
	encodeValue(&buf, v)
	return buf
}

func encodeValue(buf *[]byte, v reflect.Value) {
	switch v.Kind() {
	case reflect.Slice:
		n := v.Len()
		var lenBytes [lenPrefixWidth]byte
		binary.LittleEndian.PutUint32(lenBytes[:], uint32(n))
		*buf = append(*buf, lenBytes[:]...)
		for i := 0; i < n; i++ {
			encodeValue(buf, v.Index(i))
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			encodeValue(buf, v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			encodeValue(buf, v.Field(i))
		}
	default:
		*buf = append(*buf, encodeScalar(v)...)
	}
}

func encodeScalar(v reflect.Value) []byte {
	size := int(v.Type().Size())
	dst := make([]byte, size)
	packer.EncodeScalar(dst, v)
	return dst
}

// decodeRecord decodes one record of rv's type starting at buf[offset:],
// returning the number of bytes consumed.
func decodeRecord(buf []byte, offset int, rv reflect.Value) (int, error) {
	return decodeValue(buf, offset, rv)
}

func decodeValue(buf []byte, offset int, v reflect.Value) (int, error) {
	switch v.Kind() {
	case reflect.Slice:
		if offset+lenPrefixWidth > len(buf) {
			return 0, fmt.Errorf("batch: truncated slice length prefix")
		}
		n := int(binary.LittleEndian.Uint32(buf[offset:]))
		cur := offset + lenPrefixWidth

		elemType := v.Type().Elem()
		if elemType.Kind() == reflect.Uint8 {
			// Zero-copy: alias the backing buffer directly.
			if cur+n > len(buf) {
				return 0, fmt.Errorf("batch: truncated slice data")
			}
			v.SetBytes(buf[cur : cur+n])
			cur += n
			return cur - offset, nil
		}

		sl := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			consumed, err := decodeValue(buf, cur, sl.Index(i))
			if err != nil {
				return 0, err
			}
			cur += consumed
		}
		v.Set(sl)
		return cur - offset, nil

	case reflect.Array:
		cur := offset
		for i := 0; i < v.Len(); i++ {
			consumed, err := decodeValue(buf, cur, v.Index(i))
			if err != nil {
				return 0, err
			}
			cur += consumed
		}
		return cur - offset, nil

	case reflect.Struct:
		cur := offset
		for i := 0; i < v.NumField(); i++ {
			consumed, err := decodeValue(buf, cur, v.Field(i))
			if err != nil {
				return 0, err
			}
			cur += consumed
		}
		return cur - offset, nil

	default:
		size := int(v.Type().Size())
		if offset+size > len(buf) {
			return 0, fmt.Errorf("batch: truncated scalar field")
		}
		packer.DecodeScalar(buf[offset:offset+size], v)
		return size, nil
	}
}
