// Package packer implements the struct packer described in spec §4.9: it
// writes a value-type record plus all of its 1-D slice tails into a single
// contiguous buffer, and the unpacked view's slice fields alias that buffer
// directly rather than being copied out of it. It exists so a request can
// stash an opaque, undeclared context in a reusable buffer held by an
// abstract aggregate that never sees the concrete type.
//
// The packed buffer is process-local only: copying its bytes elsewhere and
// reinterpreting them does not reconstruct valid slices, because the
// unpacked view's slice headers point into the original buffer's memory.
package packer

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"unsafe"
)

// Packed holds the contiguous buffer produced by Pack.
type Packed struct {
	buf []byte
	typ reflect.Type
}

// Bytes returns the packed buffer. It is owned by Packed; do not retain a
// reference across a call that recycles or reuses the backing storage.
func (p *Packed) Bytes() []byte { return p.buf }

// offsetLenWidth is the width, in the head, of the (offset, length) pair
// recorded for every 1-D slice field.
const offsetLenWidth = 8

// CheckPackable reports whether t is a packable type: a struct (or a
// pointer-free value of scalar/array/slice/struct kind) built only from
// scalars, fixed arrays of scalars, 1-D slices of scalars, and nested
// packable structs. Go has no union kind, so the "unions of scalars" clause
// of the spec has no analogue here; it is satisfied vacuously.
func CheckPackable(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Array:
		return CheckPackable(t.Elem())
	case reflect.Slice:
		if err := CheckPackable(t.Elem()); err != nil {
			return fmt.Errorf("packer: slice element: %w", err)
		}
		if k := t.Elem().Kind(); k == reflect.Slice || k == reflect.Struct || k == reflect.Array {
			return fmt.Errorf("packer: nested/dynamic slice element %v not packable (1-D only)", t.Elem())
		}
		return nil
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := CheckPackable(t.Field(i).Type); err != nil {
				return fmt.Errorf("packer: field %s: %w", t.Field(i).Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("packer: type %v contains a non-packable kind %v (pointers are forbidden)", t, t.Kind())
	}
}

// Pack serializes v (a struct or pointer to struct) into a single
// contiguous buffer. It returns an error if v's type fails CheckPackable.
func Pack(v interface{}) (*Packed, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	t := rv.Type()

	if err := CheckPackable(t); err != nil {
		return nil, err
	}

	headSize := headSizeOf(t)
	tailSize := tailSizeOf(rv)

	buf := make([]byte, headSize+tailSize)
	tailCursor := headSize

	writeValue(buf, 0, &tailCursor, rv)

	return &Packed{buf: buf, typ: t}, nil
}

// Unpack reconstructs a value of type T from p. Every 1-D slice field in
// the result aliases p's buffer directly (zero-copy): it is only valid for
// as long as p's buffer is not mutated or recycled.
func Unpack[T any](p *Packed) (T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t != p.typ {
		return zero, fmt.Errorf("packer: type mismatch: packed %v, requested %v", p.typ, t)
	}

	out := reflect.New(t).Elem()
	readValue(p.buf, 0, out)

	return out.Interface().(T), nil
}

func headSizeOf(t reflect.Type) int {
	switch t.Kind() {
	case reflect.Slice:
		return offsetLenWidth
	case reflect.Array:
		return t.Len() * headSizeOf(t.Elem())
	case reflect.Struct:
		size := 0
		for i := 0; i < t.NumField(); i++ {
			size += headSizeOf(t.Field(i).Type)
		}
		return size
	default:
		return int(t.Size())
	}
}

func tailSizeOf(v reflect.Value) int {
	switch v.Kind() {
	case reflect.Slice:
		return v.Len() * int(v.Type().Elem().Size())
	case reflect.Array:
		size := 0
		for i := 0; i < v.Len(); i++ {
			size += tailSizeOf(v.Index(i))
		}
		return size
	case reflect.Struct:
		size := 0
		for i := 0; i < v.NumField(); i++ {
			size += tailSizeOf(v.Field(i))
		}
		return size
	default:
		return 0
	}
}

// writeValue writes v's head representation at buf[offset:], appending any
// slice tail data at *tailCursor (advancing it), and returns the number of
// head bytes written.
func writeValue(buf []byte, offset int, tailCursor *int, v reflect.Value) int {
	switch v.Kind() {
	case reflect.Slice:
		n := v.Len()
		elemSize := int(v.Type().Elem().Size())
		tailStart := *tailCursor
		for i := 0; i < n; i++ {
			writeScalar(buf, tailStart+i*elemSize, v.Index(i))
		}
		*tailCursor += n * elemSize

		binary.LittleEndian.PutUint32(buf[offset:], uint32(tailStart))
		binary.LittleEndian.PutUint32(buf[offset+4:], uint32(n))
		return offsetLenWidth

	case reflect.Array:
		elemHead := headSizeOf(v.Type().Elem())
		for i := 0; i < v.Len(); i++ {
			writeValue(buf, offset+i*elemHead, tailCursor, v.Index(i))
		}
		return v.Len() * elemHead

	case reflect.Struct:
		cur := offset
		for i := 0; i < v.NumField(); i++ {
			cur += writeValue(buf, cur, tailCursor, v.Field(i))
		}
		return cur - offset

	default:
		writeScalar(buf, offset, v)
		return int(v.Type().Size())
	}
}

func writeScalar(buf []byte, offset int, v reflect.Value) {
	size := int(v.Type().Size())
	dst := buf[offset : offset+size]
	writeFixedWidth(dst, v)
}

// EncodeScalar writes v's scalar representation into dst, which must be
// exactly v.Type().Size() bytes. Exported so other packages that share this
// wire encoding (e.g. the batch package) need not duplicate it.
func EncodeScalar(dst []byte, v reflect.Value) { writeFixedWidth(dst, v) }

// DecodeScalar is the inverse of EncodeScalar.
func DecodeScalar(src []byte, v reflect.Value) { readScalarInto(src, v) }

func writeFixedWidth(dst []byte, v reflect.Value) {
	switch v.Kind() {
	case reflect.Int8:
		dst[0] = byte(int8(v.Int()))
	case reflect.Uint8:
		dst[0] = byte(v.Uint())
	case reflect.Int16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v.Int())))
	case reflect.Uint16:
		binary.LittleEndian.PutUint16(dst, uint16(v.Uint()))
	case reflect.Int32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v.Int())))
	case reflect.Uint32:
		binary.LittleEndian.PutUint32(dst, uint32(v.Uint()))
	case reflect.Int64, reflect.Int:
		binary.LittleEndian.PutUint64(dst, uint64(v.Int()))
	case reflect.Uint64, reflect.Uint:
		binary.LittleEndian.PutUint64(dst, v.Uint())
	case reflect.Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.Float()))
	case reflect.Bool:
		if v.Bool() {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	}
}

// readValue is the mirror of writeValue: it populates v (addressable) from
// buf's head representation, constructing slice fields that alias buf's
// tail region directly.
func readValue(buf []byte, offset int, v reflect.Value) int {
	switch v.Kind() {
	case reflect.Slice:
		off := binary.LittleEndian.Uint32(buf[offset:])
		n := binary.LittleEndian.Uint32(buf[offset+4:])

		if n == 0 {
			v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			return offsetLenWidth
		}

		// Build a slice header of v's exact (possibly named) slice type
		// whose data pointer aliases buf's tail region, so the result is
		// zero-copy: mutating buf mutates the unpacked slice and vice
		// versa, and the slice is only valid while buf is.
		hdr := reflect.SliceHeader{
			Data: uintptr(unsafe.Pointer(&buf[off])),
			Len:  int(n),
			Cap:  int(n),
		}
		aliased := reflect.NewAt(v.Type(), unsafe.Pointer(&hdr)).Elem()
		v.Set(aliased)
		return offsetLenWidth

	case reflect.Array:
		elemHead := headSizeOf(v.Type().Elem())
		for i := 0; i < v.Len(); i++ {
			readValue(buf, offset+i*elemHead, v.Index(i))
		}
		return v.Len() * elemHead

	case reflect.Struct:
		cur := offset
		for i := 0; i < v.NumField(); i++ {
			cur += readValue(buf, cur, v.Field(i))
		}
		return cur - offset

	default:
		readScalar(buf, offset, v)
		return int(v.Type().Size())
	}
}

func readScalar(buf []byte, offset int, v reflect.Value) {
	size := int(v.Type().Size())
	readScalarInto(buf[offset:offset+size], v)
}

func readScalarInto(src []byte, v reflect.Value) {
	switch v.Kind() {
	case reflect.Bool:
		v.SetBool(src[0] != 0)
	case reflect.Int8:
		v.SetInt(int64(int8(src[0])))
	case reflect.Uint8:
		v.SetUint(uint64(src[0]))
	case reflect.Int16:
		v.SetInt(int64(int16(binary.LittleEndian.Uint16(src))))
	case reflect.Uint16:
		v.SetUint(uint64(binary.LittleEndian.Uint16(src)))
	case reflect.Int32:
		v.SetInt(int64(int32(binary.LittleEndian.Uint32(src))))
	case reflect.Uint32:
		v.SetUint(uint64(binary.LittleEndian.Uint32(src)))
	case reflect.Int64, reflect.Int:
		v.SetInt(int64(binary.LittleEndian.Uint64(src)))
	case reflect.Uint64, reflect.Uint:
		v.SetUint(binary.LittleEndian.Uint64(src))
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(src))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(src)))
	}
}
