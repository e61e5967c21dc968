// Package wire implements the length-prefixed, parity-checked frame format
// used on the wire between a client and a node: type:u8 | len:u32 LE |
// parity:u8 | payload[len]. Two message types exist, Authentication and
// Request; request payloads begin with an 8-byte request id, the remainder
// is opaque to this layer.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message types.
const (
	TypeAuth Type = iota
	TypeRequest
)

// Type is the one-byte frame type tag.
type Type uint8

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "auth"
	case TypeRequest:
		return "request"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// headerLen is type(1) + len(4) + parity(1).
const headerLen = 6

// ErrParity is returned when a frame header fails its parity check.
var ErrParity = errors.New("wire: frame header failed parity check")

// ErrFrameTooLarge is returned when a frame's declared length exceeds the
// caller-configured cap.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum payload size")

// Frame is a single decoded wire frame.
type Frame struct {
	Type    Type
	Payload []byte
}

// parity XORs the five header bytes preceding the parity byte: the type
// byte followed by the four little-endian length bytes.
func parity(typ Type, lenBytes [4]byte) byte {
	p := byte(typ)
	p ^= lenBytes[0]
	p ^= lenBytes[1]
	p ^= lenBytes[2]
	p ^= lenBytes[3]
	return p
}

// Reader reads framed messages from an underlying stream.
type Reader struct {
	r       *bufio.Reader
	maxSize uint32
}

// NewReader wraps r, refusing to honour any frame whose declared payload
// length exceeds maxSize (0 means unbounded).
func NewReader(r io.Reader, maxSize uint32) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame reads and validates one frame. A short header or payload read
// surfaces as io.ErrUnexpectedEOF (io.EOF only on a clean boundary before
// any header byte has been read).
func (rd *Reader) ReadFrame() (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(rd.r, hdr[:1]); err != nil {
		// EOF before any header byte is a clean connection close.
		return Frame{}, err
	}
	if _, err := io.ReadFull(rd.r, hdr[1:]); err != nil {
		return Frame{}, unexpectedEOF(err)
	}

	typ := Type(hdr[0])
	var lenBytes [4]byte
	copy(lenBytes[:], hdr[1:5])
	length := binary.LittleEndian.Uint32(lenBytes[:])
	gotParity := hdr[5]

	if want := parity(typ, lenBytes); want != gotParity {
		return Frame{}, ErrParity
	}

	if rd.maxSize != 0 && length > rd.maxSize {
		return Frame{}, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return Frame{}, unexpectedEOF(err)
		}
	}

	return Frame{Type: typ, Payload: payload}, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer writes framed messages to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame frames and writes payload with the given type. Short writes
// after the underlying writer stops making progress surface as an error;
// callers should close the connection on any error from WriteFrame.
func (wr *Writer) WriteFrame(typ Type, payload []byte) error {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(payload)))

	buf := make([]byte, 0, headerLen+len(payload))
	buf = append(buf, byte(typ))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, parity(typ, lenBytes))
	buf = append(buf, payload...)

	n, err := wr.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// WriteFrameVec frames and writes a payload assembled from multiple byte
// slices without requiring the caller to concatenate them first, mirroring
// how a RoC's send producer emits a vector of byte slices.
func (wr *Writer) WriteFrameVec(typ Type, parts [][]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(total))

	buf := make([]byte, 0, headerLen+total)
	buf = append(buf, byte(typ))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, parity(typ, lenBytes))
	for _, p := range parts {
		buf = append(buf, p...)
	}

	n, err := wr.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
