package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	payload := []byte("hello request")
	if err := w.WriteFrame(TypeRequest, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf, 0)
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != TypeRequest {
		t.Fatalf("Type = %v, want TypeRequest", frame.Type)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("Payload = %q, want %q", frame.Payload, payload)
	}
}

func TestWriteFrameVecMatchesConcatenated(t *testing.T) {
	var vecBuf, flatBuf bytes.Buffer

	parts := [][]byte{[]byte("abc"), []byte(""), []byte("defg")}
	if err := NewWriter(&vecBuf).WriteFrameVec(TypeRequest, parts); err != nil {
		t.Fatalf("WriteFrameVec: %v", err)
	}

	var flat []byte
	for _, p := range parts {
		flat = append(flat, p...)
	}
	if err := NewWriter(&flatBuf).WriteFrame(TypeRequest, flat); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if !bytes.Equal(vecBuf.Bytes(), flatBuf.Bytes()) {
		t.Fatalf("WriteFrameVec output diverged from equivalent WriteFrame output")
	}
}

func TestReadFrameParityFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TypeAuth, []byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	corrupted := buf.Bytes()
	corrupted[5] ^= 0xFF // flip the parity byte

	r := NewReader(bytes.NewReader(corrupted), 0)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrParity) {
		t.Fatalf("err = %v, want ErrParity", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TypeRequest, make([]byte, 100)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf, 10)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameTruncatedPayloadIsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TypeRequest, []byte("0123456789")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	truncated := buf.Bytes()[:len(buf.Bytes())-5]
	r := NewReader(bytes.NewReader(truncated), 0)
	_, err := r.ReadFrame()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadFrameCleanEOFBeforeHeader(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 0)
	_, err := r.ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	id := RequestID(0x0102030405060708)
	buf := AppendRequestID(nil, id)

	got, rest, ok := SplitRequestID(buf)
	if !ok {
		t.Fatal("SplitRequestID: ok = false")
	}
	if got != id {
		t.Fatalf("got %x, want %x", got, id)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %v, want empty", rest)
	}
}

func TestSplitRequestIDTooShort(t *testing.T) {
	_, _, ok := SplitRequestID([]byte{1, 2, 3})
	if ok {
		t.Fatal("ok = true for short payload, want false")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	cmd := Command{Code: 7, Version: 3}
	buf := AppendCommand([]byte("prefix"), cmd)

	got, rest, ok := SplitCommand(buf[len("prefix"):])
	if !ok {
		t.Fatal("SplitCommand: ok = false")
	}
	if got != cmd {
		t.Fatalf("got %+v, want %+v", got, cmd)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %v, want empty", rest)
	}
}
