package wire

import "encoding/binary"

// RequestID is the opaque 64-bit handle a client allocates for a request;
// it is stable for the request's lifetime.
type RequestID uint64

// requestIDLen is the width of the RequestId prefix on every request frame
// payload.
const requestIDLen = 8

// Command selects a request type: a (code, version) pair.
type Command struct {
	Code    uint16
	Version uint8
}

// commandLen is the width of the Command prefix following the RequestId on
// the first payload of a new request.
const commandLen = 3

// SplitRequestID extracts the leading RequestId from a request frame
// payload, returning it along with the remaining body bytes. It reports
// false if payload is shorter than a RequestId.
func SplitRequestID(payload []byte) (RequestID, []byte, bool) {
	if len(payload) < requestIDLen {
		return 0, nil, false
	}
	id := RequestID(binary.LittleEndian.Uint64(payload[:requestIDLen]))
	return id, payload[requestIDLen:], true
}

// AppendRequestID appends id, little-endian, to dst.
func AppendRequestID(dst []byte, id RequestID) []byte {
	var b [requestIDLen]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return append(dst, b[:]...)
}

// SplitCommand extracts a leading Command from a request body, returning it
// along with the remaining init payload bytes. It reports false if body is
// shorter than a Command.
func SplitCommand(body []byte) (Command, []byte, bool) {
	if len(body) < commandLen {
		return Command{}, nil, false
	}
	cmd := Command{
		Code:    binary.LittleEndian.Uint16(body[:2]),
		Version: body[2],
	}
	return cmd, body[commandLen:], true
}

// AppendCommand appends cmd, little-endian, to dst.
func AppendCommand(dst []byte, cmd Command) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], cmd.Code)
	dst = append(dst, b[:]...)
	return append(dst, cmd.Version)
}

// Status is the node's reply to a client's opening command, or the
// connection-level status surfaced to a single request.
type Status uint8

// Per-request command-supported statuses (§6).
const (
	RequestSupported Status = iota
	RequestVersionNotSupported
	RequestNotSupported
)

// Global connection-level status codes (§6).
type GlobalStatus uint8

const (
	StatusOk GlobalStatus = iota
	StatusProtocolError
	StatusAuthRejected
	StatusTooManyRequests
)
