package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
)

// ClientHandshake drives the client side of the §4.3 protocol over rw,
// used by tests and reference clients exercising the node's Handshake.
func ClientHandshake(rw io.ReadWriter, name string, key []byte, ts uint64) error {
	var tsBytes [8]byte
	binary.LittleEndian.PutUint64(tsBytes[:], ts)
	if _, err := rw.Write(tsBytes[:]); err != nil {
		return err
	}

	var nonce [8]byte
	if _, err := io.ReadFull(rw, nonce[:]); err != nil {
		return err
	}

	nameBytes := []byte(name)
	var nameLenB [2]byte
	binary.LittleEndian.PutUint16(nameLenB[:], uint16(len(nameBytes)))
	if _, err := rw.Write(nameLenB[:]); err != nil {
		return err
	}
	if _, err := rw.Write(nameBytes); err != nil {
		return err
	}

	mac := hmac.New(sha1.New, key)
	mac.Write(tsBytes[:])
	mac.Write(nonce[:])
	code := mac.Sum(nil)
	if _, err := rw.Write(code); err != nil {
		return err
	}

	var reply [1]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return err
	}
	if reply[0] != 0 {
		return fmt.Errorf("auth: rejected")
	}
	return nil
}
