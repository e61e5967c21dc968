package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/clusterkit/swarmrpc/internal/swarmerr"
)

// hmacSize is the width of an HMAC-SHA1 digest.
const hmacSize = sha1.Size

// Result carries the outcome of a successful handshake.
type Result struct {
	ClientName string

	// SessionLabel is a diagnostic-only value derived from the
	// registered key and the handshake nonce via HKDF; it never repeats
	// across connections for a given client even when the same long-
	// lived key is reused. It plays no role in the authentication
	// decision itself and must not be treated as a credential.
	SessionLabel [8]byte
}

// Window bounds acceptable client/node clock skew.
type Window time.Duration

// Handshake runs the node side of the §4.3 protocol over rw. now is
// injected for testability. On rejection the returned error wraps
// swarmerr.KindAuthRejected; on I/O failure it wraps swarmerr.KindIO.
// The caller is responsible for closing the connection in both cases.
func Handshake(rw io.ReadWriter, store *Store, window time.Duration, now func() time.Time) (Result, error) {
	if now == nil {
		now = time.Now
	}

	// Step 1: client sends its timestamp.
	var tsBytes [8]byte
	if _, err := io.ReadFull(rw, tsBytes[:]); err != nil {
		return Result{}, ioErr(err)
	}
	clientTS := binary.LittleEndian.Uint64(tsBytes[:])

	// Step 2: node sends a nonce.
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Result{}, ioErr(err)
	}
	if _, err := rw.Write(nonce[:]); err != nil {
		return Result{}, ioErr(err)
	}

	// Step 3: client sends its name (length-prefixed) and HMAC code.
	var nameLenB [2]byte
	if _, err := io.ReadFull(rw, nameLenB[:]); err != nil {
		return Result{}, ioErr(err)
	}
	nameLen := binary.LittleEndian.Uint16(nameLenB[:])

	nameBuf := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(rw, nameBuf); err != nil {
			return Result{}, ioErr(err)
		}
	}
	clientName := string(nameBuf)

	var code [hmacSize]byte
	if _, err := io.ReadFull(rw, code[:]); err != nil {
		return Result{}, ioErr(err)
	}

	// Step 4: verify.
	accept := verify(store, clientName, clientTS, nonce, code, window, now)

	// Step 5: node sends the accept/reject byte.
	var reply [1]byte
	if !accept {
		reply[0] = 1
	}
	if _, err := rw.Write(reply[:]); err != nil {
		return Result{}, ioErr(err)
	}

	if !accept {
		return Result{}, swarmerr.New(swarmerr.KindAuthRejected, fmt.Errorf("rejected client %q", clientName))
	}

	key, _ := store.Lookup(clientName)
	return Result{
		ClientName:   clientName,
		SessionLabel: sessionLabel(key, nonce),
	}, nil
}

func verify(store *Store, name string, clientTS uint64, nonce [8]byte, code [hmacSize]byte, window time.Duration, now func() time.Time) bool {
	key, ok := store.Lookup(name)
	if !ok {
		return false
	}

	if window > 0 {
		skew := now().Sub(time.Unix(int64(clientTS), 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > window {
			return false
		}
	}

	mac := hmac.New(sha1.New, key)
	var tsBytes [8]byte
	binary.LittleEndian.PutUint64(tsBytes[:], clientTS)
	mac.Write(tsBytes[:])
	mac.Write(nonce[:])
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, code[:]) == 1
}

func sessionLabel(key []byte, nonce [8]byte) [8]byte {
	var out [8]byte
	if len(key) == 0 {
		return out
	}
	kdf := hkdf.New(sha1.New, key, nonce[:], []byte("swarmrpc-session-label"))
	io.ReadFull(kdf, out[:])
	return out
}

func ioErr(err error) error {
	return swarmerr.New(swarmerr.KindIO, err)
}
