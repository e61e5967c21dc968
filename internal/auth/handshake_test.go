package auth

import (
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/clusterkit/swarmrpc/internal/swarmerr"
)

// The literal credentials line and timestamp from spec §8 scenario 2.
const (
	literalCredsLine = "alice:00112233445566778899aabbccddeeff"
	literalTimestamp = uint64(1_700_000_000)
)

func literalKey(t *testing.T) []byte {
	t.Helper()
	key, err := hex.DecodeString("00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("decode literal key: %v", err)
	}
	return key
}

// fixedNow anchors Handshake's clock to literalTimestamp itself, so the
// skew check's injected clock (not the real wall clock, which would drift
// further from literalTimestamp every time these tests run) is what's
// actually exercised.
func fixedNow() time.Time { return time.Unix(int64(literalTimestamp), 0) }

func TestHandshakeSuccess(t *testing.T) {
	store, err := LoadReader(stringsReader(literalCredsLine + "\n"))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}

	node, client := net.Pipe()
	defer node.Close()
	defer client.Close()

	clientErr := make(chan error, 1)
	go func() {
		clientErr <- ClientHandshake(client, "alice", literalKey(t), literalTimestamp)
	}()

	result, err := Handshake(node, store, time.Hour, fixedNow)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result.ClientName != "alice" {
		t.Fatalf("ClientName = %q, want alice", result.ClientName)
	}
	if err := <-clientErr; err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
}

func TestHandshakeUnknownClientRejected(t *testing.T) {
	store := NewStore()

	node, client := net.Pipe()
	defer node.Close()
	defer client.Close()

	go ClientHandshake(client, "mallory", []byte("whatever-key"), literalTimestamp)

	_, err := Handshake(node, store, time.Hour, fixedNow)
	assertAuthRejected(t, err)
}

func TestHandshakeWrongKeyRejected(t *testing.T) {
	store := NewStore()
	store.Set("alice", literalKey(t))

	node, client := net.Pipe()
	defer node.Close()
	defer client.Close()

	wrongKey := append([]byte(nil), literalKey(t)...)
	wrongKey[0] ^= 0xFF

	go ClientHandshake(client, "alice", wrongKey, literalTimestamp)

	_, err := Handshake(node, store, time.Hour, fixedNow)
	assertAuthRejected(t, err)
}

func TestHandshakeTimestampSkewRejected(t *testing.T) {
	store := NewStore()
	store.Set("alice", literalKey(t))

	node, client := net.Pipe()
	defer node.Close()
	defer client.Close()

	staleTS := uint64(fixedNow().Add(-time.Hour).Unix())
	go ClientHandshake(client, "alice", literalKey(t), staleTS)

	_, err := Handshake(node, store, time.Minute, fixedNow)
	assertAuthRejected(t, err)
}

func assertAuthRejected(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Handshake: err = nil, want AuthRejected")
	}
	kind, ok := swarmerr.KindOf(err)
	if !ok || kind != swarmerr.KindAuthRejected {
		t.Fatalf("KindOf(err) = %v, %v, want KindAuthRejected, true", kind, ok)
	}
}

func TestHandshakeIOErrorOnClosedConn(t *testing.T) {
	store := NewStore()

	node, client := net.Pipe()
	client.Close()

	_, err := Handshake(node, store, time.Hour, time.Now)
	if err == nil {
		t.Fatal("Handshake: err = nil, want IO error")
	}
	kind, ok := swarmerr.KindOf(err)
	if !ok || kind != swarmerr.KindIO {
		t.Fatalf("KindOf(err) = %v, %v, want KindIO", kind, ok)
	}
}

func TestLoadReaderRejectsComments(t *testing.T) {
	_, err := LoadReader(stringsReader("# a comment\n" + literalCredsLine + "\n"))
	if err == nil {
		t.Fatal("LoadReader: err = nil, want rejection of comment line")
	}
}

func TestLoadReaderRejectsEmptyLines(t *testing.T) {
	_, err := LoadReader(stringsReader(literalCredsLine + "\n\n"))
	if err == nil {
		t.Fatal("LoadReader: err = nil, want rejection of empty line")
	}
}

func TestLoadReaderRoundTrip(t *testing.T) {
	store, err := LoadReader(stringsReader(literalCredsLine + "\n"))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}
	key, ok := store.Lookup("alice")
	if !ok {
		t.Fatal("Lookup(alice): ok = false")
	}
	if hex.EncodeToString(key) != "00112233445566778899aabbccddeeff" {
		t.Fatalf("key = %x", key)
	}
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }
