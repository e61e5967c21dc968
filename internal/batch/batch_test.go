package batch

import (
	"bytes"
	"reflect"
	"testing"
)

type record struct {
	Seq  uint32
	Tag  byte
	Data []byte
}

func TestAddAndRecordsRoundTrip(t *testing.T) {
	w, err := NewWriter[record](4096)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	want := []record{
		{Seq: 1, Tag: 'a', Data: []byte("first")},
		{Seq: 2, Tag: 'b', Data: []byte("second, a bit longer")},
		{Seq: 3, Tag: 'c', Data: nil},
	}
	for _, r := range want {
		if err := w.Add(r); err != nil {
			t.Fatalf("Add(%+v): %v", r, err)
		}
	}

	rd, err := NewReader[record]()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := rd.Records(w.Bytes())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Seq != want[i].Seq || got[i].Tag != want[i].Tag {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], want[i])
		}
		if !reflect.DeepEqual(got[i].Data, want[i].Data) && len(got[i].Data)+len(want[i].Data) != 0 {
			t.Errorf("record %d: Data = %q, want %q", i, got[i].Data, want[i].Data)
		}
	}
}

func TestAddRefusesOversizedRecord(t *testing.T) {
	w, err := NewWriter[record](8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	err = w.Add(record{Seq: 1, Tag: 'x', Data: []byte("this does not fit in 8 bytes")})
	if err != ErrRecordTooLarge {
		t.Fatalf("Add: err = %v, want ErrRecordTooLarge", err)
	}
}

func TestOnFullFiresAndClearsBuffer(t *testing.T) {
	type fixed struct{ V uint32 }

	w, err := NewWriter[fixed](8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	var fired [][]byte
	w.OnFull = func(buf []byte) {
		fired = append(fired, append([]byte(nil), buf...))
	}

	if err := w.Add(fixed{V: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(fixed{V: 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(fired) != 1 {
		t.Fatalf("OnFull fired %d times, want 1", len(fired))
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d after OnFull, want 0", w.Len())
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	w, err := NewWriter[record](4096)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := w.Add(record{Seq: uint32(i), Tag: byte(i), Data: bytes.Repeat([]byte{byte(i)}, 10)}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	var compressed bytes.Buffer
	if err := w.GetCompressed(&compressed); err != nil {
		t.Fatalf("GetCompressed: %v", err)
	}

	rd, err := NewReader[record]()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	dst := make([]byte, w.Len())
	got, err := rd.ReadCompressed(compressed.Bytes(), dst)
	if err != nil {
		t.Fatalf("ReadCompressed: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len(got) = %d, want 50", len(got))
	}
	if got[49].Seq != 49 {
		t.Fatalf("got[49].Seq = %d, want 49", got[49].Seq)
	}
}

func TestReadCompressedRejectsOversizedDecompress(t *testing.T) {
	w, err := NewWriter[record](4096)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Add(record{Seq: 1, Data: bytes.Repeat([]byte{1}, 100)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var compressed bytes.Buffer
	if err := w.GetCompressed(&compressed); err != nil {
		t.Fatalf("GetCompressed: %v", err)
	}

	rd, err := NewReader[record]()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	tooSmall := make([]byte, 1)
	if _, err := rd.ReadCompressed(compressed.Bytes(), tooSmall); err != ErrDecompressTooLarge {
		t.Fatalf("ReadCompressed: err = %v, want ErrDecompressTooLarge", err)
	}
}
