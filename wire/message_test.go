package wire

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func id32(fill byte) string {
	return strings.Repeat(string(rune(fill)), IDSize)
}

// TestMessageRoundTrip checks that pack then unpack reproduces the
// original message exactly.
func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		Type:      BlockRequest,
		Seqnum:    42,
		ClusterID: id32('a'),
		SenderID:  id32('b'),
		Body:      []byte("hi"),
	}

	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(packed) != HeaderSize+2 {
		t.Fatalf("packed length = %d, want %d", len(packed), HeaderSize+2)
	}

	got, err := Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPackRejectsBadClusterID(t *testing.T) {
	m := Message{Type: StatusRequest, ClusterID: "too-short", SenderID: id32('b')}
	if _, err := m.Pack(); err == nil {
		t.Fatal("expected error for short cluster_id")
	}
}

func TestPackRejectsNonASCIIID(t *testing.T) {
	bad := strings.Repeat("a", IDSize-1) + "\xff"
	m := Message{Type: StatusRequest, ClusterID: bad, SenderID: id32('b')}
	if _, err := m.Pack(); err == nil {
		t.Fatal("expected error for non-ASCII cluster_id")
	}
}

func TestPackRejectsOversizedBody(t *testing.T) {
	m := Message{
		Type:      StatusRequest,
		ClusterID: id32('a'),
		SenderID:  id32('b'),
		Body:      make([]byte, MaxBody+1),
	}
	if _, err := m.Pack(); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestPackRejectsUnknownType(t *testing.T) {
	m := Message{Type: Type(0x42), ClusterID: id32('a'), SenderID: id32('b')}
	if _, err := m.Pack(); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestUnpackRejectsShortPacket(t *testing.T) {
	if _, err := Unpack(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for truncated packet")
	}
}

func TestUnpackRejectsUnknownType(t *testing.T) {
	m := Message{Type: StatusRequest, ClusterID: id32('a'), SenderID: id32('b')}
	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	packed[offsetType] = 0x42
	if _, err := Unpack(packed); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestUnpackHeaderIgnoresBody(t *testing.T) {
	m := Message{
		Type:      ManifestRequest,
		Seqnum:    7,
		ClusterID: id32('c'),
		SenderID:  id32('d'),
		Body:      []byte("ignored"),
	}
	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	h, err := UnpackHeader(packed)
	if err != nil {
		t.Fatalf("UnpackHeader failed: %v", err)
	}
	want := Header{Type: m.Type, Seqnum: m.Seqnum, ClusterID: m.ClusterID, SenderID: m.SenderID}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeIsRequest(t *testing.T) {
	cases := []struct {
		t    Type
		want bool
	}{
		{StatusRequest, true},
		{StatusResponse, false},
		{PeerlistPush, true},
		{NoOp, true},
		{ServerError, false},
	}
	for _, c := range cases {
		if got := c.t.IsRequest(); got != c.want {
			t.Errorf("%s.IsRequest() = %v, want %v", c.t, got, c.want)
		}
	}
}
