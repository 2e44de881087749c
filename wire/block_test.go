package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestBlockRoundTrip checks UnpackBlock inverts Pack.
func TestBlockRoundTrip(t *testing.T) {
	var hash [BlockHashSize]byte
	for i := range hash {
		hash[i] = 0x5A
	}
	b := Block{FileHash: hash, BlockID: 7, Data: []byte("xyz")}

	packed := b.Pack()
	if len(packed) != 25+len(b.Data) {
		t.Fatalf("packed length = %d, want %d", len(packed), 25+len(b.Data))
	}

	got, ok := UnpackBlock(packed)
	if !ok {
		t.Fatal("UnpackBlock returned ok=false for a valid block")
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.Downloaded() {
		t.Error("expected Downloaded() to be true for a block with data")
	}
}

func TestBlockMissHasNoData(t *testing.T) {
	var hash [BlockHashSize]byte
	b := Block{FileHash: hash, BlockID: 1}
	packed := b.Pack()
	if len(packed) != 25 {
		t.Fatalf("miss block length = %d, want 25", len(packed))
	}
	got, ok := UnpackBlock(packed)
	if !ok {
		t.Fatal("UnpackBlock returned ok=false")
	}
	if got.Downloaded() {
		t.Error("expected Downloaded() to be false for an empty block")
	}
}

func TestUnpackBlockRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"too short":     make([]byte, 10),
		"missing space": append(append(make([]byte, BlockHashSize), 'X'), make([]byte, 8)...),
		"bad separator": append(append(make([]byte, BlockHashSize), ' '), []byte{0, 0, 0, 1, 'X', 'X', 'X', 'X'}...),
	}
	for name, packet := range cases {
		if _, ok := UnpackBlock(packet); ok {
			t.Errorf("%s: expected UnpackBlock to reject malformed packet", name)
		}
	}
}
