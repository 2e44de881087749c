package fileinfo

import (
	"bytes"
	"testing"

	"github.com/filefabric/ctp/wire"
)

func TestNewFileFromContentDownloaded(t *testing.T) {
	content := bytes.Repeat([]byte{0x7A}, wire.MaxBlockSize*2+5)
	f := NewFileFromContent("big.bin", content, 1.0)

	if !f.Downloaded() {
		t.Fatal("expected a freshly-built file to be fully downloaded")
	}
	if len(f.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(f.Blocks))
	}
	got, err := f.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("reassembled content does not match original")
	}
}

func TestEmptyFileVacuouslyDownloaded(t *testing.T) {
	info := FromContent("empty.txt", nil, 1.0)
	f := NewEmptyFile(info)
	if len(f.Blocks) != 0 {
		t.Fatalf("expected 0 blocks, got %d", len(f.Blocks))
	}
	if !f.Downloaded() {
		t.Error("an empty file should be vacuously downloaded")
	}
}

func TestMissingBlockIDs(t *testing.T) {
	content := bytes.Repeat([]byte{1}, wire.MaxBlockSize*3)
	info := FromContent("f", content, 1.0)
	f := NewEmptyFile(info)

	if len(f.MissingBlockIDs()) != 3 {
		t.Fatalf("expected all 3 blocks missing initially")
	}

	full := NewFileFromContent("f", content, 1.0)
	if err := f.FillBlock(full.Blocks[1]); err != nil {
		t.Fatalf("FillBlock failed: %v", err)
	}
	missing := f.MissingBlockIDs()
	if len(missing) != 2 || missing[0] != 0 || missing[1] != 2 {
		t.Errorf("missing = %v, want [0 2]", missing)
	}
}

func TestFillBlockRejectsMismatch(t *testing.T) {
	content := bytes.Repeat([]byte{1}, wire.MaxBlockSize)
	f := NewEmptyFile(FromContent("f", content, 1.0))

	other := wire.Block{BlockID: 0, Data: []byte("x")}
	if err := f.FillBlock(other); err == nil {
		t.Fatal("expected error for mismatched filehash")
	}

	oob := wire.Block{FileHash: f.Info.FileHash, BlockID: 99, Data: []byte("x")}
	if err := f.FillBlock(oob); err == nil {
		t.Fatal("expected error for out-of-range block id")
	}
}

func TestContentFailsWhenIncomplete(t *testing.T) {
	content := bytes.Repeat([]byte{1}, wire.MaxBlockSize*2)
	f := NewEmptyFile(FromContent("f", content, 1.0))
	if _, err := f.Content(); err == nil {
		t.Fatal("expected error for incomplete file")
	}
}
