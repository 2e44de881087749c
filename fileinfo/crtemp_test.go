package fileinfo

import (
	"bytes"
	"testing"

	"github.com/filefabric/ctp/wire"
)

// TestCRTEMPRoundTrip checks a partial file survives encode/decode.
func TestCRTEMPRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{0x11}, wire.MaxBlockSize*2+10)
	full := NewFileFromContent("f.bin", content, 1.0)

	partial := NewEmptyFile(full.Info)
	if err := partial.FillBlock(full.Blocks[1]); err != nil {
		t.Fatalf("FillBlock failed: %v", err)
	}

	encoded := EncodeTemp(partial)
	got, err := DecodeTemp(partial.Info, encoded)
	if err != nil {
		t.Fatalf("DecodeTemp failed: %v", err)
	}

	if got.Downloaded() {
		t.Fatal("expected partial file to not be fully downloaded")
	}
	for i, b := range got.Blocks {
		if i == 1 {
			if !bytes.Equal(b.Data, full.Blocks[1].Data) {
				t.Errorf("block 1 data mismatch")
			}
		} else if b.Downloaded() {
			t.Errorf("block %d should be missing", i)
		}
	}
}

func TestCRTEMPFullRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{0x22}, wire.MaxBlockSize+1)
	full := NewFileFromContent("g.bin", content, 2.0)

	encoded := EncodeTemp(full)
	got, err := DecodeTemp(full.Info, encoded)
	if err != nil {
		t.Fatalf("DecodeTemp failed: %v", err)
	}
	if !got.Downloaded() {
		t.Fatal("expected fully downloaded file to decode as complete")
	}
	gotContent, err := got.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if !bytes.Equal(gotContent, content) {
		t.Error("reassembled content mismatch")
	}
}

func TestDecodeTempRejectsBlockCountMismatch(t *testing.T) {
	content := bytes.Repeat([]byte{1}, wire.MaxBlockSize)
	f := NewEmptyFile(FromContent("f", content, 1.0))
	encoded := EncodeTemp(f)

	badInfo := f.Info
	badInfo.BlockCount = 99
	if _, err := DecodeTemp(badInfo, encoded); err == nil {
		t.Fatal("expected error for block count mismatch")
	}
}

func TestDecodeTempRejectsMissingSeparator(t *testing.T) {
	info := FromContent("f", bytes.Repeat([]byte{1}, wire.MaxBlockSize), 1.0)
	bad := []byte("CRTEMP 1\r\n\x00\x00\x00\x00XXXX")
	if _, err := DecodeTemp(info, bad); err == nil {
		t.Fatal("expected error for missing double-CRLF separator")
	}
}
