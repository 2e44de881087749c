package fileinfo

import (
	"bytes"
	"fmt"

	"github.com/filefabric/ctp/wire"
)

// File pairs a FileInfo descriptor with the ordered blocks that make up its
// content, some of which may still be missing during a download.
type File struct {
	Info   FileInfo
	Blocks []wire.Block
}

// NewEmptyFile builds a File with info's block count, every block present
// but undownloaded (no data).
func NewEmptyFile(info FileInfo) *File {
	blocks := make([]wire.Block, info.BlockCount)
	for i := range blocks {
		blocks[i] = wire.Block{FileHash: info.FileHash, BlockID: uint32(i)}
	}
	return &File{Info: info, Blocks: blocks}
}

// NewFileFromContent builds a fully-downloaded File by splitting content
// into MaxBlockSize chunks.
func NewFileFromContent(filename string, content []byte, timestamp float64) *File {
	info := FromContent(filename, content, timestamp)
	f := NewEmptyFile(info)
	for i := range f.Blocks {
		start := i * wire.MaxBlockSize
		end := start + wire.MaxBlockSize
		if end > len(content) {
			end = len(content)
		}
		f.Blocks[i].Data = append([]byte(nil), content[start:end]...)
	}
	return f
}

// Downloaded reports whether every block carries data. Vacuously true for a
// zero-block (empty) file.
func (f *File) Downloaded() bool {
	for _, b := range f.Blocks {
		if !b.Downloaded() {
			return false
		}
	}
	return true
}

// MissingBlockIDs returns, in ascending order, the IDs of blocks that have
// not yet been downloaded.
func (f *File) MissingBlockIDs() []uint32 {
	var missing []uint32
	for _, b := range f.Blocks {
		if !b.Downloaded() {
			missing = append(missing, b.BlockID)
		}
	}
	return missing
}

// FillBlock installs b into the file's block list, provided it belongs to
// this file and names a valid block index.
func (f *File) FillBlock(b wire.Block) error {
	if b.FileHash != f.Info.FileHash {
		return fmt.Errorf("%w: filehash mismatch", ErrBlockMismatch)
	}
	if int(b.BlockID) >= len(f.Blocks) {
		return fmt.Errorf("%w: block id %d out of range [0,%d)", ErrBlockMismatch, b.BlockID, len(f.Blocks))
	}
	f.Blocks[b.BlockID] = b
	return nil
}

// Content concatenates every block's data in order. It fails if any block
// is still missing.
func (f *File) Content() ([]byte, error) {
	if !f.Downloaded() {
		return nil, ErrNotDownloaded
	}
	var buf bytes.Buffer
	for _, b := range f.Blocks {
		buf.Write(b.Data)
	}
	return buf.Bytes(), nil
}
