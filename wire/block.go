package wire

import (
	"bytes"
	"encoding/binary"
)

// BlockHashSize is the length of a file's content hash (MD5) as carried in
// a Block.
const BlockHashSize = 16

// blockSeparator marks the end of a block's fixed header.
var blockSeparator = []byte("\r\n\r\n")

// blockHeaderSize is filehash(16) + ' '(1) + block_id(4) + separator(4).
const blockHeaderSize = BlockHashSize + 1 + 4 + 4

// MaxBlockSize is the largest payload a Block can carry inside one CTP
// body: MAX_BODY minus the 25-byte block header.
const MaxBlockSize = MaxBody - 25

// Block is a fixed-size slice of file content identified by (FileHash,
// BlockID). Data is empty for a "miss" response or for a request (which
// carries no data).
type Block struct {
	FileHash [BlockHashSize]byte
	BlockID  uint32
	Data     []byte
}

// Downloaded reports whether this block actually carries content.
func (b Block) Downloaded() bool {
	return len(b.Data) > 0
}

// Pack serializes b as filehash || ' ' || block_id(4,BE) || "\r\n\r\n" || data.
func (b Block) Pack() []byte {
	buf := make([]byte, blockHeaderSize+len(b.Data))
	copy(buf[0:BlockHashSize], b.FileHash[:])
	buf[BlockHashSize] = ' '
	binary.BigEndian.PutUint32(buf[BlockHashSize+1:BlockHashSize+5], b.BlockID)
	copy(buf[BlockHashSize+5:BlockHashSize+9], blockSeparator)
	copy(buf[blockHeaderSize:], b.Data)
	return buf
}

// UnpackBlock decodes a packed block. It returns ok=false (not an error) on
// any structural malformation.
func UnpackBlock(packet []byte) (Block, bool) {
	if len(packet) < blockHeaderSize {
		return Block{}, false
	}
	if packet[BlockHashSize] != ' ' {
		return Block{}, false
	}
	if !bytes.Equal(packet[BlockHashSize+5:BlockHashSize+9], blockSeparator) {
		return Block{}, false
	}
	var b Block
	copy(b.FileHash[:], packet[0:BlockHashSize])
	b.BlockID = binary.BigEndian.Uint32(packet[BlockHashSize+1 : BlockHashSize+5])
	if len(packet) > blockHeaderSize {
		b.Data = make([]byte, len(packet)-blockHeaderSize)
		copy(b.Data, packet[blockHeaderSize:])
	}
	return b, true
}
