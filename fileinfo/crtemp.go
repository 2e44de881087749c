package fileinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/filefabric/ctp/wire"
)

// EncodeTemp serializes f as a CRTEMP body: "CRTEMP <block_count>\r\n",
// then one 4-byte signed big-endian offset per block (-1 for a missing
// block), then "\r\n\r\n", then the present blocks' data concatenated in
// block-id order.
func EncodeTemp(f *File) []byte {
	header := fmt.Sprintf("CRTEMP %d\r\n", len(f.Blocks))

	offsets := make([]byte, 4*len(f.Blocks))
	var data bytes.Buffer
	for i, b := range f.Blocks {
		if b.Downloaded() {
			binary.BigEndian.PutUint32(offsets[4*i:4*i+4], uint32(data.Len()))
			data.Write(b.Data)
		} else {
			binary.BigEndian.PutUint32(offsets[4*i:4*i+4], ^uint32(0))
		}
	}

	buf := make([]byte, 0, len(header)+len(offsets)+4+data.Len())
	buf = append(buf, header...)
	buf = append(buf, offsets...)
	buf = append(buf, '\r', '\n', '\r', '\n')
	buf = append(buf, data.Bytes()...)
	return buf
}

// DecodeTemp parses a CRTEMP body against the descriptor info, reconstructing
// a File with whichever blocks the offsets mark present.
func DecodeTemp(info FileInfo, data []byte) (*File, error) {
	nl := bytes.Index(data, []byte("\r\n"))
	if nl < 0 {
		return nil, fmt.Errorf("%w: crtemp missing header terminator", ErrInvalidDescriptor)
	}
	header := string(data[:nl])
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != "CRTEMP" {
		return nil, fmt.Errorf("%w: malformed crtemp header %q", ErrInvalidDescriptor, header)
	}
	blockCount, err := strconv.Atoi(fields[1])
	if err != nil || blockCount < 0 {
		return nil, fmt.Errorf("%w: bad block count in crtemp header", ErrInvalidDescriptor)
	}
	if uint32(blockCount) != info.BlockCount {
		return nil, fmt.Errorf("%w: crtemp block count %d does not match descriptor %d", ErrInvalidDescriptor, blockCount, info.BlockCount)
	}

	rest := data[nl+2:]
	offsetRegion := 4 * blockCount
	sepIdx := offsetRegion
	if len(rest) < sepIdx+4 {
		return nil, fmt.Errorf("%w: crtemp truncated before separator", ErrInvalidDescriptor)
	}
	if !bytes.Equal(rest[sepIdx:sepIdx+4], []byte("\r\n\r\n")) {
		return nil, fmt.Errorf("%w: crtemp missing double-CRLF separator", ErrInvalidDescriptor)
	}

	offsets := make([]int32, blockCount)
	for i := 0; i < blockCount; i++ {
		offsets[i] = int32(binary.BigEndian.Uint32(rest[4*i : 4*i+4]))
	}
	blockData := rest[sepIdx+4:]

	last := int32(-1)
	for _, off := range offsets {
		if off == -1 {
			continue
		}
		if off <= last {
			return nil, fmt.Errorf("%w: crtemp offsets must be strictly increasing", ErrInvalidDescriptor)
		}
		last = off
	}

	f := NewEmptyFile(info)
	for i, off := range offsets {
		if off == -1 {
			continue
		}
		blockSize := info.FileSize - int64(i)*wire.MaxBlockSize
		if blockSize > wire.MaxBlockSize {
			blockSize = wire.MaxBlockSize
		}
		end := off + int32(blockSize)
		if off < 0 || int(end) > len(blockData) {
			return nil, fmt.Errorf("%w: crtemp offset out of range", ErrInvalidDescriptor)
		}
		f.Blocks[i] = wire.Block{
			FileHash: info.FileHash,
			BlockID:  uint32(i),
			Data:     append([]byte(nil), blockData[off:end]...),
		}
	}
	return f, nil
}
