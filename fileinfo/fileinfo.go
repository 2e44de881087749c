// Package fileinfo implements the content-addressed file model: the CRINFO
// descriptor format, the CRTEMP partial-download format, and the File type
// that ties a descriptor to an ordered sequence of blocks.
package fileinfo

import (
	"crypto/md5"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/filefabric/ctp/wire"
)

// FileInfo is a file's content descriptor (CRINFO).
type FileInfo struct {
	Filename   string
	FileHash   [wire.BlockHashSize]byte
	FileSize   int64
	Timestamp  float64
	BlockCount uint32
}

func blockCountFor(size int64) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + wire.MaxBlockSize - 1) / wire.MaxBlockSize)
}

// FromContent builds a FileInfo for filename from its full content.
func FromContent(filename string, content []byte, timestamp float64) FileInfo {
	hash := md5.Sum(content)
	size := int64(len(content))
	return FileInfo{
		Filename:   filename,
		FileHash:   hash,
		FileSize:   size,
		Timestamp:  timestamp,
		BlockCount: blockCountFor(size),
	}
}

// FromFile reads path in full, computing its FileInfo with the current UTC
// time as the timestamp. It also returns the file's content, since callers
// constructing a File almost always need it immediately after.
func FromFile(path, filename string) (FileInfo, []byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, nil, fmt.Errorf("%w: %v", ErrFileError, err)
	}
	ts := float64(time.Now().UTC().UnixNano()) / 1e9
	return FromContent(filename, content, ts), content, nil
}

// Equal reports whether f and o reference the same content.
func (f FileInfo) Equal(o FileInfo) bool {
	return f.FileHash == o.FileHash
}

// Synced reports whether f and o reference the same content and were
// recorded at the same timestamp.
func (f FileInfo) Synced(o FileInfo) bool {
	return f.Equal(o) && f.Timestamp == o.Timestamp
}

// StrictEqual reports whether every field of f and o match.
func (f FileInfo) StrictEqual(o FileInfo) bool {
	return f.Filename == o.Filename &&
		f.FileHash == o.FileHash &&
		f.FileSize == o.FileSize &&
		f.Timestamp == o.Timestamp &&
		f.BlockCount == o.BlockCount
}

// MarshalCRINFO encodes f as the on-disk CRINFO body: "CRINFO <filesize>
// <timestamp>\r\n" followed by the 16-byte filehash. The filename is not
// part of the encoded bytes — it's carried by the descriptor's path.
func (f FileInfo) MarshalCRINFO() []byte {
	header := fmt.Sprintf("CRINFO %d %s\r\n", f.FileSize, strconv.FormatFloat(f.Timestamp, 'f', -1, 64))
	buf := make([]byte, 0, len(header)+wire.BlockHashSize)
	buf = append(buf, header...)
	buf = append(buf, f.FileHash[:]...)
	return buf
}

// ParseCRINFO decodes a CRINFO body for the given filename (the filename
// itself is supplied by the caller, derived from the descriptor's path).
func ParseCRINFO(filename string, data []byte) (FileInfo, error) {
	nl := strings.Index(string(data), "\r\n")
	if nl < 0 {
		return FileInfo{}, fmt.Errorf("%w: crinfo missing header terminator", ErrInvalidDescriptor)
	}
	header := string(data[:nl])
	hash := data[nl+2:]
	if len(hash) != wire.BlockHashSize {
		return FileInfo{}, fmt.Errorf("%w: filehash must be %d bytes, got %d", ErrInvalidDescriptor, wire.BlockHashSize, len(hash))
	}
	fields := strings.Fields(header)
	if len(fields) != 3 || fields[0] != "CRINFO" {
		return FileInfo{}, fmt.Errorf("%w: malformed crinfo header %q", ErrInvalidDescriptor, header)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: bad filesize: %v", ErrInvalidDescriptor, err)
	}
	ts, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidDescriptor, err)
	}
	var fh [wire.BlockHashSize]byte
	copy(fh[:], hash)
	return FileInfo{
		Filename:   filename,
		FileHash:   fh,
		FileSize:   size,
		Timestamp:  ts,
		BlockCount: blockCountFor(size),
	}, nil
}
