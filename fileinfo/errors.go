package fileinfo

import "errors"

var (
	// ErrInvalidDescriptor covers malformed CRINFO or CRTEMP content:
	// unparsable headers, wrong field counts, or a block count mismatch.
	ErrInvalidDescriptor = errors.New("fileinfo: invalid descriptor")
	// ErrFileError covers filesystem-level failures reading or writing a
	// file's content or descriptor.
	ErrFileError = errors.New("fileinfo: file error")
	// ErrBlockMismatch is returned by File.FillBlock when a block's
	// filehash or id does not belong to the target file.
	ErrBlockMismatch = errors.New("fileinfo: block does not match file")
	// ErrNotDownloaded is returned by File.Content when blocks are missing.
	ErrNotDownloaded = errors.New("fileinfo: file is not fully downloaded")
)
