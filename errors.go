package wharf

import "errors"

var (
	// ErrFormat is returned for a malformed patch or signature stream:
	// bad magic, an invalid length delimiter, an undecodable message, an
	// unknown compression id, or end of stream in the middle of a file
	// record. Format errors abort the whole operation.
	ErrFormat = errors.New("wharf: malformed stream")

	// ErrRange is returned when a patch addresses bytes outside the old
	// container: a file index past the manifest, a BlockRange past the
	// old file's size, or a bsdiff add reading past the old file's end.
	ErrRange = errors.New("wharf: address beyond old file bounds")

	// ErrSizeMismatch is returned when a reconstructed file's length
	// disagrees with the size declared in the new container.
	ErrSizeMismatch = errors.New("wharf: reconstructed size mismatch")

	// ErrUnsafePath is returned when a container entry's path escapes the
	// target directory (absolute, or containing parent traversal).
	ErrUnsafePath = errors.New("wharf: unsafe path in container")
)
