package uploader

import "errors"

var (
	// ErrIncompleteChunks is returned when assembly finds a gap in the chunk
	// sequence. The upload cannot be finalized.
	ErrIncompleteChunks = errors.New("incomplete chunk sequence")

	// ErrStorageError is returned when a filesystem operation on chunk or
	// object storage fails.
	ErrStorageError = errors.New("storage error")
)
