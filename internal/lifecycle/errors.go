package lifecycle

import "errors"

var (
	// ErrUploadNotFound signals that no lifecycle record matches.
	ErrUploadNotFound = errors.New("upload not found")
	// ErrDuplicateFilename signals a storage key collision on insert.
	ErrDuplicateFilename = errors.New("upload filename already recorded")
)
