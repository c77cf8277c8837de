package file_service

import "errors"

var (
	ErrChunkActionFailed    = errors.New("chunk operation failed")
	ErrMetadataActionFailed = errors.New("metadata operation failed")
)
