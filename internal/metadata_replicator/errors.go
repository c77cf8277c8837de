package metadata_replicator

import "errors"

var (
	ErrNotStarted         = errors.New("replicator not started")
	ErrJournalOpenFailed  = errors.New("failed to open metadata journal")
	ErrJournalWriteFailed = errors.New("failed to append to metadata journal")
	ErrJournalSyncFailed  = errors.New("failed to sync metadata journal")
)
