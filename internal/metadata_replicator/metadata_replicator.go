package metadata_replicator

import "context"

// ApplyFunc applies one committed, serialized operation to the state machine.
type ApplyFunc func(data []byte) error

type MetadataReplicator interface {
	// Start replays any persisted operations through applier and then
	// accepts new ones.
	Start(applier ApplyFunc) error
	Stop() error

	// Replicate blocks until data has been applied and persisted. An
	// operation the applier rejects is not persisted.
	Replicate(ctx context.Context, data []byte) error

	Sync(ctx context.Context) error
}
