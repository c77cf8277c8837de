package chunk_service

import "context"

// ChunkService stores opaque, immutable-by-id byte blobs. A chunk is
// rewritten in full on every write.
type ChunkService interface {
	WriteChunk(ctx context.Context, chunkID string, data []byte) error
	ReadChunk(ctx context.Context, chunkID string) ([]byte, error)
	DeleteChunk(ctx context.Context, chunkID string) error
}
