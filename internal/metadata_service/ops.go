package metadata_service

// OpType identifies the intent of a journaled log entry.
type OpType int

const (
	OpCreate      OpType = iota // files and directories
	OpRemove                    // unlink and rmdir
	OpRename
	OpSetAttr
	OpUpdateInode // size and chunk list after write or truncate
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpSetAttr:
		return "setattr"
	case OpUpdateInode:
		return "update_inode"
	default:
		return "unknown"
	}
}

// MetadataOperation is the container struct serialized to the journal.
type MetadataOperation struct {
	Type OpType `json:"type"`

	InodeID  string `json:"inodeId,omitempty"`
	Ino      uint64 `json:"ino,omitempty"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`

	// Create / Mkdir
	FileType InodeType `json:"fileType,omitempty"`
	Mode     uint32    `json:"mode,omitempty"`
	UID      uint32    `json:"uid,omitempty"`
	GID      uint32    `json:"gid,omitempty"`

	// Rename
	DstParentID string `json:"dstParentId,omitempty"`
	DstName     string `json:"dstName,omitempty"`

	// SetAttr (nil = unchanged)
	SetMode  *uint32 `json:"setMode,omitempty"`
	SetUID   *uint32 `json:"setUid,omitempty"`
	SetGID   *uint32 `json:"setGid,omitempty"`
	SetATime *int64  `json:"setAtime,omitempty"`
	SetMTime *int64  `json:"setMtime,omitempty"`

	// UpdateInode
	NewSize      *int64   `json:"newSize,omitempty"`
	NewChunkList []string `json:"newChunkList,omitempty"`

	OpID      string `json:"opId"`
	Timestamp int64  `json:"timestamp"`
}
