package server

import (
	pms "github.com/AnishMulay/chfs/internal/metadata_service"
)

// Message type constants.
const (
	MsgPing        = "chfs_ping"
	MsgFsInfo      = "chfs_fsinfo"
	MsgFsStat      = "chfs_fsstat"
	MsgGetAttr     = "chfs_getattr"
	MsgLookupPath  = "chfs_lookuppath"
	MsgStatPath    = "chfs_statpath"
	MsgSetAttr     = "chfs_setattr"
	MsgCreate      = "chfs_create"
	MsgOpen        = "chfs_open"
	MsgRelease     = "chfs_release"
	MsgRead        = "chfs_read"
	MsgWrite       = "chfs_write"
	MsgTruncate    = "chfs_truncate"
	MsgFsync       = "chfs_fsync"
	MsgRemove      = "chfs_remove"
	MsgMkdir       = "chfs_mkdir"
	MsgRmdir       = "chfs_rmdir"
	MsgRename      = "chfs_rename"
	MsgReadDirPlus = "chfs_readdirplus"
)

// --- Payload Structs ---

type GetAttrRequest struct {
	InodeID string `json:"inodeId"`
}

type LookupPathRequest struct {
	Path string `json:"path"`
}

type StatPathRequest struct {
	Path string `json:"path"`
}

type SetAttrRequest struct {
	Path  string  `json:"path"`
	Mode  *uint32 `json:"mode,omitempty"`
	UID   *uint32 `json:"uid,omitempty"`
	GID   *uint32 `json:"gid,omitempty"`
	ATime *int64  `json:"atime,omitempty"`
	MTime *int64  `json:"mtime,omitempty"`
}

type CreateRequest struct {
	Path      string `json:"path"`
	Mode      uint32 `json:"mode"`
	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
	Exclusive bool   `json:"exclusive"`
}

type OpenRequest struct {
	Path      string `json:"path"`
	Create    bool   `json:"create"`
	Exclusive bool   `json:"exclusive"`
	Truncate  bool   `json:"truncate"`
	Mode      uint32 `json:"mode"`
	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
}

type ReleaseRequest struct {
	InodeID string `json:"inodeId"`
}

type ReadRequest struct {
	InodeID string `json:"inodeId"`
	Offset  int64  `json:"offset"`
	Length  int64  `json:"length"`
}

type WriteRequest struct {
	InodeID string `json:"inodeId"`
	Offset  int64  `json:"offset"`
	Data    []byte `json:"data"`
}

type TruncateRequest struct {
	InodeID string `json:"inodeId"`
	Size    int64  `json:"size"`
}

type FsyncRequest struct {
	InodeID string `json:"inodeId"`
}

type RemoveRequest struct {
	Path string `json:"path"`
}

type MkdirRequest struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
}

type RmdirRequest struct {
	Path string `json:"path"`
}

type RenameRequest struct {
	SrcPath string `json:"srcPath"`
	DstPath string `json:"dstPath"`
}

type ReadDirPlusRequest struct {
	Path       string `json:"path"`
	Cookie     int    `json:"cookie"`
	MaxEntries int    `json:"maxEntries"`
}

// --- Response Bodies ---
// Read replies with the raw bytes; every other reply is JSON.

type PingResponse struct {
	NodeID string `json:"nodeId"`
}

type LookupPathResponse struct {
	InodeID string `json:"inodeId"`
}

type WriteResponse struct {
	Written int64 `json:"written"`
}

type ReadDirPlusResponse struct {
	Entries []pms.DirEntryPlus `json:"entries"`
	Cookie  int                `json:"cookie"`
	EOF     bool               `json:"eof"`
}
