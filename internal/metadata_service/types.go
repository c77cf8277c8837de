package metadata_service

import (
	"time"
)

type InodeType int

const (
	TypeFile InodeType = iota
	TypeDirectory
)

func (t InodeType) String() string {
	if t == TypeDirectory {
		return "dir"
	}
	return "file"
}

type Superblock struct {
	FsID            string
	RootInodeID     string
	ChunkSize       int64
	MaxFilenameSize int
	MaxFileSize     int64
	CreatedAt       time.Time
}

// Inode is the fundamental metadata unit.
type Inode struct {
	InodeID   string
	Ino       uint64
	ParentID  string
	Type      InodeType
	LinkCount int
	Mode      uint32 // permission bits only
	OwnerUID  uint32
	OwnerGID  uint32

	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time

	FileSize      int64
	VersionNumber int64

	// Directories: name -> inode id.
	Children map[string]string `json:"children,omitempty"`

	// Files: one chunk id per ChunkSize bytes. An empty id is a hole.
	ChunkList []string `json:"chunkList,omitempty"`
}

type Attributes struct {
	InodeID    string    `json:"inodeId"`
	Ino        uint64    `json:"ino"`
	Type       InodeType `json:"type"`
	Mode       uint32    `json:"mode"`
	Nlink      int       `json:"nlink"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"atime"`
	ModifyTime time.Time `json:"mtime"`
	ChangeTime time.Time `json:"ctime"`
	UID        uint32    `json:"uid"`
	GID        uint32    `json:"gid"`
}

// AttributesOf snapshots the stat view of an inode.
func AttributesOf(inode *Inode) *Attributes {
	return &Attributes{
		InodeID:    inode.InodeID,
		Ino:        inode.Ino,
		Type:       inode.Type,
		Mode:       inode.Mode,
		Nlink:      inode.LinkCount,
		Size:       inode.FileSize,
		AccessTime: inode.AccessTime,
		ModifyTime: inode.ModifyTime,
		ChangeTime: inode.ChangeTime,
		UID:        inode.OwnerUID,
		GID:        inode.OwnerGID,
	}
}

type DirEntry struct {
	Name    string
	InodeID string
	Type    InodeType
}

type DirEntryPlus struct {
	Name    string      `json:"name"`
	InodeID string      `json:"inodeId"`
	Type    InodeType   `json:"type"`
	Inode   *Attributes `json:"attrs"`
	// Cookie resumes enumeration right after this entry.
	Cookie int `json:"cookie"`
}

type FileSystemStats struct {
	TotalSpace  int64
	UsedSpace   int64
	TotalInodes int64
	UsedInodes  int64
	OpenInodes  int64
	Orphans     int64
	BlockSize   int64
}

type FileSystemInfo struct {
	FsID            string `json:"fsId"`
	MaxFileSize     int64  `json:"maxFileSize"`
	MaxFilenameSize int    `json:"maxFilenameSize"`
	ChunkSize       int64  `json:"chunkSize"`
}
