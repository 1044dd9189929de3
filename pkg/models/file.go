package models

import "time"

// RootFolderID is the sentinel parent id for entries at the top of a user's tree.
const RootFolderID = "0"

// FolderType distinguishes files from folders.
type FolderType int

const (
	TypeFile   FolderType = 0
	TypeFolder FolderType = 1
)

// FileStatus is the transcoding lifecycle of a file entry.
// Transfer is only ever set at commit time; Using and TransferFail are terminal.
type FileStatus int

const (
	StatusTransfer     FileStatus = 0
	StatusTransferFail FileStatus = 1
	StatusUsing        FileStatus = 2
)

// DelFlag is the soft-delete tri-state of an entry.
type DelFlag int

const (
	// FlagDel marks hidden entries pending hard purge.
	FlagDel DelFlag = 0
	// FlagRecycle marks entries visible in the recycle bin.
	FlagRecycle DelFlag = 1
	// FlagUsing marks live entries.
	FlagUsing DelFlag = 2
)

// FileEntry is one row of a user's tree: a file or a folder.
//
// Files carry FilePath (storage-relative object location), FileMD5 (content
// fingerprint), FileSize, FileCategory/FileType and optionally FileCover.
// Folders carry none of those.
type FileEntry struct {
	FileID         string       `json:"file_id"`
	UserID         string       `json:"user_id"`
	FilePid        string       `json:"file_pid"`
	FileName       string       `json:"file_name"`
	FolderType     FolderType   `json:"folder_type"`
	FilePath       string       `json:"file_path,omitempty"`
	FileMD5        string       `json:"file_md5,omitempty"`
	FileSize       int64        `json:"file_size"`
	FileCategory   FileCategory `json:"file_category,omitempty"`
	FileType       FileType     `json:"file_type,omitempty"`
	FileCover      string       `json:"file_cover,omitempty"`
	Status         FileStatus   `json:"status"`
	DelFlag        DelFlag      `json:"del_flag"`
	CreateTime     time.Time    `json:"create_time"`
	LastUpdateTime time.Time    `json:"last_update_time"`
	RecoveryTime   *time.Time   `json:"recovery_time,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (e *FileEntry) IsFolder() bool {
	return e.FolderType == TypeFolder
}

// UserSpace is a user's storage accounting snapshot.
type UserSpace struct {
	UseSpace   int64 `json:"use_space"`
	TotalSpace int64 `json:"total_space"`
}

// UploadStatus is the per-chunk outcome reported by the upload coordinator.
type UploadStatus string

const (
	// UploadSeconded means identical content already existed and the upload
	// completed without transferring further bytes.
	UploadSeconded UploadStatus = "upload_seconds"
	// UploadInProgress means the chunk was stored and more chunks are expected.
	UploadInProgress UploadStatus = "uploading"
	// UploadFinished means the final chunk arrived and the file was committed.
	UploadFinished UploadStatus = "upload_finish"
)

// UploadResult is returned for every received chunk.
type UploadResult struct {
	FileID string       `json:"file_id"`
	Status UploadStatus `json:"status"`
}
