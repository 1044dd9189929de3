// Package storage defines the on-disk layout shared by the upload
// coordinator, the post-processing pipeline and the maintenance sweeps.
//
// Layout under the data directory:
//
//	file/<YYYYMM>/<userID><fileID><suffix>   final objects, month-bucketed
//	file/<YYYYMM>/<userID><fileID>/          video stream segments + manifest
//	file/<YYYYMM>/<userID><fileID>_.png      video cover frames
//	file/<YYYYMM>/<name>_.<ext>              image thumbnails
//
// Chunks of in-flight uploads live under the temp directory in one folder
// per upload. FileEntry.FilePath stores the object path relative to
// file/, e.g. "202608/u1f1.mp4".
package storage

import (
	"path/filepath"
	"time"
)

// SegmentIndexName is the stream manifest written next to video segments.
const SegmentIndexName = "index.m3u8"

// MonthBucket returns the bucket directory name for objects created at t.
func MonthBucket(t time.Time) string {
	return t.Format("200601")
}

// ChunkDir returns the temp directory holding the chunks of one upload.
func ChunkDir(tempDir, userID, fileID string) string {
	return filepath.Join(tempDir, userID+"_"+fileID)
}

// ObjectName returns the collision-free object file name for an upload.
func ObjectName(userID, fileID, suffix string) string {
	return userID + fileID + suffix
}

// ObjectPath resolves a FileEntry.FilePath to an absolute location.
func ObjectPath(dataDir, relPath string) string {
	return filepath.Join(dataDir, "file", filepath.FromSlash(relPath))
}

// SegmentDir returns the directory holding a transcoded video's segments,
// next to the source object.
func SegmentDir(dataDir, relPath string) string {
	abs := ObjectPath(dataDir, relPath)
	return filepath.Join(filepath.Dir(abs), trimSuffix(filepath.Base(abs)))
}

// CoverPath resolves a FileEntry.FileCover to an absolute location.
func CoverPath(dataDir, relCover string) string {
	return filepath.Join(dataDir, "file", filepath.FromSlash(relCover))
}

func trimSuffix(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
