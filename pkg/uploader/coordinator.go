package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"drivebox/pkg/log"
	"drivebox/pkg/models"
	"drivebox/pkg/quota"
	"drivebox/pkg/storage"
	"drivebox/pkg/tree"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Enqueuer hands finalized entries to the post-processing pipeline.
type Enqueuer interface {
	Enqueue(userID, fileID string)
}

// ChunkRequest is one received chunk of a resumable upload. FileID is empty
// on the first chunk of a new upload and echoed back for the rest.
type ChunkRequest struct {
	UserID     string
	FileID     string
	FileName   string
	FilePid    string
	FileMD5    string
	ChunkIndex int
	Chunks     int
	ChunkSize  int64
	Data       io.Reader
}

// Coordinator drives chunked uploads end to end: dedup on the first chunk,
// quota admission per chunk, assembly and commit on the last.
type Coordinator struct {
	engine   *tree.Engine
	store    *tree.Store
	ledger   *quota.Ledger
	pipeline Enqueuer
	tempDir  string
	dataDir  string
}

// NewCoordinator creates an upload coordinator.
func NewCoordinator(engine *tree.Engine, ledger *quota.Ledger, pipeline Enqueuer, tempDir, dataDir string) *Coordinator {
	return &Coordinator{
		engine:   engine,
		store:    engine.Store(),
		ledger:   ledger,
		pipeline: pipeline,
		tempDir:  tempDir,
		dataDir:  dataDir,
	}
}

// PutChunk ingests one chunk. The first chunk attempts an instant transfer
// against an existing object with the same fingerprint; otherwise the chunk
// is reserved against the user's quota and staged, and the final chunk
// assembles, records and commits the file. Any failure on the final chunk
// tears the staged upload down completely.
func (c *Coordinator) PutChunk(ctx context.Context, req *ChunkRequest) (*models.UploadResult, error) {
	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.NewString()
	}

	if req.ChunkIndex == 0 && req.FileMD5 != "" {
		result, matched, err := c.instantTransfer(ctx, req, fileID)
		if err != nil {
			return nil, err
		}
		if matched {
			return result, nil
		}
	}

	if err := c.ledger.Reserve(ctx, req.UserID, fileID, req.ChunkSize); err != nil {
		c.cleanup(req.UserID, fileID)
		return nil, err
	}
	if err := c.writeChunk(req, fileID); err != nil {
		c.cleanup(req.UserID, fileID)
		return nil, err
	}

	if req.ChunkIndex < req.Chunks-1 {
		return &models.UploadResult{FileID: fileID, Status: models.UploadInProgress}, nil
	}
	return c.finalize(ctx, req, fileID)
}

// instantTransfer aliases an existing object when its fingerprint matches.
// The new entry points at the shared payload and goes straight to Using, so
// the pipeline never reprocesses the content.
func (c *Coordinator) instantTransfer(ctx context.Context, req *ChunkRequest, fileID string) (*models.UploadResult, bool, error) {
	match, err := c.store.LookupByMD5(ctx, req.FileMD5)
	if errors.Is(err, tree.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	lock := c.engine.LockUser(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	// No chunks were staged for this upload, so admission happens here
	// rather than through per-chunk reservations.
	if err = c.ledger.Admit(ctx, req.UserID, match.FileSize); err != nil {
		return nil, false, err
	}
	if err = c.ledger.Commit(ctx, req.UserID, match.FileSize); err != nil {
		return nil, false, err
	}

	name, err := c.resolveName(ctx, req.UserID, req.FilePid, req.FileName)
	if err != nil {
		c.rollbackCommit(ctx, req.UserID, match.FileSize)
		return nil, false, err
	}

	now := time.Now()
	entry := &models.FileEntry{
		FileID:         fileID,
		UserID:         req.UserID,
		FilePid:        req.FilePid,
		FileName:       name,
		FolderType:     models.TypeFile,
		FilePath:       match.FilePath,
		FileMD5:        match.FileMD5,
		FileSize:       match.FileSize,
		FileCategory:   match.FileCategory,
		FileType:       match.FileType,
		FileCover:      match.FileCover,
		Status:         models.StatusUsing,
		DelFlag:        models.FlagUsing,
		CreateTime:     now,
		LastUpdateTime: now,
	}
	if err = c.store.Insert(ctx, entry); err != nil {
		c.rollbackCommit(ctx, req.UserID, match.FileSize)
		return nil, false, err
	}

	log.Info().Str("user_id", req.UserID).Str("file_id", fileID).
		Str("md5", req.FileMD5).Str("size", humanize.IBytes(uint64(match.FileSize))).
		Msg("Instant transfer")
	return &models.UploadResult{FileID: fileID, Status: models.UploadSeconded}, true, nil
}

func (c *Coordinator) writeChunk(req *ChunkRequest, fileID string) error {
	chunkDir := storage.ChunkDir(c.tempDir, req.UserID, fileID)
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create chunk dir: %w", ErrStorageError, err)
	}

	// Overwrite by index so a retried chunk is idempotent.
	chunk, err := os.Create(filepath.Join(chunkDir, strconv.Itoa(req.ChunkIndex)))
	if err != nil {
		return fmt.Errorf("%w: failed to create chunk file: %w", ErrStorageError, err)
	}
	if _, err = io.Copy(chunk, req.Data); err != nil {
		_ = chunk.Close()
		return fmt.Errorf("%w: failed to write chunk %d: %w", ErrStorageError, req.ChunkIndex, err)
	}
	if err = chunk.Close(); err != nil {
		return fmt.Errorf("%w: failed to close chunk file: %w", ErrStorageError, err)
	}
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, req *ChunkRequest, fileID string) (*models.UploadResult, error) {
	suffix := models.FileSuffix(req.FileName)
	relPath := storage.MonthBucket(time.Now()) + "/" + storage.ObjectName(req.UserID, fileID, suffix)
	targetPath := storage.ObjectPath(c.dataDir, relPath)
	chunkDir := storage.ChunkDir(c.tempDir, req.UserID, fileID)

	size, err := Merge(chunkDir, targetPath)
	if err != nil {
		c.cleanup(req.UserID, fileID)
		return nil, err
	}

	lock := c.engine.LockUser(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	fileType, category := models.TypeBySuffix(suffix)
	status := models.StatusUsing
	if category == models.CategoryVideo || category == models.CategoryImage {
		status = models.StatusTransfer
	}

	name, err := c.resolveName(ctx, req.UserID, req.FilePid, req.FileName)
	if err != nil {
		c.teardown(req.UserID, fileID, targetPath)
		return nil, err
	}

	now := time.Now()
	entry := &models.FileEntry{
		FileID:         fileID,
		UserID:         req.UserID,
		FilePid:        req.FilePid,
		FileName:       name,
		FolderType:     models.TypeFile,
		FilePath:       relPath,
		FileMD5:        req.FileMD5,
		FileSize:       size,
		FileCategory:   category,
		FileType:       fileType,
		Status:         status,
		DelFlag:        models.FlagUsing,
		CreateTime:     now,
		LastUpdateTime: now,
	}
	if err = c.store.Insert(ctx, entry); err != nil {
		c.teardown(req.UserID, fileID, targetPath)
		return nil, err
	}

	if err = c.ledger.Commit(ctx, req.UserID, size); err != nil {
		flag := models.FlagUsing
		_ = c.store.DeleteByIDs(ctx, req.UserID, []string{fileID}, &flag)
		c.teardown(req.UserID, fileID, targetPath)
		return nil, err
	}
	if err = c.ledger.ReleaseTemp(req.UserID, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to release temp counter")
	}

	// Enqueue only after the entry is durable so the worker always finds it.
	if status == models.StatusTransfer {
		c.pipeline.Enqueue(req.UserID, fileID)
	}

	log.Info().Str("user_id", req.UserID).Str("file_id", fileID).
		Str("name", name).Str("size", humanize.IBytes(uint64(size))).
		Int("chunks", req.Chunks).Msg("Upload finished")
	return &models.UploadResult{FileID: fileID, Status: models.UploadFinished}, nil
}

func (c *Coordinator) resolveName(ctx context.Context, userID, pid, name string) (string, error) {
	count, err := c.store.CountByName(ctx, userID, pid, name, "")
	if err != nil {
		return "", err
	}
	if count == 0 {
		return name, nil
	}
	return tree.AutoRename(name), nil
}

// cleanup abandons an in-flight upload: staged chunks and the temp counter go.
func (c *Coordinator) cleanup(userID, fileID string) {
	if err := os.RemoveAll(storage.ChunkDir(c.tempDir, userID, fileID)); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to remove chunk dir")
	}
	if err := c.ledger.ReleaseTemp(userID, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to release temp counter")
	}
}

// teardown additionally removes an assembled object that will not be recorded.
func (c *Coordinator) teardown(userID, fileID, targetPath string) {
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", targetPath).Msg("Failed to remove assembled object")
	}
	c.cleanup(userID, fileID)
}

func (c *Coordinator) rollbackCommit(ctx context.Context, userID string, size int64) {
	if err := c.ledger.Commit(ctx, userID, -size); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to roll back space commit")
	}
}
