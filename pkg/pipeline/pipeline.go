// Package pipeline post-processes committed uploads: videos are remuxed and
// segmented for streaming with a cover frame extracted, images get a
// thumbnail. Work happens off the upload path; a processing failure marks
// the entry TransferFail and never propagates to the uploader.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"drivebox/pkg/log"
	"drivebox/pkg/models"
	"drivebox/pkg/storage"
	"drivebox/pkg/tree"
)

type task struct {
	userID string
	fileID string
}

// Config carries the pipeline tuning knobs.
type Config struct {
	DataDir        string
	Workers        int
	QueueSize      int
	SegmentSeconds int
	ThumbnailWidth int
}

// Pipeline is the async post-processing worker pool. Tasks carry only ids;
// the entry is re-read fresh so a purge or state change that happened while
// the task sat in the queue is observed.
type Pipeline struct {
	store  *tree.Store
	runner Runner
	cfg    Config

	queue chan task
	wg    sync.WaitGroup
}

// New creates a pipeline over the given store and codec runner.
func New(store *tree.Store, runner Runner, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Pipeline{
		store:  store,
		runner: runner,
		cfg:    cfg,
		queue:  make(chan task, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop closes
// the queue.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	log.Info().Int("workers", p.cfg.Workers).Msg("Pipeline started")
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
	log.Info().Msg("Pipeline stopped")
}

// Enqueue schedules post-processing for an entry. Callers enqueue only after
// the entry row is durable.
func (p *Pipeline) Enqueue(userID, fileID string) {
	p.queue <- task{userID: userID, fileID: fileID}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		}
	}
}

// process transforms one entry and finalizes its status. The entry leaves
// Transfer exactly once, to Using on success or TransferFail otherwise; the
// transition is CAS-guarded so a concurrently purged or re-created entry is
// left alone.
func (p *Pipeline) process(ctx context.Context, t task) {
	entry, err := p.store.Get(ctx, t.fileID, t.userID)
	if err != nil {
		log.Warn().Err(err).Str("file_id", t.fileID).Msg("Pipeline entry gone before processing")
		return
	}
	if entry.Status != models.StatusTransfer {
		return
	}

	cover, err := p.transform(ctx, entry)
	status := models.StatusUsing
	if err != nil {
		status = models.StatusTransferFail
		cover = ""
		log.Error().Err(err).Str("file_id", t.fileID).Str("name", entry.FileName).Msg("Post-processing failed")
	}

	size := entry.FileSize
	if info, statErr := os.Stat(storage.ObjectPath(p.cfg.DataDir, entry.FilePath)); statErr == nil {
		size = info.Size()
	}

	updated, err := p.store.FinalizeStatus(ctx, t.fileID, t.userID, size, cover, status, models.StatusTransfer)
	if err != nil {
		log.Error().Err(err).Str("file_id", t.fileID).Msg("Failed to finalize entry status")
		return
	}
	if !updated {
		log.Warn().Str("file_id", t.fileID).Msg("Entry left Transfer state while processing")
		return
	}
	log.Info().Str("file_id", t.fileID).Str("name", entry.FileName).
		Int("status", int(status)).Msg("Post-processing finished")
}

// transform runs the category-specific work and returns the cover path
// relative to the object root.
func (p *Pipeline) transform(ctx context.Context, entry *models.FileEntry) (string, error) {
	switch entry.FileCategory {
	case models.CategoryVideo:
		return p.transformVideo(ctx, entry)
	case models.CategoryImage:
		return p.transformImage(ctx, entry)
	default:
		return "", nil
	}
}

func (p *Pipeline) transformVideo(ctx context.Context, entry *models.FileEntry) (string, error) {
	src := storage.ObjectPath(p.cfg.DataDir, entry.FilePath)
	segDir := storage.SegmentDir(p.cfg.DataDir, entry.FilePath)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create segment dir: %w", err)
	}

	tsPath := filepath.Join(segDir, "index.ts")
	if err := p.runner.RemuxToTS(ctx, src, tsPath); err != nil {
		return "", err
	}
	indexPath := filepath.Join(segDir, storage.SegmentIndexName)
	if err := p.runner.Segment(ctx, tsPath, indexPath, segDir, entry.FileID, p.cfg.SegmentSeconds); err != nil {
		return "", err
	}
	// The intermediate stream is fully covered by the segments.
	if err := os.Remove(tsPath); err != nil {
		log.Warn().Err(err).Str("path", tsPath).Msg("Failed to remove intermediate stream")
	}

	relCover := strings.TrimSuffix(entry.FilePath, filepath.Ext(entry.FilePath)) + "_.png"
	if err := p.runner.CoverFrame(ctx, src, storage.CoverPath(p.cfg.DataDir, relCover), p.cfg.ThumbnailWidth); err != nil {
		return "", err
	}
	return relCover, nil
}

func (p *Pipeline) transformImage(ctx context.Context, entry *models.FileEntry) (string, error) {
	src := storage.ObjectPath(p.cfg.DataDir, entry.FilePath)
	ext := filepath.Ext(entry.FilePath)
	relCover := strings.TrimSuffix(entry.FilePath, ext) + "_" + ext
	dst := storage.CoverPath(p.cfg.DataDir, relCover)

	// Sources already at or below thumbnail width serve as their own cover.
	width, err := imageWidth(src)
	if err == nil && width <= p.cfg.ThumbnailWidth {
		if err = copyFile(src, dst); err != nil {
			return "", err
		}
		return relCover, nil
	}

	if err = p.runner.Thumbnail(ctx, src, dst, p.cfg.ThumbnailWidth); err != nil {
		return "", err
	}
	return relCover, nil
}

func imageWidth(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = file.Close() }()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, err
	}
	return cfg.Width, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
