package uploader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Merge assembles the chunks in chunkDir into a single file at targetPath and
// returns the total byte count. Chunks are read strictly in index order 0..N-1
// where N is the number of entries present; any gap is ErrIncompleteChunks and
// the partially written target is removed. On success the chunk directory is
// deleted.
func Merge(chunkDir, targetPath string) (int64, error) {
	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read chunk dir: %w", ErrStorageError, err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: no chunks in %s", ErrIncompleteChunks, chunkDir)
	}

	if err = os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return 0, fmt.Errorf("%w: failed to create target dir: %w", ErrStorageError, err)
	}
	target, err := os.Create(targetPath)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create target: %w", ErrStorageError, err)
	}

	var total int64
	for index := 0; index < len(entries); index++ {
		chunk, openErr := os.Open(filepath.Join(chunkDir, strconv.Itoa(index)))
		if openErr != nil {
			_ = target.Close()
			_ = os.Remove(targetPath)
			return 0, fmt.Errorf("%w: missing chunk %d of %d", ErrIncompleteChunks, index, len(entries))
		}
		written, copyErr := io.Copy(target, chunk)
		_ = chunk.Close()
		if copyErr != nil {
			_ = target.Close()
			_ = os.Remove(targetPath)
			return 0, fmt.Errorf("%w: failed to append chunk %d: %w", ErrStorageError, index, copyErr)
		}
		total += written
	}

	if err = target.Close(); err != nil {
		_ = os.Remove(targetPath)
		return 0, fmt.Errorf("%w: failed to close target: %w", ErrStorageError, err)
	}
	if err = os.RemoveAll(chunkDir); err != nil {
		return 0, fmt.Errorf("%w: failed to remove chunk dir: %w", ErrStorageError, err)
	}
	return total, nil
}
