// Package tasks runs the background housekeeping of the drive: expiring the
// recycle bin and sweeping abandoned upload chunks.
package tasks

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"drivebox/pkg/log"
	"drivebox/pkg/quota"
	"drivebox/pkg/tree"
)

// Cleaner periodically purges recycled entries past their retention window
// and removes chunk directories of uploads that never finished.
type Cleaner struct {
	engine    *tree.Engine
	ledger    *quota.Ledger
	tempDir   string
	retention time.Duration
	interval  time.Duration
}

// NewCleaner creates a cleaner. retention is how long recycled entries and
// abandoned chunks live; interval is the sweep period.
func NewCleaner(engine *tree.Engine, ledger *quota.Ledger, tempDir string, retention, interval time.Duration) *Cleaner {
	return &Cleaner{
		engine:    engine,
		ledger:    ledger,
		tempDir:   tempDir,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps on a ticker until ctx is cancelled. It blocks, so callers run
// it in its own goroutine.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.interval).Dur("retention", c.retention).Msg("Cleaner started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Cleaner stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one housekeeping pass.
func (c *Cleaner) Sweep(ctx context.Context) {
	c.sweepRecycle(ctx)
	c.sweepChunks()
}

func (c *Cleaner) sweepRecycle(ctx context.Context) {
	expired, err := c.engine.ExpiredRecycle(ctx, c.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired recycle entries")
		return
	}
	if len(expired) == 0 {
		return
	}

	byUser := make(map[string][]string)
	for _, entry := range expired {
		byUser[entry.UserID] = append(byUser[entry.UserID], entry.FileID)
	}
	for userID, fileIDs := range byUser {
		if err := c.engine.Purge(ctx, userID, fileIDs, false); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to purge expired entries")
			continue
		}
		if err := c.ledger.Reset(ctx, userID); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to reset ledger after purge")
		}
		log.Info().Str("user_id", userID).Int("entries", len(fileIDs)).Msg("Expired recycle entries purged")
	}
}

// sweepChunks removes chunk directories untouched for longer than the
// retention window. A live upload keeps rewriting its directory, so an old
// modification time means the client gave up.
func (c *Cleaner) sweepChunks() {
	entries, err := os.ReadDir(c.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("dir", c.tempDir).Msg("Failed to read temp dir")
		}
		return
	}

	cutoff := time.Now().Add(-c.retention)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove stale chunk dir")
			continue
		}
		log.Info().Str("path", path).Msg("Removed stale chunk dir")
	}
}
