package tree

import (
	"context"
	"time"

	"drivebox/pkg/log"
	"drivebox/pkg/models"
)

// Recycle moves the selected live entries to the recycle bin. The selected
// entries themselves become Recycle with a recovery timestamp; everything
// below a selected folder is hidden as Del so the bin only lists what the
// user actually deleted.
func (e *Engine) Recycle(ctx context.Context, userID string, fileIDs []string) error {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	flag := models.FlagUsing
	selected, err := e.store.ListByIDs(ctx, userID, fileIDs, &flag)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	pids, err := e.descendantFolders(ctx, userID, selected, &flag)
	if err != nil {
		return err
	}
	if err := e.store.UpdateDelFlagByPids(ctx, userID, pids, models.FlagDel, models.FlagUsing); err != nil {
		return err
	}

	selectedIDs := make([]string, 0, len(selected))
	for _, entry := range selected {
		selectedIDs = append(selectedIDs, entry.FileID)
	}
	if err := e.store.UpdateDelFlagByIDs(ctx, userID, selectedIDs, models.FlagRecycle, models.FlagUsing, ""); err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Int("entries", len(selectedIDs)).Msg("Recycled entries")
	return nil
}

// Restore brings recycled entries back. The selected entries return to Using
// under the root folder, auto-renamed when a live root sibling took their
// name in the meantime; their hidden descendants become Using again with
// their parents intact, so the subtree shape survives the round trip.
func (e *Engine) Restore(ctx context.Context, userID string, fileIDs []string) error {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	flag := models.FlagRecycle
	selected, err := e.store.ListByIDs(ctx, userID, fileIDs, &flag)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	del := models.FlagDel
	pids, err := e.descendantFolders(ctx, userID, selected, &del)
	if err != nil {
		return err
	}
	if err := e.store.UpdateDelFlagByPids(ctx, userID, pids, models.FlagUsing, models.FlagDel); err != nil {
		return err
	}

	rootChildren, err := e.store.ListChildren(ctx, userID, models.RootFolderID, models.FlagUsing)
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(rootChildren))
	for _, child := range rootChildren {
		taken[child.FileName] = true
	}

	selectedIDs := make([]string, 0, len(selected))
	for _, entry := range selected {
		selectedIDs = append(selectedIDs, entry.FileID)
		name := entry.FileName
		if taken[name] {
			name = AutoRename(name)
			if err := e.store.UpdateMeta(ctx, entry.FileID, userID, name, ""); err != nil {
				return err
			}
		}
		taken[name] = true
	}
	if err := e.store.UpdateDelFlagByIDs(ctx, userID, selectedIDs, models.FlagUsing, models.FlagRecycle, models.RootFolderID); err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Int("entries", len(selectedIDs)).Msg("Restored entries")
	return nil
}

// Purge hard-deletes recycled entries and their hidden descendants. With
// adminOverride the flag guards are skipped and any selected entry goes,
// live or not. Physical payloads are left alone: objects are immutable and
// may be aliased by deduplicated entries of other users.
//
// The caller owns quota reconciliation and must reset the user's ledger
// after a successful purge.
func (e *Engine) Purge(ctx context.Context, userID string, fileIDs []string, adminOverride bool) error {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	// Descendants of a recycled folder carry the Del flag, so the walk
	// follows Del below the selection. The admin path walks every state:
	// it may be handed live entries whose subtrees are still Using.
	var selectedFlag, cascadeFlag, walkFlag *models.DelFlag
	if !adminOverride {
		recycle, del := models.FlagRecycle, models.FlagDel
		selectedFlag, cascadeFlag, walkFlag = &recycle, &del, &del
	}

	selected, err := e.store.ListByIDs(ctx, userID, fileIDs, selectedFlag)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	pids, err := e.descendantFolders(ctx, userID, selected, walkFlag)
	if err != nil {
		return err
	}
	if err := e.store.DeleteByPids(ctx, userID, pids, cascadeFlag); err != nil {
		return err
	}

	selectedIDs := make([]string, 0, len(selected))
	for _, entry := range selected {
		selectedIDs = append(selectedIDs, entry.FileID)
	}
	if err := e.store.DeleteByIDs(ctx, userID, selectedIDs, selectedFlag); err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Int("entries", len(selectedIDs)).Bool("admin", adminOverride).Msg("Purged entries")
	return nil
}

// ExpiredRecycle lists recycled entries older than the retention window,
// for the maintenance sweep.
func (e *Engine) ExpiredRecycle(ctx context.Context, retention time.Duration) ([]*models.FileEntry, error) {
	return e.store.ExpiredRecycle(ctx, time.Now().Add(-retention))
}
