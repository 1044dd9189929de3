package tree

import (
	"context"
	"fmt"
	"time"

	"drivebox/pkg/log"
	"drivebox/pkg/models"

	"github.com/google/uuid"
)

// Move reparents the selected live entries under targetPid. The target must
// be the root or a live folder and may not be one of the moved entries.
// Name collisions with live children of the target are auto-renamed so a
// move never fails halfway through.
func (e *Engine) Move(ctx context.Context, userID string, fileIDs []string, targetPid string) error {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	for _, id := range fileIDs {
		if id == targetPid {
			return fmt.Errorf("%w: cannot move a folder into itself", ErrInvalidState)
		}
	}

	if targetPid != models.RootFolderID {
		target, err := e.store.Get(ctx, targetPid, userID)
		if err != nil {
			return err
		}
		if !target.IsFolder() || target.DelFlag != models.FlagUsing {
			return fmt.Errorf("%w: move target is not a live folder", ErrInvalidState)
		}
	}

	flag := models.FlagUsing
	selected, err := e.store.ListByIDs(ctx, userID, fileIDs, &flag)
	if err != nil {
		return err
	}

	children, err := e.store.ListChildren(ctx, userID, targetPid, models.FlagUsing)
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(children))
	for _, child := range children {
		taken[child.FileName] = true
	}

	for _, entry := range selected {
		name := entry.FileName
		if taken[name] {
			name = AutoRename(name)
		}
		taken[name] = true

		rename := ""
		if name != entry.FileName {
			rename = name
		}
		if err := e.store.UpdateMeta(ctx, entry.FileID, userID, rename, targetPid); err != nil {
			return err
		}
	}
	return nil
}

// Rename gives an entry a new name. For files the stored suffix is kept so a
// rename cannot change the content type. Unlike move and restore, an explicit
// rename surfaces a collision as ErrNameExists instead of auto-resolving it.
func (e *Engine) Rename(ctx context.Context, userID, fileID, newName string) (*models.FileEntry, error) {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.store.Get(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}
	if !entry.IsFolder() {
		newName += models.FileSuffix(entry.FileName)
	}

	count, err := e.store.CountByName(ctx, userID, entry.FilePid, newName, fileID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNameExists, newName)
	}

	if err := e.store.UpdateMeta(ctx, fileID, userID, newName, ""); err != nil {
		return nil, err
	}
	entry.FileName = newName
	entry.LastUpdateTime = time.Now()
	return entry, nil
}

// NewFolder creates a folder under pid. A live sibling with the same name is
// ErrNameExists.
func (e *Engine) NewFolder(ctx context.Context, userID, pid, name string) (*models.FileEntry, error) {
	lock := e.LockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	count, err := e.store.CountByName(ctx, userID, pid, name, "")
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNameExists, name)
	}

	now := time.Now()
	entry := &models.FileEntry{
		FileID:         uuid.NewString(),
		UserID:         userID,
		FilePid:        pid,
		FileName:       name,
		FolderType:     models.TypeFolder,
		Status:         models.StatusUsing,
		DelFlag:        models.FlagUsing,
		CreateTime:     now,
		LastUpdateTime: now,
	}
	if err := e.store.Insert(ctx, entry); err != nil {
		return nil, err
	}

	log.Debug().Str("user_id", userID).Str("file_id", entry.FileID).Str("name", name).Msg("Created folder")
	return entry, nil
}

// DeepCopy clones the selected entries of srcUserID, subtrees included, into
// dstUserID's tree under dstPid. Every clone gets a fresh id and timestamps;
// file payloads are shared by path and fingerprint, not copied. The returned
// total is the byte size of all cloned files so the caller can settle the
// destination user's quota.
func (e *Engine) DeepCopy(ctx context.Context, srcUserID string, srcIDs []string, dstUserID, dstPid string) (int64, error) {
	lock := e.LockUser(dstUserID)
	lock.Lock()
	defer lock.Unlock()

	flag := models.FlagUsing
	selected, err := e.store.ListByIDs(ctx, srcUserID, srcIDs, &flag)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		return 0, nil
	}

	taken := make(map[string]bool)
	dstChildren, err := e.store.ListChildren(ctx, dstUserID, dstPid, models.FlagUsing)
	if err != nil {
		return 0, err
	}
	for _, child := range dstChildren {
		taken[child.FileName] = true
	}

	type copyItem struct {
		src    *models.FileEntry
		dstPid string
		rename bool
	}
	roots := make(map[string]bool, len(selected))
	var worklist []copyItem
	for _, entry := range selected {
		if roots[entry.FileID] {
			continue
		}
		roots[entry.FileID] = true
		worklist = append(worklist, copyItem{src: entry, dstPid: dstPid, rename: taken[entry.FileName]})
		taken[entry.FileName] = true
	}

	visited := make(map[string]bool)
	now := time.Now()
	var clones []*models.FileEntry
	var totalBytes int64

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[item.src.FileID] {
			// A selected entry reappearing inside another selected subtree
			// is copied once; a non-selected revisit is a stored cycle.
			if roots[item.src.FileID] {
				continue
			}
			return 0, fmt.Errorf("%w: folder %s", ErrTreeCycle, item.src.FileID)
		}
		visited[item.src.FileID] = true

		clone := *item.src
		clone.FileID = uuid.NewString()
		clone.UserID = dstUserID
		clone.FilePid = item.dstPid
		clone.CreateTime = now
		clone.LastUpdateTime = now
		clone.RecoveryTime = nil
		if item.rename {
			clone.FileName = AutoRename(clone.FileName)
		}
		clones = append(clones, &clone)
		if !clone.IsFolder() {
			totalBytes += clone.FileSize
		}

		if item.src.IsFolder() {
			children, listErr := e.store.ListChildren(ctx, srcUserID, item.src.FileID, models.FlagUsing)
			if listErr != nil {
				return 0, listErr
			}
			for _, child := range children {
				worklist = append(worklist, copyItem{src: child, dstPid: clone.FileID})
			}
		}
	}

	if err := e.store.InsertBatch(ctx, clones); err != nil {
		return 0, err
	}

	log.Info().Str("src_user", srcUserID).Str("dst_user", dstUserID).
		Int("entries", len(clones)).Int64("bytes", totalBytes).Msg("Copied shared entries")
	return totalBytes, nil
}
