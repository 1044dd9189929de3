package tree

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"drivebox/pkg/models"
)

// Engine implements the tree mutations on top of the store. All operations
// that touch a user's tree are serialized through a per-user mutex so that
// cascades and renames never interleave with each other.
type Engine struct {
	store *Store

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewEngine creates a tree engine over the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store:     store,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// Store returns the underlying metadata store.
func (e *Engine) Store() *Store {
	return e.store
}

// LockUser returns the mutex serializing mutations for a user, creating it on
// first use. Callers that compose engine operations with external work (quota
// commits) lock through here as well.
func (e *Engine) LockUser(userID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, exists := e.userLocks[userID]
	if !exists {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}

const renameSuffixLen = 5

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomSuffix() string {
	var b strings.Builder
	for i := 0; i < renameSuffixLen; i++ {
		b.WriteByte(alnum[rand.Intn(len(alnum))])
	}
	return b.String()
}

// AutoRename derives a sibling-unique variant of name by appending a short
// random tag before the suffix. Folders have no suffix so the tag goes last.
func AutoRename(name string) string {
	suffix := models.FileSuffix(name)
	return models.NameWithoutSuffix(name) + "_" + randomSuffix() + suffix
}

// descendantFolders walks the subtree below the given folder roots and
// returns their folder ids plus every descendant folder id, following only
// entries with the given delete flag (nil matches any state). A batch may
// select a folder together with one of its own subfolders; the overlap is
// deduplicated. Every entry has a single parent, so a non-selected id
// reappearing on the walk means the stored tree has a cycle and the walk
// aborts.
func (e *Engine) descendantFolders(ctx context.Context, userID string, roots []*models.FileEntry, flag *models.DelFlag) ([]string, error) {
	selected := make(map[string]bool)
	var worklist []string
	for _, root := range roots {
		if !root.IsFolder() || selected[root.FileID] {
			continue
		}
		selected[root.FileID] = true
		worklist = append(worklist, root.FileID)
	}

	visited := make(map[string]bool)
	var result []string
	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[id] {
			if selected[id] {
				continue
			}
			return nil, fmt.Errorf("%w: folder %s", ErrTreeCycle, id)
		}
		visited[id] = true
		result = append(result, id)

		children, err := e.store.ListChildFolders(ctx, userID, id, flag)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			worklist = append(worklist, child.FileID)
		}
	}
	return result, nil
}
