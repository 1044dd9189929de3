// Package quota arbitrates per-user storage space. The durable counter in
// the users table is the single source of truth; a TTL cache mirrors it for
// cheap admission checks and carries the in-flight temp-chunk counters. The
// cache expiring is harmless: reads fall through to the durable counter.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"drivebox/pkg/cache"
	"drivebox/pkg/log"
	"drivebox/pkg/models"
	"drivebox/pkg/tree"

	"github.com/dustin/go-humanize"
)

const (
	spaceTTL = 24 * time.Hour
	// Temp counters expire on their own so an abandoned upload cannot pin
	// reserved space forever.
	tempTTL = time.Hour
)

func spaceKey(userID string) string {
	return "space:" + userID
}

func tempKey(userID, fileID string) string {
	return "temp:" + userID + ":" + fileID
}

// Ledger tracks used, reserved and total space per user.
type Ledger struct {
	store        *tree.Store
	cache        *cache.Cache
	defaultTotal int64

	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewLedger creates a ledger. defaultTotal is the allotment granted to users
// seen for the first time.
func NewLedger(store *tree.Store, c *cache.Cache, defaultTotal int64) *Ledger {
	return &Ledger{
		store:        store,
		cache:        c,
		defaultTotal: defaultTotal,
		userLocks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockUser(userID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	lock, exists := l.userLocks[userID]
	if !exists {
		lock = &sync.Mutex{}
		l.userLocks[userID] = lock
	}
	return lock
}

// EnsureUser creates the accounting row for a user with the default
// allotment if it does not exist yet.
func (l *Ledger) EnsureUser(ctx context.Context, userID string) error {
	return l.store.EnsureUser(ctx, userID, l.defaultTotal)
}

// Usage returns a user's space snapshot. Used space is served from the cache
// mirror; on a miss the durable counter is re-cached as is. Only Reset may
// rewrite the counter: folding the file aggregate in here could double-count
// an upload whose entry is inserted but not yet committed.
func (l *Ledger) Usage(ctx context.Context, userID string) (*models.UserSpace, error) {
	space, err := l.store.UserSpace(ctx, userID)
	if errors.Is(err, tree.ErrNotFound) {
		if err = l.EnsureUser(ctx, userID); err != nil {
			return nil, err
		}
		space, err = l.store.UserSpace(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	used, found, err := l.cache.GetInt64(spaceKey(userID))
	if err != nil {
		return nil, err
	}
	if !found {
		used = space.UseSpace
		if err = l.cache.SetInt64(spaceKey(userID), used, spaceTTL); err != nil {
			return nil, err
		}
	}
	space.UseSpace = used
	return space, nil
}

// TempSize returns the bytes reserved by the in-flight upload of fileID.
func (l *Ledger) TempSize(userID, fileID string) (int64, error) {
	size, _, err := l.cache.GetInt64(tempKey(userID, fileID))
	return size, err
}

// Reserve admits delta more bytes for the in-flight upload of fileID and
// bumps its temp counter. The check is used + already-reserved + delta
// against total; failing it is ErrQuotaExceeded.
func (l *Ledger) Reserve(ctx context.Context, userID, fileID string, delta int64) error {
	lock := l.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	space, err := l.Usage(ctx, userID)
	if err != nil {
		return err
	}
	temp, err := l.TempSize(userID, fileID)
	if err != nil {
		return err
	}
	if space.UseSpace+temp+delta > space.TotalSpace {
		return fmt.Errorf("%w: used %s + pending %s + chunk %s > total %s",
			ErrQuotaExceeded,
			humanize.IBytes(uint64(space.UseSpace)), humanize.IBytes(uint64(temp)),
			humanize.IBytes(uint64(delta)), humanize.IBytes(uint64(space.TotalSpace)))
	}
	return l.cache.SetInt64(tempKey(userID, fileID), temp+delta, tempTTL)
}

// Admit checks whether delta more bytes fit without reserving anything. Used
// by dedup commits where no temp chunks exist.
func (l *Ledger) Admit(ctx context.Context, userID string, delta int64) error {
	space, err := l.Usage(ctx, userID)
	if err != nil {
		return err
	}
	if space.UseSpace+delta > space.TotalSpace {
		return fmt.Errorf("%w: used %s + %s > total %s",
			ErrQuotaExceeded,
			humanize.IBytes(uint64(space.UseSpace)), humanize.IBytes(uint64(delta)),
			humanize.IBytes(uint64(space.TotalSpace)))
	}
	return nil
}

// ReleaseTemp drops the temp counter for an upload, after a commit or a
// failure cleanup.
func (l *Ledger) ReleaseTemp(userID, fileID string) error {
	return l.cache.Delete(tempKey(userID, fileID))
}

// Commit folds delta into the durable counter. The conditional update is the
// real arbiter: concurrent commits that would together exceed the total
// cannot both pass it. The cache mirror is refreshed afterwards.
func (l *Ledger) Commit(ctx context.Context, userID string, delta int64) error {
	lock := l.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	admitted, err := l.store.AddUseSpaceConditional(ctx, userID, delta)
	if err != nil {
		return err
	}
	if !admitted {
		return fmt.Errorf("%w: commit of %s rejected", ErrQuotaExceeded, humanize.IBytes(uint64(delta)))
	}

	space, err := l.store.UserSpace(ctx, userID)
	if err != nil {
		return err
	}
	if err = l.cache.SetInt64(spaceKey(userID), space.UseSpace, spaceTTL); err != nil {
		return err
	}

	log.Debug().Str("user_id", userID).Int64("delta", delta).
		Str("used", humanize.IBytes(uint64(space.UseSpace))).Msg("Committed space")
	return nil
}

// Reset recomputes a user's used space from the file entry aggregate and
// overwrites both the durable counter and the cache mirror. Called after
// purges and allotment changes.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	lock := l.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	used, err := l.store.UseSpaceAggregate(ctx, userID)
	if err != nil {
		return err
	}
	if err = l.store.SetUseSpace(ctx, userID, used); err != nil {
		return err
	}
	return l.cache.SetInt64(spaceKey(userID), used, spaceTTL)
}

// SetTotal changes a user's allotment and refreshes the mirror.
func (l *Ledger) SetTotal(ctx context.Context, userID string, total int64) error {
	if err := l.store.SetTotalSpace(ctx, userID, total); err != nil {
		return err
	}
	return l.Reset(ctx, userID)
}
