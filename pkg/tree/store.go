package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"drivebox/pkg/models"

	_ "modernc.org/sqlite"
)

// Store manages file entry and user accounting metadata in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new metadata store with the given database path.
func NewStore(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	ctx := context.Background()

	// Enable foreign keys
	if _, err := database.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %w", ErrDatabaseError, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}

	store := &Store{db: database}
	if err := store.Initialize(); err != nil {
		_ = database.Close()
		return nil, err
	}

	return store, nil
}

// Initialize creates the database schema.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(context.Background(), Schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const entryColumns = `file_id, user_id, file_pid, file_name, folder_type, file_path, file_md5,
	file_size, file_category, file_type, file_cover, status, del_flag,
	create_time, last_update_time, recovery_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.FileEntry, error) {
	var (
		entry    models.FileEntry
		path     sql.NullString
		md5      sql.NullString
		cover    sql.NullString
		recovery sql.NullTime
	)
	err := row.Scan(
		&entry.FileID, &entry.UserID, &entry.FilePid, &entry.FileName, &entry.FolderType,
		&path, &md5, &entry.FileSize, &entry.FileCategory, &entry.FileType, &cover,
		&entry.Status, &entry.DelFlag, &entry.CreateTime, &entry.LastUpdateTime, &recovery,
	)
	if err != nil {
		return nil, err
	}
	entry.FilePath = path.String
	entry.FileMD5 = md5.String
	entry.FileCover = cover.String
	if recovery.Valid {
		t := recovery.Time
		entry.RecoveryTime = &t
	}
	return &entry, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Insert stores a single file entry.
func (s *Store) Insert(ctx context.Context, entry *models.FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(ctx, s.db, entry)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, entry *models.FileEntry) error {
	var recovery any
	if entry.RecoveryTime != nil {
		recovery = *entry.RecoveryTime
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO file_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.FileID, entry.UserID, entry.FilePid, entry.FileName, entry.FolderType,
		nullable(entry.FilePath), nullable(entry.FileMD5), entry.FileSize,
		entry.FileCategory, entry.FileType, nullable(entry.FileCover),
		entry.Status, entry.DelFlag, entry.CreateTime, entry.LastUpdateTime, recovery,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// InsertBatch stores multiple file entries in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, entries []*models.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	for _, entry := range entries {
		if err := s.insert(ctx, tx, entry); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// Get retrieves an entry by file id and owner.
func (s *Store) Get(ctx context.Context, fileID, userID string) (*models.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM file_entries WHERE file_id = ? AND user_id = ?`,
		fileID, userID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return entry, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*models.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.FileEntry
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, scanErr)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return entries, nil
}

// ListChildren lists entries under a parent with the given delete flag.
func (s *Store) ListChildren(ctx context.Context, userID, pid string, flag models.DelFlag) ([]*models.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM file_entries
		 WHERE user_id = ? AND file_pid = ? AND del_flag = ?
		 ORDER BY folder_type DESC, last_update_time DESC`,
		userID, pid, flag,
	)
}

// ListChildFolders lists folder entries under a parent, optionally restricted
// to a delete flag. A nil flag matches any state.
func (s *Store) ListChildFolders(ctx context.Context, userID, pid string, flag *models.DelFlag) ([]*models.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM file_entries
		 WHERE user_id = ? AND file_pid = ? AND folder_type = ?`
	args := []any{userID, pid, models.TypeFolder}
	if flag != nil {
		query += ` AND del_flag = ?`
		args = append(args, *flag)
	}
	return s.queryEntries(ctx, query, args...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ListByIDs lists entries by id, optionally restricted to a delete flag.
func (s *Store) ListByIDs(ctx context.Context, userID string, fileIDs []string, flag *models.DelFlag) ([]*models.FileEntry, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM file_entries WHERE user_id = ? AND file_id IN (` + placeholders(len(fileIDs)) + `)`
	args := []any{userID}
	for _, id := range fileIDs {
		args = append(args, id)
	}
	if flag != nil {
		query += ` AND del_flag = ?`
		args = append(args, *flag)
	}
	return s.queryEntries(ctx, query, args...)
}

// CountByName counts live siblings with the given name, excluding excludeID if set.
func (s *Store) CountByName(ctx context.Context, userID, pid, name, excludeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT COUNT(*) FROM file_entries
	          WHERE user_id = ? AND file_pid = ? AND file_name = ? AND del_flag = ?`
	args := []any{userID, pid, name, models.FlagUsing}
	if excludeID != "" {
		query += ` AND file_id != ?`
		args = append(args, excludeID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return count, nil
}

// UpdateMeta updates the name and/or parent of an entry. Empty values are kept.
func (s *Store) UpdateMeta(ctx context.Context, fileID, userID, name, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"last_update_time = ?"}
	args := []any{time.Now()}
	if name != "" {
		sets = append(sets, "file_name = ?")
		args = append(args, name)
	}
	if pid != "" {
		sets = append(sets, "file_pid = ?")
		args = append(args, pid)
	}
	args = append(args, fileID, userID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE file_entries SET `+strings.Join(sets, ", ")+` WHERE file_id = ? AND user_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeStatus transitions an entry's transcoding status guarded by the old
// status, recording the observed size and cover path. It reports whether the
// transition happened; a false result means the entry was gone or no longer in
// oldStatus, e.g. it was purged while the pipeline ran.
func (s *Store) FinalizeStatus(ctx context.Context, fileID, userID string, size int64, cover string, newStatus, oldStatus models.FileStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE file_entries SET status = ?, file_size = ?, file_cover = ?, last_update_time = ?
		 WHERE file_id = ? AND user_id = ? AND status = ?`,
		newStatus, size, nullable(cover), time.Now(), fileID, userID, oldStatus,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return affected > 0, nil
}

// UpdateDelFlagByPids flips the delete flag of all entries whose parent is in
// pids and whose current flag matches oldFlag.
func (s *Store) UpdateDelFlagByPids(ctx context.Context, userID string, pids []string, newFlag, oldFlag models.DelFlag) error {
	if len(pids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := []any{newFlag, time.Now(), userID}
	for _, pid := range pids {
		args = append(args, pid)
	}
	args = append(args, oldFlag)

	_, err := s.db.ExecContext(ctx,
		`UPDATE file_entries SET del_flag = ?, last_update_time = ?
		 WHERE user_id = ? AND file_pid IN (`+placeholders(len(pids))+`) AND del_flag = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// UpdateDelFlagByIDs flips the delete flag of the given entries, guarded by
// oldFlag. Recycled entries get a recovery timestamp; restored entries are
// reparented to newPid when it is non-empty.
func (s *Store) UpdateDelFlagByIDs(ctx context.Context, userID string, fileIDs []string, newFlag, oldFlag models.DelFlag, newPid string) error {
	if len(fileIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"del_flag = ?", "last_update_time = ?"}
	args := []any{newFlag, time.Now()}
	if newFlag == models.FlagRecycle {
		sets = append(sets, "recovery_time = ?")
		args = append(args, time.Now())
	}
	if newPid != "" {
		sets = append(sets, "file_pid = ?")
		args = append(args, newPid)
	}
	args = append(args, userID)
	for _, id := range fileIDs {
		args = append(args, id)
	}
	args = append(args, oldFlag)

	_, err := s.db.ExecContext(ctx,
		`UPDATE file_entries SET `+strings.Join(sets, ", ")+`
		 WHERE user_id = ? AND file_id IN (`+placeholders(len(fileIDs))+`) AND del_flag = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// DeleteByPids hard-deletes entries whose parent is in pids. A nil oldFlag
// removes them regardless of their current flag (admin override).
func (s *Store) DeleteByPids(ctx context.Context, userID string, pids []string, oldFlag *models.DelFlag) error {
	if len(pids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM file_entries WHERE user_id = ? AND file_pid IN (` + placeholders(len(pids)) + `)`
	args := []any{userID}
	for _, pid := range pids {
		args = append(args, pid)
	}
	if oldFlag != nil {
		query += ` AND del_flag = ?`
		args = append(args, *oldFlag)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// DeleteByIDs hard-deletes the given entries. A nil oldFlag removes them
// regardless of their current flag (admin override).
func (s *Store) DeleteByIDs(ctx context.Context, userID string, fileIDs []string, oldFlag *models.DelFlag) error {
	if len(fileIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM file_entries WHERE user_id = ? AND file_id IN (` + placeholders(len(fileIDs)) + `)`
	args := []any{userID}
	for _, id := range fileIDs {
		args = append(args, id)
	}
	if oldFlag != nil {
		query += ` AND del_flag = ?`
		args = append(args, *oldFlag)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// LookupByMD5 finds a fully transferred file with the given content
// fingerprint. Only entries in Using status participate in dedup so a
// partially transcoded or failed object is never aliased.
func (s *Store) LookupByMD5(ctx context.Context, md5 string) (*models.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM file_entries
		 WHERE file_md5 = ? AND status = ? AND folder_type = ? LIMIT 1`,
		md5, models.StatusUsing, models.TypeFile,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return entry, nil
}

// ExpiredRecycle lists recycled entries whose recovery time is older than the cutoff.
func (s *Store) ExpiredRecycle(ctx context.Context, cutoff time.Time) ([]*models.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM file_entries
		 WHERE del_flag = ? AND recovery_time IS NOT NULL AND recovery_time < ?`,
		models.FlagRecycle, cutoff,
	)
}

// UseSpaceAggregate computes the authoritative used space for a user: the sum
// of file sizes over all non-purged file entries.
func (s *Store) UseSpaceAggregate(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM file_entries
		 WHERE user_id = ? AND folder_type = ? AND del_flag != ?`,
		userID, models.TypeFile, models.FlagDel,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return total, nil
}

// EnsureUser creates the accounting row for a user if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID string, totalSpace int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, total_space) VALUES (?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, totalSpace,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// UserSpace reads a user's durable accounting row.
func (s *Store) UserSpace(ctx context.Context, userID string) (*models.UserSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	space := &models.UserSpace{}
	err := s.db.QueryRowContext(ctx,
		`SELECT use_space, total_space FROM users WHERE user_id = ?`,
		userID,
	).Scan(&space.UseSpace, &space.TotalSpace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return space, nil
}

// AddUseSpaceConditional atomically folds delta into a user's used space, but
// only if the result stays within the total. It reports whether the update was
// admitted. This single conditional statement is what makes concurrent commits
// safe; a read-then-write here would overcommit.
func (s *Store) AddUseSpaceConditional(ctx context.Context, userID string, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET use_space = use_space + ?
		 WHERE user_id = ? AND use_space + ? <= total_space`,
		delta, userID, delta,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return affected > 0, nil
}

// SetUseSpace overwrites a user's used space with a recomputed value.
func (s *Store) SetUseSpace(ctx context.Context, userID string, useSpace int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET use_space = ? WHERE user_id = ?`,
		useSpace, userID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// SetTotalSpace changes a user's quota allotment.
func (s *Store) SetTotalSpace(ctx context.Context, userID string, totalSpace int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_space = ? WHERE user_id = ?`,
		totalSpace, userID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}
