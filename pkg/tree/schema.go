package tree

// Schema contains the SQL statements to create the drive metadata schema.
const Schema = `
-- Users table: durable per-user storage accounting
CREATE TABLE IF NOT EXISTS users (
    user_id     TEXT PRIMARY KEY,
    use_space   INTEGER NOT NULL DEFAULT 0,
    total_space INTEGER NOT NULL,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- File entries table: one row per file or folder in a user's tree
CREATE TABLE IF NOT EXISTS file_entries (
    file_id          TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    file_pid         TEXT NOT NULL,
    file_name        TEXT NOT NULL,
    folder_type      INTEGER NOT NULL,
    file_path        TEXT,
    file_md5         TEXT,
    file_size        INTEGER NOT NULL DEFAULT 0,
    file_category    INTEGER NOT NULL DEFAULT 0,
    file_type        INTEGER NOT NULL DEFAULT 0,
    file_cover       TEXT,
    status           INTEGER NOT NULL,
    del_flag         INTEGER NOT NULL,
    create_time      DATETIME NOT NULL,
    last_update_time DATETIME NOT NULL,
    recovery_time    DATETIME,
    PRIMARY KEY (file_id, user_id)
);

-- Indexes for sibling listing and dedup lookup
CREATE INDEX IF NOT EXISTS idx_entries_pid ON file_entries(user_id, file_pid, del_flag);
CREATE INDEX IF NOT EXISTS idx_entries_md5 ON file_entries(file_md5, status);
CREATE INDEX IF NOT EXISTS idx_entries_recovery ON file_entries(del_flag, recovery_time);
`
