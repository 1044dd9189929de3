package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"drivebox/pkg/cache"
	"drivebox/pkg/models"
	"drivebox/pkg/quota"
	"drivebox/pkg/storage"
	"drivebox/pkg/tree"
)

// CleanerTestSuite tests recycle-bin expiry and chunk dir sweeping.
type CleanerTestSuite struct {
	suite.Suite
	store   *tree.Store
	cache   *cache.Cache
	engine  *tree.Engine
	ledger  *quota.Ledger
	cleaner *Cleaner
	tempDir string
	ctx     context.Context
}

// SetupTest runs before each test
func (s *CleanerTestSuite) SetupTest() {
	base := s.T().TempDir()
	s.tempDir = filepath.Join(base, "temp")
	s.Require().NoError(os.MkdirAll(s.tempDir, 0o755))

	var err error
	s.store, err = tree.NewStore(filepath.Join(base, "drive.db"))
	s.Require().NoError(err)
	s.cache, err = cache.Open("")
	s.Require().NoError(err)

	s.engine = tree.NewEngine(s.store)
	s.ledger = quota.NewLedger(s.store, s.cache, 1000)
	s.cleaner = NewCleaner(s.engine, s.ledger, s.tempDir, time.Hour, time.Minute)
	s.ctx = context.Background()
}

// TearDownTest runs after each test
func (s *CleanerTestSuite) TearDownTest() {
	s.Require().NoError(s.cache.Close())
	s.Require().NoError(s.store.Close())
}

func (s *CleanerTestSuite) insertRecycled(fileID, userID string, recycledAt time.Time) {
	now := time.Now()
	s.Require().NoError(s.store.Insert(s.ctx, &models.FileEntry{
		FileID:         fileID,
		UserID:         userID,
		FilePid:        models.RootFolderID,
		FileName:       fileID + ".txt",
		FolderType:     models.TypeFile,
		FileSize:       10,
		Status:         models.StatusUsing,
		DelFlag:        models.FlagRecycle,
		CreateTime:     now,
		LastUpdateTime: now,
		RecoveryTime:   &recycledAt,
	}))
}

func (s *CleanerTestSuite) TestSweepPurgesExpiredRecycleEntries() {
	s.insertRecycled("old", "u1", time.Now().Add(-2*time.Hour))
	s.insertRecycled("fresh", "u1", time.Now().Add(-time.Minute))

	s.cleaner.Sweep(s.ctx)

	_, err := s.store.Get(s.ctx, "old", "u1")
	s.ErrorIs(err, tree.ErrNotFound)

	entry, err := s.store.Get(s.ctx, "fresh", "u1")
	s.Require().NoError(err)
	s.Equal(models.FlagRecycle, entry.DelFlag)
}

func (s *CleanerTestSuite) TestSweepPurgesExpiredRecycledFolderCascade() {
	now := time.Now()
	expired := now.Add(-2 * time.Hour)
	insert := func(fileID, pid string, folderType models.FolderType, size int64, flag models.DelFlag, recoveredAt *time.Time) {
		s.Require().NoError(s.store.Insert(s.ctx, &models.FileEntry{
			FileID:         fileID,
			UserID:         "u1",
			FilePid:        pid,
			FileName:       fileID,
			FolderType:     folderType,
			FileSize:       size,
			Status:         models.StatusUsing,
			DelFlag:        flag,
			CreateTime:     now,
			LastUpdateTime: now,
			RecoveryTime:   recoveredAt,
		}))
	}
	// A recycled folder hides its descendants with the Del flag.
	insert("top", models.RootFolderID, models.TypeFolder, 0, models.FlagRecycle, &expired)
	insert("mid", "top", models.TypeFolder, 0, models.FlagDel, nil)
	insert("leaf", "mid", models.TypeFile, 10, models.FlagDel, nil)

	s.cleaner.Sweep(s.ctx)

	for _, id := range []string{"top", "mid", "leaf"} {
		_, err := s.store.Get(s.ctx, id, "u1")
		s.ErrorIs(err, tree.ErrNotFound)
	}
}

func (s *CleanerTestSuite) TestSweepResetsLedgerPerUser() {
	s.Require().NoError(s.ledger.EnsureUser(s.ctx, "u1"))
	s.Require().NoError(s.ledger.Commit(s.ctx, "u1", 10))
	s.insertRecycled("old", "u1", time.Now().Add(-2*time.Hour))

	s.cleaner.Sweep(s.ctx)

	space, err := s.ledger.Usage(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(0), space.UseSpace)
}

func (s *CleanerTestSuite) TestSweepRemovesStaleChunkDirs() {
	stale := storage.ChunkDir(s.tempDir, "u1", "stale")
	s.Require().NoError(os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-2 * time.Hour)
	s.Require().NoError(os.Chtimes(stale, old, old))

	active := storage.ChunkDir(s.tempDir, "u1", "active")
	s.Require().NoError(os.MkdirAll(active, 0o755))

	s.cleaner.Sweep(s.ctx)

	_, err := os.Stat(stale)
	s.True(os.IsNotExist(err))
	_, err = os.Stat(active)
	s.Require().NoError(err)
}

func TestCleanerTestSuite(t *testing.T) {
	suite.Run(t, new(CleanerTestSuite))
}
