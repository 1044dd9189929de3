package tree

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"drivebox/pkg/models"
)

// EngineTestSuite tests the tree store and lifecycle operations.
type EngineTestSuite struct {
	suite.Suite
	store  *Store
	engine *Engine
	ctx    context.Context
}

// SetupTest runs before each test
func (s *EngineTestSuite) SetupTest() {
	var err error
	s.store, err = NewStore(filepath.Join(s.T().TempDir(), "tree.db"))
	s.Require().NoError(err)
	s.engine = NewEngine(s.store)
	s.ctx = context.Background()
}

// TearDownTest runs after each test
func (s *EngineTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *EngineTestSuite) makeFolder(userID, pid, name string) *models.FileEntry {
	entry, err := s.engine.NewFolder(s.ctx, userID, pid, name)
	s.Require().NoError(err)
	return entry
}

func (s *EngineTestSuite) makeFile(fileID, userID, pid, name string, size int64) *models.FileEntry {
	now := time.Now()
	fileType, category := models.TypeBySuffix(models.FileSuffix(name))
	entry := &models.FileEntry{
		FileID:         fileID,
		UserID:         userID,
		FilePid:        pid,
		FileName:       name,
		FolderType:     models.TypeFile,
		FilePath:       "202608/" + userID + fileID + models.FileSuffix(name),
		FileMD5:        "md5-" + fileID,
		FileSize:       size,
		FileCategory:   category,
		FileType:       fileType,
		Status:         models.StatusUsing,
		DelFlag:        models.FlagUsing,
		CreateTime:     now,
		LastUpdateTime: now,
	}
	s.Require().NoError(s.store.Insert(s.ctx, entry))
	return entry
}

func (s *EngineTestSuite) flagOf(fileID, userID string) models.DelFlag {
	entry, err := s.store.Get(s.ctx, fileID, userID)
	s.Require().NoError(err)
	return entry.DelFlag
}

func (s *EngineTestSuite) TestInsertAndGet() {
	file := s.makeFile("f1", "u1", models.RootFolderID, "notes.txt", 42)

	got, err := s.store.Get(s.ctx, "f1", "u1")
	s.Require().NoError(err)
	s.Equal(file.FileName, got.FileName)
	s.Equal(int64(42), got.FileSize)
	s.Equal(models.FileTypeTxt, got.FileType)
	s.Nil(got.RecoveryTime)

	_, err = s.store.Get(s.ctx, "missing", "u1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *EngineTestSuite) TestRecycleCascade() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	sub := s.makeFolder("u1", folder.FileID, "drafts")
	s.makeFile("f1", "u1", folder.FileID, "a.txt", 10)
	s.makeFile("f2", "u1", sub.FileID, "b.txt", 20)

	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))

	// The selected folder lands in the bin with a recovery timestamp.
	got, err := s.store.Get(s.ctx, folder.FileID, "u1")
	s.Require().NoError(err)
	s.Equal(models.FlagRecycle, got.DelFlag)
	s.NotNil(got.RecoveryTime)

	// Descendants are hidden, not listed in the bin.
	s.Equal(models.FlagDel, s.flagOf(sub.FileID, "u1"))
	s.Equal(models.FlagDel, s.flagOf("f1", "u1"))
	s.Equal(models.FlagDel, s.flagOf("f2", "u1"))
}

func (s *EngineTestSuite) TestRecycleOnlyTouchesSelectedUser() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	other := s.makeFile("f9", "u2", models.RootFolderID, "other.txt", 5)

	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))
	s.Equal(models.FlagUsing, s.flagOf(other.FileID, "u2"))
}

func (s *EngineTestSuite) TestRestoreReparentsToRootWithRename() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	sub := s.makeFolder("u1", folder.FileID, "drafts")
	s.makeFile("f1", "u1", sub.FileID, "a.txt", 10)
	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))

	// A live root sibling takes the name while the folder sits in the bin.
	s.makeFolder("u1", models.RootFolderID, "docs")

	s.Require().NoError(s.engine.Restore(s.ctx, "u1", []string{folder.FileID}))

	got, err := s.store.Get(s.ctx, folder.FileID, "u1")
	s.Require().NoError(err)
	s.Equal(models.FlagUsing, got.DelFlag)
	s.Equal(models.RootFolderID, got.FilePid)
	s.NotEqual("docs", got.FileName)
	s.True(strings.HasPrefix(got.FileName, "docs_"))

	// The subtree comes back live with its shape intact.
	subEntry, err := s.store.Get(s.ctx, sub.FileID, "u1")
	s.Require().NoError(err)
	s.Equal(models.FlagUsing, subEntry.DelFlag)
	s.Equal(folder.FileID, subEntry.FilePid)
	s.Equal(models.FlagUsing, s.flagOf("f1", "u1"))
}

func (s *EngineTestSuite) TestRecycleRestoreRoundTrip() {
	folder := s.makeFolder("u1", models.RootFolderID, "photos")
	s.makeFile("f1", "u1", folder.FileID, "a.jpg", 100)

	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))
	s.Require().NoError(s.engine.Restore(s.ctx, "u1", []string{folder.FileID}))

	got, err := s.store.Get(s.ctx, folder.FileID, "u1")
	s.Require().NoError(err)
	s.Equal("photos", got.FileName)
	s.Equal(models.FlagUsing, got.DelFlag)
	s.Equal(models.FlagUsing, s.flagOf("f1", "u1"))
}

func (s *EngineTestSuite) TestPurgeRemovesSubtree() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	s.makeFile("f1", "u1", folder.FileID, "a.txt", 10)
	s.makeFile("f2", "u1", models.RootFolderID, "keep.txt", 30)
	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))

	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{folder.FileID}, false))

	_, err := s.store.Get(s.ctx, folder.FileID, "u1")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.Get(s.ctx, "f1", "u1")
	s.ErrorIs(err, ErrNotFound)

	total, err := s.store.UseSpaceAggregate(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(30), total)
}

func (s *EngineTestSuite) TestPurgeIgnoresLiveEntriesWithoutOverride() {
	file := s.makeFile("f1", "u1", models.RootFolderID, "a.txt", 10)

	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{file.FileID}, false))
	s.Equal(models.FlagUsing, s.flagOf(file.FileID, "u1"))

	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{file.FileID}, true))
	_, err := s.store.Get(s.ctx, file.FileID, "u1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *EngineTestSuite) TestRecycleSelectionIncludingOwnSubfolder() {
	outer := s.makeFolder("u1", models.RootFolderID, "outer")
	inner := s.makeFolder("u1", outer.FileID, "inner")
	s.makeFile("f1", "u1", inner.FileID, "a.txt", 10)

	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{outer.FileID, inner.FileID}))

	s.Equal(models.FlagRecycle, s.flagOf(outer.FileID, "u1"))
	// The inner folder was already hidden by the outer cascade.
	s.Equal(models.FlagDel, s.flagOf(inner.FileID, "u1"))
	s.Equal(models.FlagDel, s.flagOf("f1", "u1"))
}

func (s *EngineTestSuite) TestPurgeSelectionIncludingOwnSubfolder() {
	outer := s.makeFolder("u1", models.RootFolderID, "outer")
	inner := s.makeFolder("u1", outer.FileID, "inner")
	s.makeFile("f1", "u1", inner.FileID, "a.txt", 10)
	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{outer.FileID}))

	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{outer.FileID, inner.FileID}, true))

	for _, id := range []string{outer.FileID, inner.FileID, "f1"} {
		_, err := s.store.Get(s.ctx, id, "u1")
		s.ErrorIs(err, ErrNotFound)
	}
}

func (s *EngineTestSuite) TestAdminPurgeRemovesRecycledSubtree() {
	top := s.makeFolder("u1", models.RootFolderID, "top")
	mid := s.makeFolder("u1", top.FileID, "mid")
	s.makeFile("leaf", "u1", mid.FileID, "leaf.txt", 10)
	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{top.FileID}))

	// The recycled folder's descendants carry the Del flag; an admin purge
	// of the top folder must still reach them.
	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{top.FileID}, true))

	for _, id := range []string{top.FileID, mid.FileID, "leaf"} {
		_, err := s.store.Get(s.ctx, id, "u1")
		s.ErrorIs(err, ErrNotFound)
	}
}

func (s *EngineTestSuite) TestAdminPurgeRemovesLiveSubtree() {
	live := s.makeFolder("u1", models.RootFolderID, "live")
	sub := s.makeFolder("u1", live.FileID, "sub")
	s.makeFile("f1", "u1", sub.FileID, "a.txt", 10)

	s.Require().NoError(s.engine.Purge(s.ctx, "u1", []string{live.FileID}, true))

	for _, id := range []string{live.FileID, sub.FileID, "f1"} {
		_, err := s.store.Get(s.ctx, id, "u1")
		s.ErrorIs(err, ErrNotFound)
	}
}

func (s *EngineTestSuite) TestMoveAutoRenames() {
	src := s.makeFolder("u1", models.RootFolderID, "src")
	dst := s.makeFolder("u1", models.RootFolderID, "dst")
	s.makeFile("f1", "u1", src.FileID, "a.txt", 10)
	s.makeFile("f2", "u1", dst.FileID, "a.txt", 20)

	s.Require().NoError(s.engine.Move(s.ctx, "u1", []string{"f1"}, dst.FileID))

	moved, err := s.store.Get(s.ctx, "f1", "u1")
	s.Require().NoError(err)
	s.Equal(dst.FileID, moved.FilePid)
	s.NotEqual("a.txt", moved.FileName)
	s.True(strings.HasSuffix(moved.FileName, ".txt"))
}

func (s *EngineTestSuite) TestMoveRejectsBadTargets() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	file := s.makeFile("f1", "u1", models.RootFolderID, "a.txt", 10)

	err := s.engine.Move(s.ctx, "u1", []string{folder.FileID}, folder.FileID)
	s.ErrorIs(err, ErrInvalidState)

	err = s.engine.Move(s.ctx, "u1", []string{folder.FileID}, file.FileID)
	s.ErrorIs(err, ErrInvalidState)

	err = s.engine.Move(s.ctx, "u1", []string{file.FileID}, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *EngineTestSuite) TestRenameKeepsSuffixAndRejectsCollision() {
	s.makeFile("f1", "u1", models.RootFolderID, "a.txt", 10)
	s.makeFile("f2", "u1", models.RootFolderID, "b.txt", 10)

	renamed, err := s.engine.Rename(s.ctx, "u1", "f1", "report")
	s.Require().NoError(err)
	s.Equal("report.txt", renamed.FileName)

	_, err = s.engine.Rename(s.ctx, "u1", "f2", "report")
	s.ErrorIs(err, ErrNameExists)
}

func (s *EngineTestSuite) TestNewFolderRejectsDuplicate() {
	s.makeFolder("u1", models.RootFolderID, "docs")

	_, err := s.engine.NewFolder(s.ctx, "u1", models.RootFolderID, "docs")
	s.ErrorIs(err, ErrNameExists)
}

func (s *EngineTestSuite) TestDeepCopyClonesSubtree() {
	folder := s.makeFolder("u1", models.RootFolderID, "shared")
	s.makeFile("f1", "u1", folder.FileID, "a.txt", 10)
	s.makeFile("f2", "u1", folder.FileID, "b.txt", 25)

	bytes, err := s.engine.DeepCopy(s.ctx, "u1", []string{folder.FileID}, "u2", models.RootFolderID)
	s.Require().NoError(err)
	s.Equal(int64(35), bytes)

	roots, err := s.store.ListChildren(s.ctx, "u2", models.RootFolderID, models.FlagUsing)
	s.Require().NoError(err)
	s.Require().Len(roots, 1)
	s.Equal("shared", roots[0].FileName)
	s.NotEqual(folder.FileID, roots[0].FileID)

	children, err := s.store.ListChildren(s.ctx, "u2", roots[0].FileID, models.FlagUsing)
	s.Require().NoError(err)
	s.Len(children, 2)

	// Source tree untouched.
	s.Equal(models.FlagUsing, s.flagOf(folder.FileID, "u1"))
}

func (s *EngineTestSuite) TestDeepCopySelectionIncludingOwnSubfolder() {
	outer := s.makeFolder("u1", models.RootFolderID, "outer")
	inner := s.makeFolder("u1", outer.FileID, "inner")
	s.makeFile("f1", "u1", inner.FileID, "a.txt", 10)

	bytes, err := s.engine.DeepCopy(s.ctx, "u1", []string{outer.FileID, inner.FileID}, "u2", models.RootFolderID)
	s.Require().NoError(err)
	s.Equal(int64(10), bytes)

	// The overlapping subfolder and its file are cloned exactly once.
	total, err := s.store.UseSpaceAggregate(s.ctx, "u2")
	s.Require().NoError(err)
	s.Equal(int64(10), total)
}

func (s *EngineTestSuite) TestUseSpaceAggregateSkipsHiddenEntries() {
	folder := s.makeFolder("u1", models.RootFolderID, "docs")
	s.makeFile("f1", "u1", folder.FileID, "a.txt", 10)
	s.makeFile("f2", "u1", models.RootFolderID, "b.txt", 20)

	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{folder.FileID}))

	// Recycled entries still count; only hidden (Del) descendants would not,
	// but a.txt under the recycled folder is hidden now.
	total, err := s.store.UseSpaceAggregate(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(20), total)
}

func (s *EngineTestSuite) TestConditionalSpaceUpdate() {
	s.Require().NoError(s.store.EnsureUser(s.ctx, "u1", 100))

	ok, err := s.store.AddUseSpaceConditional(s.ctx, "u1", 60)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.AddUseSpaceConditional(s.ctx, "u1", 50)
	s.Require().NoError(err)
	s.False(ok)

	space, err := s.store.UserSpace(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(60), space.UseSpace)
}

func (s *EngineTestSuite) TestExpiredRecycle() {
	file := s.makeFile("f1", "u1", models.RootFolderID, "old.txt", 10)
	s.Require().NoError(s.engine.Recycle(s.ctx, "u1", []string{file.FileID}))

	expired, err := s.engine.ExpiredRecycle(s.ctx, time.Hour)
	s.Require().NoError(err)
	s.Empty(expired)

	expired, err = s.engine.ExpiredRecycle(s.ctx, -time.Minute)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal("f1", expired[0].FileID)
}

func (s *EngineTestSuite) TestLookupByMD5OnlyMatchesUsing() {
	file := s.makeFile("f1", "u1", models.RootFolderID, "a.txt", 10)

	match, err := s.store.LookupByMD5(s.ctx, file.FileMD5)
	s.Require().NoError(err)
	s.Equal("f1", match.FileID)

	// A still-transferring entry never seeds a dedup hit.
	transfer := s.makeFile("f2", "u1", models.RootFolderID, "b.mp4", 10)
	_, err = s.store.FinalizeStatus(s.ctx, "f2", "u1", 10, "", models.StatusTransfer, models.StatusUsing)
	s.Require().NoError(err)
	_, err = s.store.LookupByMD5(s.ctx, transfer.FileMD5)
	s.ErrorIs(err, ErrNotFound)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
