package server

import (
	"net/http"
	"strconv"

	"drivebox/pkg/models"

	"github.com/labstack/echo/v4"
)

type idsRequest struct {
	FileIDs []string `json:"file_ids"`
}

func (s *DriveServer) listEntries(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	pid := ctx.QueryParam("pid")
	if pid == "" {
		pid = models.RootFolderID
	}
	flag := models.FlagUsing
	if raw := ctx.QueryParam("flag"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid flag"})
		}
		flag = models.DelFlag(parsed)
	}

	entries, err := s.engine.Store().ListChildren(ctx.Request().Context(), uid, pid, flag)
	if err != nil {
		return writeError(ctx, err)
	}
	if entries == nil {
		entries = []*models.FileEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (s *DriveServer) newFolder(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req struct {
		Pid  string `json:"pid"`
		Name string `json:"name"`
	}
	if err := ctx.Bind(&req); err != nil || req.Name == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "pid and name are required"})
	}
	if req.Pid == "" {
		req.Pid = models.RootFolderID
	}

	entry, err := s.engine.NewFolder(ctx.Request().Context(), uid, req.Pid, req.Name)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (s *DriveServer) renameEntry(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req struct {
		FileID string `json:"file_id"`
		Name   string `json:"name"`
	}
	if err := ctx.Bind(&req); err != nil || req.FileID == "" || req.Name == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_id and name are required"})
	}

	entry, err := s.engine.Rename(ctx.Request().Context(), uid, req.FileID, req.Name)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (s *DriveServer) moveEntries(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req struct {
		FileIDs   []string `json:"file_ids"`
		TargetPid string   `json:"target_pid"`
	}
	if err := ctx.Bind(&req); err != nil || len(req.FileIDs) == 0 || req.TargetPid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_ids and target_pid are required"})
	}

	if err := s.engine.Move(ctx.Request().Context(), uid, req.FileIDs, req.TargetPid); err != nil {
		return writeError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *DriveServer) recycleEntries(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req idsRequest
	if err := ctx.Bind(&req); err != nil || len(req.FileIDs) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_ids are required"})
	}

	if err := s.engine.Recycle(ctx.Request().Context(), uid, req.FileIDs); err != nil {
		return writeError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *DriveServer) restoreEntries(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req idsRequest
	if err := ctx.Bind(&req); err != nil || len(req.FileIDs) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_ids are required"})
	}

	if err := s.engine.Restore(ctx.Request().Context(), uid, req.FileIDs); err != nil {
		return writeError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *DriveServer) purgeEntries(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req struct {
		FileIDs []string `json:"file_ids"`
		Admin   bool     `json:"admin"`
	}
	if err := ctx.Bind(&req); err != nil || len(req.FileIDs) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_ids are required"})
	}

	reqCtx := ctx.Request().Context()
	if err := s.engine.Purge(reqCtx, uid, req.FileIDs, req.Admin); err != nil {
		return writeError(ctx, err)
	}
	// Space freed by the purge only becomes visible through a ledger reset.
	if err := s.ledger.Reset(reqCtx, uid); err != nil {
		return writeError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// saveShared clones entries shared by another user into the caller's tree.
// The payloads are aliased, not copied, so only metadata and the ledger move.
func (s *DriveServer) saveShared(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}
	var req struct {
		SrcUserID string   `json:"src_user_id"`
		FileIDs   []string `json:"file_ids"`
		TargetPid string   `json:"target_pid"`
	}
	if err := ctx.Bind(&req); err != nil || req.SrcUserID == "" || len(req.FileIDs) == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "src_user_id and file_ids are required"})
	}
	if req.TargetPid == "" {
		req.TargetPid = models.RootFolderID
	}

	reqCtx := ctx.Request().Context()
	bytes, err := s.engine.DeepCopy(reqCtx, req.SrcUserID, req.FileIDs, uid, req.TargetPid)
	if err != nil {
		return writeError(ctx, err)
	}
	if err := s.ledger.Reset(reqCtx, uid); err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]int64{"bytes": bytes})
}

func (s *DriveServer) spaceUsage(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}

	space, err := s.ledger.Usage(ctx.Request().Context(), uid)
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, space)
}
