package server

import (
	"net/http"
	"strconv"

	"drivebox/pkg/log"
	"drivebox/pkg/uploader"

	"github.com/labstack/echo/v4"
)

// uploadChunk receives one chunk of a resumable upload as a multipart form:
// file (the bytes), file_name, file_pid, file_md5, chunk_index, chunks, and
// file_id for every chunk after the first.
func (s *DriveServer) uploadChunk(ctx echo.Context) error {
	uid := userID(ctx)
	if uid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing " + UserHeader + " header"})
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file parameter is required"})
	}
	chunkIndex, err := strconv.Atoi(ctx.FormValue("chunk_index"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid chunk_index"})
	}
	chunks, err := strconv.Atoi(ctx.FormValue("chunks"))
	if err != nil || chunks < 1 || chunkIndex < 0 || chunkIndex >= chunks {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid chunk numbering"})
	}
	fileName := ctx.FormValue("file_name")
	if fileName == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_name is required"})
	}
	pid := ctx.FormValue("file_pid")
	if pid == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "file_pid is required"})
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded chunk")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to open uploaded chunk"})
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close uploaded chunk")
		}
	}()

	result, err := s.coordinator.PutChunk(ctx.Request().Context(), &uploader.ChunkRequest{
		UserID:     uid,
		FileID:     ctx.FormValue("file_id"),
		FileName:   fileName,
		FilePid:    pid,
		FileMD5:    ctx.FormValue("file_md5"),
		ChunkIndex: chunkIndex,
		Chunks:     chunks,
		ChunkSize:  file.Size,
		Data:       src,
	})
	if err != nil {
		return writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result)
}
