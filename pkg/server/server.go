// Package server is the thin HTTP glue over the drive engine: multipart
// chunk uploads, tree operations and usage queries. Session handling is out
// of scope; the caller identifies the user through the X-User-Id header.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drivebox/pkg/log"
	"drivebox/pkg/quota"
	"drivebox/pkg/tree"
	"drivebox/pkg/uploader"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// UserHeader carries the acting user's id on every request.
const UserHeader = "X-User-Id"

// DriveServer serves the drive API.
type DriveServer struct {
	echo            *echo.Echo
	engine          *tree.Engine
	ledger          *quota.Ledger
	coordinator     *uploader.Coordinator
	version         string
	shutdownTimeout time.Duration
}

// NewDriveServer wires the HTTP layer to the engine.
func NewDriveServer(engine *tree.Engine, ledger *quota.Ledger, coordinator *uploader.Coordinator, version string, shutdownTimeout time.Duration) *DriveServer {
	return &DriveServer{
		echo:            echo.New(),
		engine:          engine,
		ledger:          ledger,
		coordinator:     coordinator,
		version:         version,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *DriveServer) Start(addr string) error {
	s.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", s.version).
			Msg("Starting drive server")

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *DriveServer) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (s *DriveServer) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())

	s.echo.POST("/file/upload", s.uploadChunk)
	s.echo.GET("/file/list", s.listEntries)
	s.echo.POST("/folder/new", s.newFolder)
	s.echo.POST("/file/rename", s.renameEntry)
	s.echo.POST("/file/move", s.moveEntries)
	s.echo.POST("/file/recycle", s.recycleEntries)
	s.echo.POST("/file/restore", s.restoreEntries)
	s.echo.POST("/file/purge", s.purgeEntries)
	s.echo.POST("/share/save", s.saveShared)
	s.echo.GET("/space/usage", s.spaceUsage)
}

// userID pulls the acting user from the request, normalizing an absent
// header to an error response at the handler.
func userID(ctx echo.Context) string {
	return ctx.Request().Header.Get(UserHeader)
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "storage quota exceeded"})
	case errors.Is(err, uploader.ErrIncompleteChunks):
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "incomplete chunk sequence"})
	case errors.Is(err, tree.ErrNameExists):
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "name already exists"})
	case errors.Is(err, tree.ErrNotFound):
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "entry not found"})
	case errors.Is(err, tree.ErrInvalidState):
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid entry state"})
	default:
		log.Error().Err(err).Str("uri", ctx.Request().RequestURI).Msg("Request failed")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
