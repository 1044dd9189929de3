package main

import (
	"context"
	_ "embed"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"drivebox/pkg/cache"
	"drivebox/pkg/config"
	"drivebox/pkg/log"
	"drivebox/pkg/pipeline"
	"drivebox/pkg/quota"
	"drivebox/pkg/server"
	"drivebox/pkg/tasks"
	"drivebox/pkg/tree"
	"drivebox/pkg/uploader"
)

const dirPerm = 0750

//go:embed VERSION
var Version string

func main() {
	// Initialize logger first
	_ = log.Logger

	configPath := flag.String("config", "", "Configuration file path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	for _, dir := range []string{cfg.DataDir, cfg.TempDir, filepath.Dir(cfg.DBPath)} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}

	store, err := tree.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("Failed to open metadata store")
	}
	defer func() { _ = store.Close() }()

	quotaCache, err := cache.Open(cfg.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Str("cache_dir", cfg.CacheDir).Msg("Failed to open cache")
	}
	defer func() { _ = quotaCache.Close() }()

	engine := tree.NewEngine(store)
	ledger := quota.NewLedger(store, quotaCache, cfg.DefaultTotalSpace)

	workers := pipeline.New(store, pipeline.NewFFmpegRunner(cfg.FFmpegBin), pipeline.Config{
		DataDir:        cfg.DataDir,
		Workers:        cfg.PipelineWorkers,
		QueueSize:      cfg.PipelineQueue,
		SegmentSeconds: cfg.SegmentSeconds,
		ThumbnailWidth: cfg.ThumbnailWidth,
	})

	coordinator := uploader.NewCoordinator(engine, ledger, workers, cfg.TempDir, cfg.DataDir)
	cleaner := tasks.NewCleaner(engine, ledger, cfg.TempDir, cfg.RecycleRetention, cfg.CleanInterval)

	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx)
	go cleaner.Run(ctx)

	drive := server.NewDriveServer(engine, ledger, coordinator, strings.TrimSpace(Version), cfg.ShutdownTimeout)
	if err := drive.Start(cfg.ListenAddr); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Server failed")
	}

	cancel()
	workers.Stop()
	os.Exit(0)
}
