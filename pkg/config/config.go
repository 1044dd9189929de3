// Package config loads the daemon configuration from file, environment and
// defaults.
//
// Precedence (highest to lowest):
//  1. Environment variables (DRIVEBOX_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all daemon settings.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// DataDir holds final objects, segments and covers.
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// TempDir holds in-flight upload chunks.
	TempDir string `mapstructure:"temp_dir" validate:"required"`

	// CacheDir holds the quota cache; empty runs the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`

	// DBPath is the SQLite metadata database file.
	DBPath string `mapstructure:"db_path" validate:"required"`

	// DefaultTotalSpace is the allotment in bytes for first-seen users.
	DefaultTotalSpace int64 `mapstructure:"default_total_space" validate:"gt=0"`

	// FFmpegBin is the codec binary used by the pipeline.
	FFmpegBin string `mapstructure:"ffmpeg_bin" validate:"required"`

	// SegmentSeconds is the duration of one video stream segment.
	SegmentSeconds int `mapstructure:"segment_seconds" validate:"gt=0"`

	// ThumbnailWidth is the pixel width of covers and thumbnails.
	ThumbnailWidth int `mapstructure:"thumbnail_width" validate:"gt=0"`

	// PipelineWorkers is the number of post-processing goroutines.
	PipelineWorkers int `mapstructure:"pipeline_workers" validate:"gt=0"`

	// PipelineQueue is the task queue capacity.
	PipelineQueue int `mapstructure:"pipeline_queue" validate:"gt=0"`

	// RecycleRetention is how long recycled entries and abandoned chunks
	// are kept before the cleaner purges them.
	RecycleRetention time.Duration `mapstructure:"recycle_retention" validate:"gt=0"`

	// CleanInterval is the cleaner sweep period.
	CleanInterval time.Duration `mapstructure:"clean_interval" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", "build/data")
	v.SetDefault("temp_dir", "build/temp")
	v.SetDefault("cache_dir", "build/cache")
	v.SetDefault("db_path", "build/drivebox.db")
	v.SetDefault("default_total_space", int64(5)<<30)
	v.SetDefault("ffmpeg_bin", "ffmpeg")
	v.SetDefault("segment_seconds", 30)
	v.SetDefault("thumbnail_width", 150)
	v.SetDefault("pipeline_workers", 2)
	v.SetDefault("pipeline_queue", 64)
	v.SetDefault("recycle_retention", 10*24*time.Hour)
	v.SetDefault("clean_interval", time.Hour)
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads the configuration. An empty path uses environment variables and
// defaults only; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DRIVEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}
