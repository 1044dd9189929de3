package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthBucket(t *testing.T) {
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "202608", MonthBucket(at))
}

func TestChunkDir(t *testing.T) {
	assert.Equal(t, filepath.Join("tmp", "u1_f1"), ChunkDir("tmp", "u1", "f1"))
}

func TestObjectLayout(t *testing.T) {
	rel := "202608/" + ObjectName("u1", "f1", ".mp4")
	assert.Equal(t, "202608/u1f1.mp4", rel)

	abs := ObjectPath("data", rel)
	assert.Equal(t, filepath.Join("data", "file", "202608", "u1f1.mp4"), abs)

	assert.Equal(t, filepath.Join("data", "file", "202608", "u1f1"), SegmentDir("data", rel))
	assert.Equal(t, filepath.Join("data", "file", "202608", "u1f1_.png"), CoverPath("data", "202608/u1f1_.png"))
}
