package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ErrCodecError is returned when an external codec invocation fails.
var ErrCodecError = errors.New("codec error")

// Runner executes the codec operations of the pipeline. Production uses
// ffmpeg; tests substitute a stub.
type Runner interface {
	// RemuxToTS rewraps a video into an MPEG transport stream without
	// re-encoding.
	RemuxToTS(ctx context.Context, src, dst string) error
	// Segment splits a transport stream into fixed-duration pieces named
	// <prefix>_NNNN.ts under dir, writing the playlist to indexPath.
	Segment(ctx context.Context, src, indexPath, dir, prefix string, seconds int) error
	// CoverFrame extracts the first frame of a video scaled to width.
	CoverFrame(ctx context.Context, src, dst string, width int) error
	// Thumbnail downscales an image to width, keeping the aspect ratio.
	Thumbnail(ctx context.Context, src, dst string, width int) error
}

// FFmpegRunner runs a local ffmpeg binary.
type FFmpegRunner struct {
	bin string
}

// NewFFmpegRunner creates a runner for the given ffmpeg binary path.
func NewFFmpegRunner(bin string) *FFmpegRunner {
	return &FFmpegRunner{bin: bin}
}

func (r *FFmpegRunner) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s %v: %w: %s", ErrCodecError, r.bin, args, err, tail(output.Bytes()))
	}
	return nil
}

// tail keeps the end of the tool output, where ffmpeg puts the actual error.
func tail(out []byte) []byte {
	const keep = 512
	if len(out) > keep {
		return out[len(out)-keep:]
	}
	return out
}

func (r *FFmpegRunner) RemuxToTS(ctx context.Context, src, dst string) error {
	return r.run(ctx, "-y", "-i", src,
		"-vcodec", "copy", "-acodec", "copy", "-vbsf", "h264_mp4toannexb", dst)
}

func (r *FFmpegRunner) Segment(ctx context.Context, src, indexPath, dir, prefix string, seconds int) error {
	return r.run(ctx, "-i", src,
		"-c", "copy", "-map", "0", "-f", "segment",
		"-segment_list", indexPath,
		"-segment_time", strconv.Itoa(seconds),
		filepath.Join(dir, prefix+"_%4d.ts"))
}

func (r *FFmpegRunner) CoverFrame(ctx context.Context, src, dst string, width int) error {
	return r.run(ctx, "-y", "-i", src,
		"-vframes", "1", "-vf", fmt.Sprintf("scale=%d:%d/a", width, width), dst)
}

func (r *FFmpegRunner) Thumbnail(ctx context.Context, src, dst string, width int) error {
	return r.run(ctx, "-i", src,
		"-vf", fmt.Sprintf("scale=%d:-1", width), "-y", dst)
}
