package recorder

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
)

// Screenshotter produces preview frames from a finished clip. Returned names
// are relative to the clip's directory.
type Screenshotter interface {
	Generate(videoPath string) []string
}

// FFmpegScreenshotter samples the clip every Interval starting at 1s, falling
// back to a single frame at 1s when interval sampling yields nothing.
// Failures degrade gracefully: a recording with zero screenshots is still
// valid.
type FFmpegScreenshotter struct {
	Interval time.Duration
}

const screenshotTimeout = 30 * time.Second

func (g *FFmpegScreenshotter) Generate(videoPath string) []string {
	interval := g.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}

	duration, err := probeDuration(videoPath)
	if err != nil {
		logger.Warnf("could not get video duration: %v, using 30s fallback", err)
		duration = 30.0
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	dir := filepath.Dir(videoPath)

	var shots []string
	index := 0
	for ts := 1.0; ts < duration; ts += interval.Seconds() {
		name := fmt.Sprintf("%s_%03d.jpg", base, index)
		if err := extractStill(videoPath, filepath.Join(dir, name), ts); err != nil {
			logger.Errorf("error generating screenshot at %.0fs: %v", ts, err)
		} else {
			shots = append(shots, name)
			logger.Debugf("generated screenshot %s at %.0fs", name, ts)
		}
		index++
	}

	if len(shots) == 0 {
		name := base + "_000.jpg"
		if err := extractStill(videoPath, filepath.Join(dir, name), 1.0); err != nil {
			logger.Errorf("error generating fallback screenshot: %v", err)
		} else {
			shots = append(shots, name)
		}
	}

	logger.Infof("generated %d screenshots for %s", len(shots), filepath.Base(videoPath))
	return shots
}

func probeDuration(videoPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

func extractStill(videoPath, outPath string, ts float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-ss", strconv.FormatFloat(ts, 'f', -1, 64),
		"-vframes", "1",
		"-vf", "scale=320:-1",
		"-y",
		"-loglevel", "error",
		outPath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}
