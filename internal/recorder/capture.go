package recorder

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
)

// Capture is one external capture process bounded by a maximum duration. The
// process must self-terminate at that ceiling even if Stop is never called.
type Capture interface {
	Start() error
	Stop(grace time.Duration)
}

// CaptureFactory builds a capture for one output file.
type CaptureFactory func(streamURL, outputPath string, maxDuration time.Duration) Capture

// FFmpegCapture records the stream with codec copy (no transcoding) and a
// hard -t ceiling so a stuck trigger cannot grow the file unbounded.
type FFmpegCapture struct {
	streamURL   string
	outputPath  string
	maxDuration time.Duration
	cmd         *exec.Cmd
}

func NewFFmpegCapture(streamURL, outputPath string, maxDuration time.Duration) Capture {
	return &FFmpegCapture{
		streamURL:   streamURL,
		outputPath:  outputPath,
		maxDuration: maxDuration,
	}
}

func (c *FFmpegCapture) Start() error {
	cmd := exec.Command("ffmpeg",
		"-i", c.streamURL,
		"-c", "copy",
		"-movflags", "+faststart",
		"-t", strconv.Itoa(int(c.maxDuration.Seconds())),
		"-y",
		"-loglevel", "error",
		c.outputPath)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	c.cmd = cmd
	logger.Debugf("ffmpeg started with pid %d", cmd.Process.Pid)
	return nil
}

// Stop asks ffmpeg to exit cleanly so the mp4 gets finalized, then kills it
// if it does not exit within the grace period.
func (c *FFmpegCapture) Stop(grace time.Duration) {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited, or unkillable; make sure it is reaped either way.
		c.cmd.Process.Kill()
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(grace):
		logger.Warnf("ffmpeg did not exit within %s, killing", grace)
		c.cmd.Process.Kill()
		<-done
	}
}
