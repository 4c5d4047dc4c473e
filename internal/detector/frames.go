package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ESJavadex/security-ha-addon/internal/models"
)

// FFmpegFrameSource grabs single frames from an HLS (or any ffmpeg-readable)
// stream by piping one mjpeg frame to stdout.
type FFmpegFrameSource struct {
	StreamURL string
	Timeout   time.Duration
}

func (f *FFmpegFrameSource) AcquireFrame(ctx context.Context) (image.Image, error) {
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", f.StreamURL,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-loglevel", "error",
		"-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame grab failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// DiffScorer scores motion by counting pixels that changed against a slowly
// adapting grayscale background. The count is scaled back to full-frame pixel
// area so thresholds stay comparable regardless of the sampling step.
type DiffScorer struct {
	mu         sync.Mutex
	background []uint8
	width      int
	height     int
	pixelDelta int
}

// NewDiffScorer returns a scorer with a per-pixel change threshold of 30
// luma levels.
func NewDiffScorer() *DiffScorer {
	return &DiffScorer{pixelDelta: 30}
}

const scoreStep = 2 // sample every other pixel in both axes

func (s *DiffScorer) Score(frame image.Image, roi models.ROI) int {
	b := frame.Bounds()
	roi = roi.Clamp()
	x0 := b.Min.X + b.Dx()*roi.XStart/100
	x1 := b.Min.X + b.Dx()*roi.XEnd/100
	y0 := b.Min.Y + b.Dy()*roi.YStart/100
	y1 := b.Min.Y + b.Dy()*roi.YEnd/100
	if x1 <= x0 || y1 <= y0 {
		return 0
	}

	w := (x1 - x0 + scoreStep - 1) / scoreStep
	h := (y1 - y0 + scoreStep - 1) / scoreStep

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.background == nil || s.width != w || s.height != h {
		// Prime the background; the first frame after a ROI or resolution
		// change never counts as motion.
		s.background = make([]uint8, w*h)
		s.width, s.height = w, h
		i := 0
		for y := y0; y < y1; y += scoreStep {
			for x := x0; x < x1; x += scoreStep {
				s.background[i] = grayAt(frame, x, y)
				i++
			}
		}
		return 0
	}

	changed := 0
	i := 0
	for y := y0; y < y1; y += scoreStep {
		for x := x0; x < x1; x += scoreStep {
			g := grayAt(frame, x, y)
			bg := s.background[i]
			d := int(g) - int(bg)
			if d < 0 {
				d = -d
			}
			if d > s.pixelDelta {
				changed++
			}
			// Blend the background toward the current frame (7/8 old, 1/8
			// new) so gradual lighting changes are absorbed.
			s.background[i] = uint8((int(bg)*7 + int(g)) / 8)
			i++
		}
	}

	return changed * scoreStep * scoreStep
}

func grayAt(img image.Image, x, y int) uint8 {
	r, g, b, _ := img.At(x, y).RGBA()
	// BT.601 luma; channel values are 16-bit here.
	return uint8(((299*r + 587*g + 114*b) / 1000) >> 8)
}
