package analyzer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
)

const (
	maxImagesPerComposite = 12
	maxComposites         = 2
)

// compositeImages tiles the screenshots into one or more PNG grids bounded by
// maxWidth x maxHeight. Long recordings get split across composites, capped
// at maxComposites; anything beyond that is dropped.
func compositeImages(paths []string, maxWidth, maxHeight int) ([][]byte, error) {
	var imgs []image.Image
	for _, p := range paths {
		img, err := loadImage(p)
		if err != nil {
			logger.Warnf("skipping unreadable screenshot %s: %v", p, err)
			continue
		}
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		return nil, fmt.Errorf("could not load any screenshots")
	}

	var out [][]byte
	for start := 0; start < len(imgs) && len(out) < maxComposites; start += maxImagesPerComposite {
		end := start + maxImagesPerComposite
		if end > len(imgs) {
			end = len(imgs)
		}
		grid, err := renderGrid(imgs[start:end], maxWidth, maxHeight)
		if err != nil {
			return nil, err
		}
		out = append(out, grid)
	}
	return out, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// renderGrid lays the images out in a near-square grid. Cell dimensions keep
// the aspect ratio of the first image so frames are not distorted.
func renderGrid(imgs []image.Image, maxWidth, maxHeight int) ([]byte, error) {
	n := len(imgs)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	cellW := maxWidth / cols
	cellH := maxHeight / rows

	first := imgs[0].Bounds()
	if first.Dx() > 0 && first.Dy() > 0 {
		aspect := float64(first.Dx()) / float64(first.Dy())
		if float64(cellW)/float64(cellH) > aspect {
			cellW = int(float64(cellH) * aspect)
		} else {
			cellH = int(float64(cellW) / aspect)
		}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cols*cellW, rows*cellH))
	for i, img := range imgs {
		x := (i % cols) * cellW
		y := (i / cols) * cellH
		cell := image.Rect(x, y, x+cellW, y+cellH)
		draw.CatmullRom.Scale(canvas, cell, img, img.Bounds(), draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	return buf.Bytes(), nil
}
