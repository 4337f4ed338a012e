// Package brightness computes the mean luminance of captured stills.
package brightness

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
)

// #region measurer
// Measurer reads an image file and reports its mean luminance in [0, 255].
type Measurer struct {
	logger *slog.Logger
}

// NewMeasurer creates a measurer. logger may be nil.
func NewMeasurer(logger *slog.Logger) *Measurer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Measurer{logger: logger}
}

// Measure returns the mean luminance of the image at path, or false when the file
// is missing or cannot be decoded.
func (m *Measurer) Measure(path string) (float64, bool) {
	mean, err := MeanFile(path)
	if err != nil {
		m.logger.Warn("brightness: unreadable artifact", "path", path, "error", err)
		return 0, false
	}
	return mean, true
}

// #endregion measurer

// #region mean
// MeanFile decodes path and returns its mean luminance.
func MeanFile(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return Mean(img), nil
}

// Mean returns the average ITU-R 601 luma of img. JPEG stills arrive as YCbCr and
// use the Y plane directly; other images are converted per pixel.
func Mean(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}

	var sum uint64
	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Y[src.YOffset(b.Min.X, y) : src.YOffset(b.Max.X-1, y)+1]
			for _, v := range row {
				sum += uint64(v)
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			for _, v := range src.Pix[off : off+b.Dx()] {
				sum += uint64(v)
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				sum += uint64(luma(r>>8, g>>8, bl>>8))
			}
		}
	}
	return float64(sum) / float64(n)
}

// luma is L = R*299/1000 + G*587/1000 + B*114/1000, rounded.
func luma(r, g, b uint32) uint32 {
	return (r*299 + g*587 + b*114 + 500) / 1000
}

// #endregion mean
