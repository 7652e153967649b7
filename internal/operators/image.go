package operators

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// Brightness computes mean luminance scaled to [0, 1].
func Brightness() Operator {
	return &perSample{issue: models.IssueBrightness, fn: func(path string) (any, error) {
		g, err := loadGray(path)
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, v := range g.pix {
			sum += v
		}
		return sum / float64(len(g.pix)) / 255, nil
	}}
}

// Blurriness computes the variance of the Laplacian over the grayscale
// image. Lower values indicate blurrier images.
func Blurriness() Operator {
	return &perSample{issue: models.IssueBlurriness, fn: func(path string) (any, error) {
		g, err := loadGray(path)
		if err != nil {
			return nil, err
		}
		return laplacianVariance(g), nil
	}}
}

// AspectRatio computes width divided by height from the image header.
func AspectRatio() Operator {
	return &perSample{issue: models.IssueAspectRatio, fn: func(path string) (any, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if cfg.Height == 0 {
			return nil, fmt.Errorf("decode %s: zero height", path)
		}
		return float64(cfg.Width) / float64(cfg.Height), nil
	}}
}

// Entropy computes the Shannon entropy in bits of the grayscale histogram.
func Entropy() Operator {
	return &perSample{issue: models.IssueEntropy, fn: func(path string) (any, error) {
		g, err := loadGray(path)
		if err != nil {
			return nil, err
		}
		return shannonEntropy(g), nil
	}}
}

// gray is a decoded image reduced to luminance values in [0, 255].
type gray struct {
	w, h int
	pix  []float64
}

func (g *gray) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func loadGray(path string) (*gray, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return toGray(img)
}

func toGray(img image.Image) (*gray, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	g := &gray{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gg, bb, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels.
			lum := 0.299*float64(r) + 0.587*float64(gg) + 0.114*float64(bb)
			g.pix[(y-b.Min.Y)*g.w+(x-b.Min.X)] = lum / 257
		}
	}
	return g, nil
}

func laplacianVariance(g *gray) float64 {
	if g.w < 3 || g.h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			v := g.at(x-1, y) + g.at(x+1, y) + g.at(x, y-1) + g.at(x, y+1) - 4*g.at(x, y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func shannonEntropy(g *gray) float64 {
	var hist [256]int
	for _, v := range g.pix {
		idx := int(math.Round(v))
		hist[min(max(idx, 0), 255)]++
	}
	total := float64(len(g.pix))
	var h float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
