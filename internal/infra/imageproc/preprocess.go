// Package imageproc prepares answer images for text recognition.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoders
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"practice-pipeline/internal/domain"
)

// Options controls the recognition preprocessing.
type Options struct {
	Binarize bool
	Cutoff   uint8
}

// Decode returns the image and its registered format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrUndecodableImage, err)
	}
	return img, format, nil
}

// Dimensions reads only the image header.
func Dimensions(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %v", domain.ErrUndecodableImage, err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// Preprocess converts data to grayscale, stretches its contrast to the full
// range and optionally thresholds it. The result is PNG encoded.
func Preprocess(data []byte, opts Options) ([]byte, error) {
	src, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	gray := Grayscale(src)
	Normalize(gray)
	if opts.Binarize {
		Threshold(gray, opts.Cutoff)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func Grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// Normalize linearly maps the darkest pixel to 0 and the brightest to 255.
// A flat image is left unchanged.
func Normalize(g *image.Gray) {
	if len(g.Pix) == 0 {
		return
	}
	lo, hi := uint8(255), uint8(0)
	for _, p := range g.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return
	}
	span := int(hi) - int(lo)
	for i, p := range g.Pix {
		g.Pix[i] = uint8((int(p) - int(lo)) * 255 / span)
	}
}

// Threshold sets pixels >= cutoff to white and the rest to black.
func Threshold(g *image.Gray, cutoff uint8) {
	for i, p := range g.Pix {
		if p >= cutoff {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
}
