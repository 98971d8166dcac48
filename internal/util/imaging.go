package util

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ResizeToWidth scales img so that its width is exactly width, keeping the aspect ratio.
func ResizeToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() == width || b.Dx() == 0 {
		return img
	}
	height := (b.Dy()*width + b.Dx()/2) / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// NormalizePNG decodes a raster, resizes it to width and re-encodes it as PNG.
func NormalizePNG(data []byte, width int) ([]byte, image.Point, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, errors.Wrap(err, "decode raster")
	}
	img = ResizeToWidth(img, width)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Point{}, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), img.Bounds().Size(), nil
}

// Thumbnail encodes a downscaled lossy WebP copy of a raster.
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode raster")
	}
	img = ResizeToWidth(img, width)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: 80}); err != nil {
		return nil, errors.Wrap(err, "encode webp")
	}
	return buf.Bytes(), nil
}
