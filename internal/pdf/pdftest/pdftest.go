// Package pdftest builds small PDF documents and a fake rasterizer for tests.
package pdftest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// Document returns a valid PDF with n empty pages of w x h points.
func Document(n int, w, h float64) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << >> >>", w, h))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Rasterizer draws a solid page whose color encodes the page number.
type Rasterizer struct {
	mu    sync.Mutex
	calls int
	// Fail, when set, is returned instead of an image.
	Fail error
	// Aspect is height / width of the produced raster; zero means 1.5.
	Aspect float64
	// Gate, when set, holds every call until it is closed.
	Gate chan struct{}
}

func (r *Rasterizer) Rasterize(ctx context.Context, _ []byte, page, width int) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	fail := r.Fail
	r.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return PNG(width, r.height(width), uint8(page)), nil
}

func (r *Rasterizer) height(width int) int {
	a := r.Aspect
	if a == 0 {
		a = 1.5
	}
	return int(float64(width) * a)
}

func (r *Rasterizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Rasterizer) SetFail(err error) {
	r.mu.Lock()
	r.Fail = err
	r.mu.Unlock()
}

// PNG encodes a w x h image filled with shade.
func PNG(w, h int, shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: 255 - shade, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
