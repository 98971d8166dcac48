package pdf

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Rasterizer turns one page of a PDF into an encoded raster image.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, page, width int) ([]byte, error)
}

// Poppler runs pdftoppm. With ScaleInEngine unset the page is rendered at the
// tool's default resolution and scaled afterwards.
type Poppler struct {
	Path          string
	ScaleInEngine bool
}

func (p *Poppler) Rasterize(ctx context.Context, data []byte, page, width int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "celestial-render-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create render dir")
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(input, data, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to write render input")
	}

	n := strconv.Itoa(page)
	args := []string{"-png", "-f", n, "-l", n, "-singlefile"}
	if p.ScaleInEngine {
		args = append(args, "-scale-to-x", strconv.Itoa(width), "-scale-to-y", "-1")
	}
	prefix := filepath.Join(dir, "out")
	args = append(args, input, prefix)

	path := p.Path
	if path == "" {
		path = "pdftoppm"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "pdftoppm: %s", bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pdftoppm output")
	}
	return out, nil
}
