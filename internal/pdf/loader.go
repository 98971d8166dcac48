package pdf // import "github.com/Xunop/celestial/internal/pdf"

import (
	"bytes"
	"context"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/util"
	"github.com/Xunop/celestial/internal/worker"
)

const DefaultWidth = 800

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	api.DisableConfigDir()
}

// Loader opens PDF documents. Pages are rendered on the pool first and, if
// that fails, once more in the calling goroutine with the fallback rasterizer.
type Loader struct {
	pool     *worker.Pool
	primary  Rasterizer
	fallback Rasterizer
	width    int
	timeout  time.Duration
}

type Option func(*Loader)

func WithFallback(r Rasterizer) Option {
	return func(l *Loader) { l.fallback = r }
}

func WithWidth(width int) Option {
	return func(l *Loader) {
		if width > 0 {
			l.width = width
		}
	}
}

// WithTimeout bounds a single rasterizer run.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

func NewLoader(pool *worker.Pool, primary Rasterizer, opts ...Option) *Loader {
	l := &Loader{pool: pool, primary: primary, fallback: primary, width: DefaultWidth}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) DefaultWidth() int {
	return l.width
}

// Document is an opened PDF.
type Document struct {
	NumPages int

	data   []byte
	dims   []types.Dim
	loader *Loader
}

// Load parses data and reads the page geometry. An unreadable document is a render failure.
func (l *Loader) Load(ctx context.Context, data []byte) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conf := pdfmodel.NewDefaultConfiguration()
	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, errors.Wrapf(model.ErrRenderFailure, "unable to open document: %v", err)
	}
	return &Document{NumPages: len(dims), data: data, dims: dims, loader: l}, nil
}

// Page returns the n-th page, counted from 1.
func (d *Document) Page(n int) (*PageHandle, error) {
	if n < 1 || n > d.NumPages {
		return nil, &model.PageOutOfRangeError{Page: n, NumPages: d.NumPages}
	}
	dim := d.dims[n-1]
	return &PageHandle{Number: n, Width: dim.Width, Height: dim.Height, doc: d}, nil
}

type PageHandle struct {
	Number int
	// Width and Height are the page size in PDF points.
	Width  float64
	Height float64

	doc *Document
}

// Size returns the pixel size of the page rendered at width.
func (p *PageHandle) Size(width int) (int, int) {
	if p.Width <= 0 {
		return width, width
	}
	h := int(p.Height*float64(width)/p.Width + 0.5)
	if h < 1 {
		h = 1
	}
	return width, h
}

// RenderToImage rasterizes the page to a PNG exactly width pixels wide.
// A width of zero selects the loader default.
func (p *PageHandle) RenderToImage(ctx context.Context, width int) (*model.PageImage, error) {
	l := p.doc.loader
	if width <= 0 {
		width = l.width
	}

	var out []byte
	err := l.pool.Do(ctx, "render", func(ctx context.Context) error {
		var err error
		out, err = l.rasterize(ctx, l.primary, p, width)
		return err
	})
	if err == nil {
		return &model.PageImage{MIME: model.MIMEPNG, Data: out}, nil
	}
	if ctx.Err() != nil {
		return nil, &model.RenderError{Page: p.Number, Cause: ctx.Err()}
	}
	log.Warn("Primary render failed, retrying in caller",
		zap.Int("page", p.Number), zap.Error(err))

	out, err = l.rasterize(ctx, l.fallback, p, width)
	if err != nil {
		log.Error("Fallback render failed", zap.Int("page", p.Number), zap.Error(err))
		return nil, &model.RenderError{Page: p.Number, Cause: err}
	}
	return &model.PageImage{MIME: model.MIMEPNG, Data: out}, nil
}

func (l *Loader) rasterize(ctx context.Context, r Rasterizer, p *PageHandle, width int) ([]byte, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	raw, err := r.Rasterize(ctx, p.doc.data, p.Number, width)
	if err != nil {
		return nil, err
	}
	png, _, err := util.NormalizePNG(raw, width)
	if err != nil {
		return nil, err
	}
	return png, nil
}
