package pdf

import (
	"bytes"
	"context"
	"image/png"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/pkg/errors"
)

const pdfiumInstanceWait = 30 * time.Second

// Pdfium renders pages with PDFium compiled to WebAssembly, so neither cgo
// nor an external tool is needed.
type Pdfium struct {
	pool pdfium.Pool
}

// NewPdfium starts a pool of at most instances PDFium runtimes.
func NewPdfium(instances int) (*Pdfium, error) {
	if instances < 1 {
		instances = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  instances,
		MaxTotal: instances,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start pdfium")
	}
	return &Pdfium{pool: pool}, nil
}

func (p *Pdfium) Rasterize(ctx context.Context, data []byte, page, width int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wait := pdfiumInstanceWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	instance, err := p.pool.GetInstance(wait)
	if err != nil {
		return nil, errors.Wrap(err, "no pdfium instance available")
	}
	defer instance.Close()

	doc, err := instance.OpenDocument(&requests.OpenDocument{File: &data})
	if err != nil {
		return nil, errors.Wrap(err, "pdfium could not open the document")
	}
	defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})

	// Height is left at zero so the page keeps its aspect ratio.
	rendered, err := instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: doc.Document, Index: page - 1},
		},
		Width: width,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pdfium could not render page %d", page)
	}
	defer rendered.Cleanup()

	var buf bytes.Buffer
	if err := png.Encode(&buf, rendered.Result.Image); err != nil {
		return nil, errors.Wrap(err, "failed to encode pdfium output")
	}
	return buf.Bytes(), nil
}

func (p *Pdfium) Close() error {
	return p.pool.Close()
}
