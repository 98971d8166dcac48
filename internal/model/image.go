package model

import (
	"github.com/pkg/errors"
	"github.com/vincent-petithory/dataurl"
)

const (
	MIMEPNG = "image/png"
	MIMESVG = "image/svg+xml"
)

// PageImage is a self-contained encoded page raster.
type PageImage struct {
	MIME string
	Data []byte
}

// DataURL encodes the image the way it is persisted in the page cache.
func (p *PageImage) DataURL() string {
	return dataurl.New(p.Data, p.MIME).String()
}

func ParsePageImage(s string) (*PageImage, error) {
	du, err := dataurl.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode page image")
	}
	return &PageImage{MIME: du.ContentType(), Data: du.Data}, nil
}
