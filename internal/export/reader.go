package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
)

const epubMimetype = "application/epub+zip"

// Archive is a read-only view of an EPUB file held in memory.
type Archive struct {
	Mimetype  string
	Container Container
	Package   Package

	zr *zip.Reader
}

type Container struct {
	Rootfile Rootfile `xml:"rootfiles>rootfile"`
}

type Rootfile struct {
	Fullpath string `xml:"full-path,attr"`
	Type     string `xml:"media-type,attr"`
}

// Package is the OPF document of the archive.
type Package struct {
	Metadata Metadata       `xml:"metadata"`
	Manifest []ManifestItem `xml:"manifest>item"`
	Spine    []SpineItem    `xml:"spine>itemref"`
}

type Metadata struct {
	Title      []string `xml:"title"`
	Language   []string `xml:"language"`
	Creator    []string `xml:"creator"`
	Identifier []string `xml:"identifier"`
}

type ManifestItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type SpineItem struct {
	IDref string `xml:"idref,attr"`
}

// ReadArchive parses the container and package documents of an EPUB.
func ReadArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	a := &Archive{zr: zr}
	m, err := a.readBytes("mimetype")
	if err != nil {
		return nil, err
	}
	a.Mimetype = string(m)
	if a.Mimetype != epubMimetype {
		return nil, fmt.Errorf("epub: invalid mimetype: %s", a.Mimetype)
	}
	if err := a.readXML("META-INF/container.xml", &a.Container); err != nil {
		return nil, err
	}
	if err := a.readXML(a.Container.Rootfile.Fullpath, &a.Package); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) Title() string {
	if len(a.Package.Metadata.Title) > 0 {
		return a.Package.Metadata.Title[0]
	}
	return ""
}

// Files returns the names of every entry in the archive.
func (a *Archive) Files() []string {
	files := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		files = append(files, f.Name)
	}
	return files
}

// Sections returns the content documents in reading order.
func (a *Archive) Sections() ([]string, error) {
	byID := make(map[string]ManifestItem, len(a.Package.Manifest))
	for _, m := range a.Package.Manifest {
		byID[m.ID] = m
	}
	var out []string
	for _, ref := range a.Package.Spine {
		m, ok := byID[ref.IDref]
		if !ok {
			return nil, fmt.Errorf("epub: spine references unknown item %s", ref.IDref)
		}
		b, err := a.readBytes(a.filename(m.Href))
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

// MediaOfType counts manifest items with the given media type.
func (a *Archive) MediaOfType(mediaType string) int {
	n := 0
	for _, m := range a.Package.Manifest {
		if m.MediaType == mediaType {
			n++
		}
	}
	return n
}

func (a *Archive) filename(n string) string {
	return path.Join(path.Dir(a.Container.Rootfile.Fullpath), n)
}

func (a *Archive) readXML(n string, v any) error {
	rc, err := a.open(n)
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

func (a *Archive) readBytes(n string) ([]byte, error) {
	rc, err := a.open(n)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Archive) open(n string) (io.ReadCloser, error) {
	for _, f := range a.zr.File {
		if f.Name == n {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("file not found: %s", n)
}
