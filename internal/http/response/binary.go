package response

import (
	"fmt"
	"net/http"
	"time"
)

// Binary sends raw bytes with the given content type. Images are already compressed.
func Binary(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	builder := New(w, r)
	builder.WithHeader("Content-Type", contentType)
	if !compressible(contentType) {
		builder.WithoutCompression()
	}
	builder.WithBody(data)
	builder.Write()
}

// Cached is Binary with ETag revalidation.
func Cached(w http.ResponseWriter, r *http.Request, contentType, etag string, maxAge time.Duration, data []byte) {
	builder := New(w, r)
	builder.WithCaching(fmt.Sprintf("%q", etag), maxAge, func(b *Builder) {
		b.WithHeader("Content-Type", contentType)
		if !compressible(contentType) {
			b.WithoutCompression()
		}
		b.WithBody(data)
		b.Write()
	})
}

// Attachment sends data as a file download.
func Attachment(w http.ResponseWriter, r *http.Request, contentType, filename string, data []byte) {
	builder := New(w, r)
	builder.WithHeader("Content-Type", contentType)
	builder.WithAttachment(filename)
	builder.WithoutCompression()
	builder.WithBody(data)
	builder.Write()
}

func compressible(contentType string) bool {
	switch contentType {
	case "image/png", "image/webp", "image/jpeg", "application/epub+zip":
		return false
	}
	return true
}
