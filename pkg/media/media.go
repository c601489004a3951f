// Package media turns fetched bytes into something the store can reason about.
//
// Every blob is first classified into a capability variant. Raster blobs are
// decoded into an image.Image and feed the perceptual hasher and the
// thumbnail encoder; opaque blobs (video, live photo containers, anything we
// don't have a raster decoder for) are only content-digested.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	// Raster decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Kind is the capability variant of a blob.
type Kind int

const (
	// Opaque blobs are stored and digested but never decoded.
	Opaque Kind = iota
	// Raster blobs decode into pixels.
	Raster
)

func (k Kind) String() string {
	switch k {
	case Raster:
		return "raster"
	case Opaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrEmpty is returned for zero-length input.
var ErrEmpty = errors.New("empty media blob")

// DecodeError reports bytes that claim to be a raster image but could not be
// decoded as one.
type DecodeError struct {
	Format string // sniffed format, may be empty
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Blob is a classified media blob.
type Blob struct {
	Kind        Kind
	Format      string // "jpeg", "png", "webp", ... for raster blobs
	ContentType string // sniffed MIME type
	Data        []byte
}

// rasterFormats maps sniffed MIME types to the image package format names
// registered above.
var rasterFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// Classify sniffs data and returns its capability variant. It never decodes
// pixels.
func Classify(data []byte) (*Blob, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	contentType := sniff(data)
	blob := &Blob{
		Kind:        Opaque,
		ContentType: contentType,
		Data:        data,
	}
	if format, ok := rasterFormats[contentType]; ok {
		blob.Kind = Raster
		blob.Format = format
	}
	return blob, nil
}

// sniff extends http.DetectContentType with TIFF, which the stdlib sniffer
// does not know about.
func sniff(data []byte) string {
	if len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))) {
		return "image/tiff"
	}
	contentType := http.DetectContentType(data)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return contentType
}

// Image decodes a raster blob. Calling it on an opaque blob is an error.
func (b *Blob) Image() (image.Image, error) {
	if b.Kind != Raster {
		return nil, &DecodeError{Err: fmt.Errorf("%s is not a raster format", b.ContentType)}
	}

	img, format, err := image.Decode(bytes.NewReader(b.Data))
	if err != nil {
		return nil, &DecodeError{Format: b.Format, Err: err}
	}
	if format != b.Format {
		b.Format = format
	}
	if r := img.Bounds(); r.Dx() == 0 || r.Dy() == 0 {
		return nil, &DecodeError{Format: format, Err: errors.New("zero-sized image")}
	}
	return img, nil
}

// Decode classifies and decodes data in one step. Opaque blobs are returned
// with a nil image and no error, so callers must switch on blob.Kind.
func Decode(data []byte) (*Blob, image.Image, error) {
	blob, err := Classify(data)
	if err != nil {
		return nil, nil, err
	}
	if blob.Kind == Opaque {
		return blob, nil, nil
	}
	img, err := blob.Image()
	if err != nil {
		return blob, nil, err
	}
	return blob, img, nil
}
