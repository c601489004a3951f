// Package thumbnail produces small text-safe previews of images and keeps
// them next to the item they belong to.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/gift"
)

const (
	DefaultMaxDimension  = 128
	DefaultMaxEncodedLen = 16 * 1024
	DefaultQuality       = 80

	// minQuality is where the quality ladder stops.
	minQuality  = 10
	qualityStep = 10
)

// Options bound the encoder's output.
type Options struct {
	// MaxDimension caps the longest side in pixels. Smaller images are not
	// enlarged.
	MaxDimension int
	// MaxEncodedLen caps the length of the returned base64 string.
	MaxEncodedLen int
	// Quality is the starting JPEG quality (1-100).
	Quality int
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxDimension:  DefaultMaxDimension,
		MaxEncodedLen: DefaultMaxEncodedLen,
		Quality:       DefaultQuality,
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxDimension <= 0:
		return fmt.Errorf("max dimension must be positive, got %d", o.MaxDimension)
	case o.MaxEncodedLen <= 0:
		return fmt.Errorf("max encoded length must be positive, got %d", o.MaxEncodedLen)
	case o.Quality < 1 || o.Quality > 100:
		return fmt.Errorf("quality must be between 1 and 100, got %d", o.Quality)
	}
	return nil
}

// EncodeError reports an image that could not be turned into a thumbnail
// within the requested bounds.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode thumbnail: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ErrTooLarge means no quality setting brought the thumbnail under
// MaxEncodedLen.
var ErrTooLarge = errors.New("thumbnail exceeds encoded length bound")

// Encode resizes img so its longest side is at most opts.MaxDimension and
// returns it base64 encoded. Images with transparency are kept as PNG when
// that fits; everything else is JPEG, starting at opts.Quality and stepping
// down until the result fits. The output depends only on the pixels and the
// options.
func Encode(img image.Image, opts Options) (string, error) {
	if err := opts.validate(); err != nil {
		return "", &EncodeError{Err: err}
	}
	if img == nil {
		return "", &EncodeError{Err: errors.New("nil image")}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return "", &EncodeError{Err: fmt.Errorf("zero-sized image %v", b)}
	}

	thumb := resize(img, opts.MaxDimension)

	if hasTransparency(img) {
		encoded, err := encodePNG(thumb)
		if err != nil {
			return "", &EncodeError{Err: err}
		}
		if len(encoded) <= opts.MaxEncodedLen {
			return encoded, nil
		}
		thumb = flatten(thumb)
	}

	floor := min(minQuality, opts.Quality)
	for q := opts.Quality; ; q -= qualityStep {
		q = max(q, floor)
		encoded, err := encodeJPEG(thumb, q)
		if err != nil {
			return "", &EncodeError{Err: err}
		}
		if len(encoded) <= opts.MaxEncodedLen {
			return encoded, nil
		}
		if q == floor {
			return "", &EncodeError{Err: fmt.Errorf("%w: %d > %d at quality %d",
				ErrTooLarge, len(encoded), opts.MaxEncodedLen, q)}
		}
	}
}

// Decode reverses Encode for spot-checking.
func Decode(encoded string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}
	return img, nil
}

// Format returns the container format ("jpeg" or "png") of an encoded
// thumbnail.
func Format(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode thumbnail config: %w", err)
	}
	return format, nil
}

func resize(img image.Image, maxDim int) *image.NRGBA {
	var filters []gift.Filter
	if b := img.Bounds(); b.Dx() > maxDim || b.Dy() > maxDim {
		filters = append(filters, gift.ResizeToFit(maxDim, maxDim, gift.LanczosResampling))
	}

	g := gift.New(filters...)
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// flatten composites img onto white so it can be stored as JPEG.
func flatten(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// hasTransparency checks if an image has any transparent pixels
func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xffff {
				return true
			}
		}
	}
	return false
}
