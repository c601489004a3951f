// Package kitty draws stored thumbnails inline using the kitty terminal
// graphics protocol.
package kitty

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/pdxmph/goopho/pkg/thumbnail"
)

// chunkSize is the largest base64 payload per escape sequence.
const chunkSize = 4096

// IsKittyTerminal detects if we're running in a Kitty terminal
func IsKittyTerminal() bool {
	// Check TERM environment variable
	term := os.Getenv("TERM")
	if strings.Contains(term, "kitty") {
		return true
	}

	// Check KITTY_WINDOW_ID
	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	// Check KITTY_PID
	if os.Getenv("KITTY_PID") != "" {
		return true
	}

	return false
}

// ImageDisplay writes images to a terminal
type ImageDisplay struct {
	out io.Writer
}

// NewImageDisplay creates a display writing to out
func NewImageDisplay(out io.Writer) *ImageDisplay {
	return &ImageDisplay{out: out}
}

// DisplayThumbnail draws a base64 thumbnail as stored in the cache.
func (d *ImageDisplay) DisplayThumbnail(encoded string) error {
	img, err := thumbnail.Decode(encoded)
	if err != nil {
		return err
	}
	return d.DisplayImage(img)
}

// DisplayImage transmits img as PNG and places it at the cursor.
func (d *ImageDisplay) DisplayImage(img image.Image) error {
	// The protocol takes PNG or raw pixels, so JPEG thumbnails are re-encoded.
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(buf.Bytes())

	for first := true; ; first = false {
		chunk := payload
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		payload = payload[len(chunk):]

		more := 0
		if payload != "" {
			more = 1
		}

		var err error
		if first {
			_, err = fmt.Fprintf(d.out, "\x1b_Gf=100,a=T,m=%d;%s\x1b\\", more, chunk)
		} else {
			_, err = fmt.Fprintf(d.out, "\x1b_Gm=%d;%s\x1b\\", more, chunk)
		}
		if err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		if more == 0 {
			break
		}
	}

	_, err := io.WriteString(d.out, "\n")
	return err
}
