// Package phash computes 64-bit difference hashes (dHash).
//
// The image is reduced to a 9x8 luminance grid; each of the 8 rows yields
// 8 bits, one per horizontally adjacent pair, set when brightness increases
// to the right. Bits are packed row-major from the least significant bit:
// the pair (x, y) sets bit 8*y+x. Because only the sign of local
// gradients survives, the hash tolerates re-encoding, rescaling and mild
// compression noise while still reacting to structural changes.
//
// See https://www.hackerfactor.com/blog/index.php?/archives/529-Kind-of-Like-That.html
package phash

import (
	"errors"
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
)

// Bits is the width of a hash.
const Bits = 64

// ErrNilImage is returned when Compute is called without pixels.
var ErrNilImage = errors.New("phash: nil image")

// Compute returns the difference hash of img.
func Compute(img image.Image) (uint64, error) {
	if img == nil {
		return 0, ErrNilImage
	}
	if r := img.Bounds(); r.Dx() == 0 || r.Dy() == 0 {
		return 0, fmt.Errorf("phash: zero-sized image %v", r)
	}

	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return 0, fmt.Errorf("phash: %w", err)
	}
	// goimagehash fills from the most significant bit.
	return bits.Reverse64(h.GetHash()), nil
}

// Distance returns the number of differing bits between a and b.
func Distance(a, b uint64) int {
	// Both hashes carry the same kind, so Distance cannot fail here.
	d, _ := goimagehash.NewImageHash(a, goimagehash.DHash).Distance(goimagehash.NewImageHash(b, goimagehash.DHash))
	return d
}

// Format renders h as 16 lowercase hex digits.
func Format(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Parse accepts the output of Format, with or without a 0x prefix.
func Parse(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("phash: parse %q: %w", s, err)
	}
	return h, nil
}
