// Package duplicate finds stored images that look the same as a new one.
package duplicate

import (
	"context"
	"fmt"
	"image"

	"github.com/pdxmph/goopho/pkg/phash"
)

// DefaultMaxDistance tolerates recompression noise while keeping genuinely
// different images apart.
const DefaultMaxDistance = 5

// Finder is the query side of an Index. Only entries of items still in
// sync state can be canonical.
type Finder interface {
	FindNearLive(ctx context.Context, hash uint64, maxDistance int) (*Matches, error)
}

var _ Finder = (*Index)(nil)

// Checker answers "have we already got this picture?" against an index.
type Checker struct {
	finder      Finder
	maxDistance int
}

// NewChecker creates a checker with the given threshold. A negative
// threshold selects DefaultMaxDistance.
func NewChecker(finder Finder, maxDistance int) *Checker {
	if maxDistance < 0 {
		maxDistance = DefaultMaxDistance
	}
	return &Checker{finder: finder, maxDistance: maxDistance}
}

// MaxDistance returns the threshold in bits.
func (c *Checker) MaxDistance() int {
	return c.maxDistance
}

// Check returns the canonical near-duplicate of hash, or nil if there is
// none. Forgotten items are never canonical.
func (c *Checker) Check(ctx context.Context, hash uint64) (*Match, error) {
	matches, err := c.finder.FindNearLive(ctx, hash, c.maxDistance)
	if err != nil {
		return nil, err
	}
	defer matches.Close()

	if !matches.Next() {
		return nil, matches.Err()
	}
	m := matches.Match()
	return &m, nil
}

// CheckImage hashes img and checks it. The hash is returned either way so
// the caller can insert it.
func (c *Checker) CheckImage(ctx context.Context, img image.Image) (uint64, *Match, error) {
	hash, err := phash.Compute(img)
	if err != nil {
		return 0, nil, fmt.Errorf("hash image: %w", err)
	}

	match, err := c.Check(ctx, hash)
	if err != nil {
		return hash, nil, err
	}
	return hash, match, nil
}
