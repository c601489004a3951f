package thumbnail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/pdxmph/goopho/pkg/store"
)

// Cache is the thumbnail table. A row disappears with the image row it
// belongs to.
type Cache struct {
	db *sql.DB
}

// NewCache creates a cache on the store's database
func NewCache(s *store.Store) *Cache {
	return &Cache{db: s.DB()}
}

// Put stores the thumbnail of item id. It fails with store.ErrDuplicateKey if
// one is already stored and with store.ErrUnknownItem if the item does not
// exist.
func (c *Cache) Put(ctx context.Context, id store.ItemID, encoded string, now time.Time) error {
	if encoded == "" {
		return errors.New("put thumbnail: empty encoding")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO thumbnail (image_id, base64, inserted) VALUES (?, ?, ?)`,
		int64(id), encoded, store.FormatTime(now),
	)
	return store.Wrap("put thumbnail", err)
}

// Get returns the thumbnail of item id, if any.
func (c *Cache) Get(ctx context.Context, id store.ItemID) (string, bool, error) {
	var encoded string
	err := c.db.QueryRowContext(ctx,
		`SELECT base64 FROM thumbnail WHERE image_id = ?`, int64(id),
	).Scan(&encoded)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, store.Wrap("get thumbnail", err)
	}
	return encoded, true, nil
}

// Count returns the number of stored thumbnails.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM thumbnail`).Scan(&n); err != nil {
		return 0, store.Wrap("count thumbnails", err)
	}
	return n, nil
}

// Generator handles thumbnail generation and caching
type Generator struct {
	cache *Cache
	opts  Options
}

// NewGenerator creates a new thumbnail generator
func NewGenerator(cache *Cache, opts Options) *Generator {
	return &Generator{cache: cache, opts: opts}
}

// Options returns the encoder bounds in use.
func (g *Generator) Options() Options {
	return g.opts
}

// Encode encodes img with the generator's options without storing it.
func (g *Generator) Encode(img image.Image) (string, error) {
	return Encode(img, g.opts)
}

// Save stores an already encoded thumbnail for item id.
func (g *Generator) Save(ctx context.Context, id store.ItemID, encoded string, now time.Time) error {
	if err := g.cache.Put(ctx, id, encoded, now); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// Generate encodes img and stores it for item id. Encoding failures come
// back as *EncodeError and leave the cache untouched.
func (g *Generator) Generate(ctx context.Context, id store.ItemID, img image.Image, now time.Time) (string, error) {
	encoded, err := g.Encode(img)
	if err != nil {
		return "", err
	}
	if err := g.Save(ctx, id, encoded, now); err != nil {
		return "", err
	}
	return encoded, nil
}
