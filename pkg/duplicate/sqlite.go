package duplicate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdxmph/goopho/pkg/phash"
	"github.com/pdxmph/goopho/pkg/store"
)

// Entry is one stored perceptual hash.
type Entry struct {
	ID       store.ItemID `json:"id"`
	Hash     uint64       `json:"dhash"`
	Inserted time.Time    `json:"inserted"`
}

// Match is an entry found near a query hash.
type Match struct {
	Entry
	Distance int `json:"distance"`
}

// Index is the dhash table. Entries are keyed by item id and carry no
// foreign key, so they outlive a forgotten image row until PruneOrphans.
type Index struct {
	db *sql.DB
}

// NewIndex creates an index on the store's database
func NewIndex(s *store.Store) *Index {
	return &Index{db: s.DB()}
}

// Insert records the hash of item id. A second insert for the same id fails
// with store.ErrDuplicateKey.
func (ix *Index) Insert(ctx context.Context, id store.ItemID, hash uint64, now time.Time) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO dhash (image_id, dhash, inserted) VALUES (?, ?, ?)`,
		int64(id), int64(hash), store.FormatTime(now),
	)
	return store.Wrap("insert dhash", err)
}

// Get returns the entry for id, or nil if there is none.
func (ix *Index) Get(ctx context.Context, id store.ItemID) (*Entry, error) {
	var (
		e        Entry
		rawID    int64
		rawHash  int64
		inserted string
	)
	err := ix.db.QueryRowContext(ctx,
		`SELECT image_id, dhash, inserted FROM dhash WHERE image_id = ?`, int64(id),
	).Scan(&rawID, &rawHash, &inserted)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("get dhash", err)
	}

	e.ID = store.ItemID(rawID)
	e.Hash = uint64(rawHash)
	if e.Inserted, err = store.ParseTime(inserted); err != nil {
		return nil, store.Wrap("get dhash", err)
	}
	return &e, nil
}

// FindNear returns every entry within maxDistance bits of hash, nearest
// first. Entries at the same distance come oldest first, then by item id,
// so the earliest copy seen is the canonical one. Orphaned entries are
// included.
//
// Distances are computed by the hamming() SQL function and rows stream from
// SQLite as the cursor advances. The cursor holds a connection until it is
// exhausted or closed.
func (ix *Index) FindNear(ctx context.Context, hash uint64, maxDistance int) (*Matches, error) {
	return ix.findNear(ctx, "dhash", hash, maxDistance)
}

// FindNearLive is FindNear restricted to entries whose image row still
// exists.
func (ix *Index) FindNearLive(ctx context.Context, hash uint64, maxDistance int) (*Matches, error) {
	return ix.findNear(ctx, "dhash JOIN image ON image.id = dhash.image_id", hash, maxDistance)
}

func (ix *Index) findNear(ctx context.Context, from string, hash uint64, maxDistance int) (*Matches, error) {
	if maxDistance < 0 {
		return nil, fmt.Errorf("find near: negative distance %d", maxDistance)
	}
	if maxDistance > phash.Bits {
		maxDistance = phash.Bits
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT image_id, dhash, inserted, distance
		FROM (
			SELECT dhash.image_id, dhash.dhash, dhash.inserted, hamming(dhash.dhash, ?) AS distance
			FROM `+from+`
		)
		WHERE distance <= ?
		ORDER BY distance, inserted, image_id
	`, int64(hash), maxDistance)
	if err != nil {
		return nil, store.Wrap("find near", err)
	}

	return &Matches{rows: rows}, nil
}

// Orphans lists entries whose image row no longer exists.
func (ix *Index) Orphans(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT image_id, dhash, inserted FROM dhash
		WHERE image_id NOT IN (SELECT id FROM image)
		ORDER BY image_id
	`)
	if err != nil {
		return nil, store.Wrap("list orphans", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			rawID, rawHash int64
			inserted       string
		)
		if err := rows.Scan(&rawID, &rawHash, &inserted); err != nil {
			return nil, store.Wrap("list orphans", err)
		}
		ts, err := store.ParseTime(inserted)
		if err != nil {
			return nil, store.Wrap("list orphans", err)
		}
		entries = append(entries, Entry{ID: store.ItemID(rawID), Hash: uint64(rawHash), Inserted: ts})
	}
	return entries, store.Wrap("list orphans", rows.Err())
}

// PruneOrphans deletes the entries Orphans would list and returns how many
// were removed.
func (ix *Index) PruneOrphans(ctx context.Context) (int64, error) {
	res, err := ix.db.ExecContext(ctx,
		`DELETE FROM dhash WHERE image_id NOT IN (SELECT id FROM image)`)
	if err != nil {
		return 0, store.Wrap("prune orphans", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Wrap("prune orphans", err)
	}
	return n, nil
}

// Count returns the number of stored hashes.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dhash`).Scan(&n); err != nil {
		return 0, store.Wrap("count dhash", err)
	}
	return n, nil
}

// Matches is a forward-only cursor over FindNear results. It cannot be
// rewound; run the query again for a fresh sequence.
type Matches struct {
	rows   *sql.Rows
	cur    Match
	err    error
	done   bool
	closed bool
}

// Next advances to the next match. It returns false at the end of the
// sequence, after an error, or once the cursor is closed.
func (m *Matches) Next() bool {
	if m.done || m.closed {
		return false
	}

	if !m.rows.Next() {
		m.err = store.Wrap("find near", m.rows.Err())
		m.finish()
		return false
	}

	var (
		rawID, rawHash int64
		inserted       string
		distance       int
	)
	if err := m.rows.Scan(&rawID, &rawHash, &inserted, &distance); err != nil {
		m.err = store.Wrap("find near", err)
		m.finish()
		return false
	}
	ts, err := store.ParseTime(inserted)
	if err != nil {
		m.err = store.Wrap("find near", err)
		m.finish()
		return false
	}

	m.cur = Match{
		Entry:    Entry{ID: store.ItemID(rawID), Hash: uint64(rawHash), Inserted: ts},
		Distance: distance,
	}
	return true
}

// Match returns the current match. Only valid after Next returned true.
func (m *Matches) Match() Match {
	return m.cur
}

// Err returns the error, if any, that ended the sequence.
func (m *Matches) Err() error {
	return m.err
}

// Close releases the cursor. It is safe to call more than once.
func (m *Matches) Close() error {
	if m.closed || m.done {
		m.closed = true
		return nil
	}
	m.closed = true
	return m.rows.Close()
}

// All drains the remaining matches and closes the cursor.
func (m *Matches) All() ([]Match, error) {
	defer m.Close()

	var out []Match
	for m.Next() {
		out = append(out, m.Match())
	}
	return out, m.Err()
}

func (m *Matches) finish() {
	m.done = true
	if err := m.rows.Close(); err != nil && m.err == nil {
		m.err = store.Wrap("find near", err)
	}
}
