package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ItemID is the surrogate identifier of an image row. Hash and thumbnail
// entries attach to it. Ids are never reused.
type ItemID int64

func (id ItemID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// MediaRecord says that this exact (MTime, URL) pairing has been processed.
type MediaRecord struct {
	ID       ItemID    `json:"id"`
	MTime    time.Time `json:"mtime"`
	URL      string    `json:"url"`
	Inserted time.Time `json:"inserted"`
}

// SyncState is the part of the store a sync pipeline needs.
type SyncState interface {
	HasSynced(ctx context.Context, mtime time.Time, url string) (bool, error)
	RecordSynced(ctx context.Context, mtime time.Time, url string, now time.Time) (ItemID, error)
}

var _ SyncState = (*Store)(nil)

// HasSynced reports whether exactly this (mtime, url) pair was recorded.
func (s *Store) HasSynced(ctx context.Context, mtime time.Time, url string) (bool, error) {
	_, ok, err := s.Lookup(ctx, mtime, url)
	return ok, err
}

// RecordSynced inserts a MediaRecord and returns its item id. It fails with
// ErrDuplicateKey if the pair already exists; concurrent callers racing on
// the same pair see exactly one success.
func (s *Store) RecordSynced(ctx context.Context, mtime time.Time, url string, now time.Time) (ItemID, error) {
	if url == "" {
		return 0, errors.New("record synced: empty url")
	}
	if mtime.IsZero() {
		return 0, errors.New("record synced: zero mtime")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO image (mtime, url, inserted) VALUES (?, ?, ?)`,
		FormatTime(mtime), url, FormatTime(now),
	)
	if err != nil {
		return 0, Wrap("record synced", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, Wrap("record synced", err)
	}
	return ItemID(id), nil
}

// Lookup returns the item id recorded for (mtime, url).
func (s *Store) Lookup(ctx context.Context, mtime time.Time, url string) (ItemID, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM image WHERE mtime = ? AND url = ?`,
		FormatTime(mtime), url,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, Wrap("lookup", err)
	}
	return ItemID(id), true, nil
}

// Get returns the record for id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id ItemID) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mtime, url, inserted FROM image WHERE id = ?`, int64(id))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap("get", err)
	}
	return rec, nil
}

// Latest returns the record with the newest mtime, or nil for an empty
// store. Incremental runs use it as a resume watermark.
func (s *Store) Latest(ctx context.Context) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mtime, url, inserted FROM image ORDER BY mtime DESC, id DESC LIMIT 1`)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap("latest", err)
	}
	return rec, nil
}

// FindByURL lists every recorded mtime of url, newest first.
func (s *Store) FindByURL(ctx context.Context, url string) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mtime, url, inserted FROM image WHERE url = ? ORDER BY mtime DESC`, url)
	if err != nil {
		return nil, Wrap("find by url", err)
	}
	defer rows.Close()

	var records []*MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, Wrap("find by url", err)
		}
		records = append(records, rec)
	}
	return records, Wrap("find by url", rows.Err())
}

// Forget deletes the record for (mtime, url) so the item is fetched again on
// the next run. Its thumbnail goes with it; its hash entry stays behind
// until PruneOrphans. It reports whether a record existed.
func (s *Store) Forget(ctx context.Context, mtime time.Time, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM image WHERE mtime = ? AND url = ?`, FormatTime(mtime), url)
	if err != nil {
		return false, Wrap("forget", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Wrap("forget", err)
	}
	return n > 0, nil
}

// Count returns the number of recorded items.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM image`).Scan(&n); err != nil {
		return 0, Wrap("count", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*MediaRecord, error) {
	var (
		rec      MediaRecord
		id       int64
		mtime    string
		inserted string
	)
	if err := row.Scan(&id, &mtime, &rec.URL, &inserted); err != nil {
		return nil, err
	}

	var err error
	rec.ID = ItemID(id)
	if rec.MTime, err = ParseTime(mtime); err != nil {
		return nil, err
	}
	if rec.Inserted, err = ParseTime(inserted); err != nil {
		return nil, err
	}
	return &rec, nil
}
