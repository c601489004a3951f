package pipeline

import (
	"fmt"
	"time"

	"github.com/pdxmph/goopho/pkg/phash"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/types"
)

// Action is what happened to a candidate.
type Action int

const (
	// Accepted items were new: sync state, hash and thumbnail were written.
	Accepted Action = iota
	// Duplicate items look like an item already stored. Only sync state is
	// written so they are not fetched again.
	Duplicate
	// AlreadySynced items were recorded by an earlier run and not fetched.
	AlreadySynced
	// Opaque items (video, live photos) get sync state only.
	Opaque
	// Skipped items failed to fetch, decode or encode, or lack a url or
	// mtime. Nothing is written and the next run retries them.
	Skipped
)

func (a Action) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case AlreadySynced:
		return "already_synced"
	case Opaque:
		return "opaque"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Keep reports whether the downloader should keep the bytes it fetched.
func (a Action) Keep() bool {
	return a == Accepted || a == Opaque
}

// Decision is the outcome for one candidate.
type Decision struct {
	URL    string
	MTime  time.Time
	Action Action

	// ItemID is set once the candidate has an image row. It stays zero for
	// skipped candidates and in dry runs.
	ItemID store.ItemID

	// CanonicalID and Distance describe the stored item a Duplicate matched.
	CanonicalID store.ItemID
	Distance    int

	Hash      uint64
	HasHash   bool
	Digest    string // MD5 of the fetched bytes
	Format    string // raster format, empty for opaque blobs
	Thumbnail bool

	// Err is the reason a candidate was skipped.
	Err error
}

// Result converts d into its JSON form.
func (d *Decision) Result() types.DecisionResult {
	r := types.DecisionResult{
		URL:         d.URL,
		MTime:       d.MTime,
		Action:      d.Action.String(),
		ItemID:      int64(d.ItemID),
		CanonicalID: int64(d.CanonicalID),
		Digest:      d.Digest,
		Format:      d.Format,
		Thumbnail:   d.Thumbnail,
	}
	if d.HasHash {
		r.DHash = phash.Format(d.Hash)
	}
	if d.Action == Duplicate {
		dist := d.Distance
		r.Distance = &dist
	}
	if d.Err != nil {
		msg := d.Err.Error()
		r.Error = &msg
	}
	return r
}
