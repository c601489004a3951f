// Package pipeline runs candidates through check, fetch, decode, hash,
// dedup and record.
//
// Storage failures are returned as errors and end a run. Everything that is
// wrong with a single item (fetch, decode, encode) becomes a Skipped
// decision instead, and the item is left unrecorded so a later run retries
// it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pdxmph/goopho/pkg/duplicate"
	"github.com/pdxmph/goopho/pkg/media"
	"github.com/pdxmph/goopho/pkg/phash"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/thumbnail"
)

// Candidate is one remote item as the listing reports it. Fetch is only
// called when the item has not been synced.
type Candidate struct {
	URL   string
	MTime time.Time
	Fetch func(ctx context.Context) ([]byte, error)
}

// Options configure a Processor.
type Options struct {
	// MaxDistance is the near-duplicate threshold in bits.
	MaxDistance int
	// DisableDedup accepts every raster item without consulting the index.
	DisableDedup bool
	Thumbnail    thumbnail.Options

	// Workers bounds how many candidates Run processes at once.
	Workers int
	// StopAtSynced ends Run at the first candidate already synced. This is
	// only correct when candidates are ordered newest first.
	StopAtSynced bool
	// DryRun computes decisions without writing anything.
	DryRun bool

	// Now stamps inserted columns. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxDistance: duplicate.DefaultMaxDistance,
		Thumbnail:   thumbnail.DefaultOptions(),
		Workers:     4,
	}
}

// Processor decides candidates against one store.
type Processor struct {
	store   *store.Store
	index   *duplicate.Index
	checker *duplicate.Checker
	thumbs  *thumbnail.Generator
	opts    Options
	log     *slog.Logger

	// commitMu orders dedup checks against the writes that follow them.
	commitMu sync.Mutex
}

// New creates a processor writing to s.
func New(s *store.Store, opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	index := duplicate.NewIndex(s)
	return &Processor{
		store:   s,
		index:   index,
		checker: duplicate.NewChecker(index, opts.MaxDistance),
		thumbs:  thumbnail.NewGenerator(thumbnail.NewCache(s), opts.Thumbnail),
		opts:    opts,
		log:     opts.Logger.With("component", "pipeline"),
	}
}

// Options returns the processor's effective options.
func (p *Processor) Options() Options {
	return p.opts
}

// Process decides a single candidate. The returned error is always a
// storage or context error; per-item problems are reported in the decision.
func (p *Processor) Process(ctx context.Context, c Candidate) (*Decision, error) {
	if st := p.invalid(c); st != nil {
		return st.d, nil
	}
	synced, err := p.store.HasSynced(ctx, c.MTime, c.URL)
	if err != nil {
		return nil, err
	}
	if synced {
		return p.alreadySynced(ctx, c)
	}
	st, err := p.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	return p.commit(ctx, st)
}

func (p *Processor) alreadySynced(ctx context.Context, c Candidate) (*Decision, error) {
	d := &Decision{URL: c.URL, MTime: c.MTime, Action: AlreadySynced}
	id, _, err := p.store.Lookup(ctx, c.MTime, c.URL)
	if err != nil {
		return nil, err
	}
	d.ItemID = id
	p.log.Debug("already synced", "url", c.URL, "mtime", c.MTime, "item_id", id)
	return d, nil
}

// staged is a candidate that went through the parallel half of the
// pipeline and waits for its turn to commit.
type staged struct {
	d *Decision
	// final marks a decision that needs no writes.
	final bool

	hash    uint64
	encoded string
	encErr  error
}

func (p *Processor) finished(d *Decision) *staged {
	return &staged{d: d, final: true}
}

// invalid returns a skipped decision for a candidate that can never be
// recorded, or nil.
func (p *Processor) invalid(c Candidate) *staged {
	d := &Decision{URL: c.URL, MTime: c.MTime}
	switch {
	case c.URL == "":
		return p.finished(p.skip(d, errors.New("empty url")))
	case c.MTime.IsZero():
		return p.finished(p.skip(d, errors.New("zero mtime")))
	}
	return nil
}

// prepare fetches, decodes, hashes and encodes a valid candidate. It
// touches nothing in the store, so any number of prepares may run at once.
func (p *Processor) prepare(ctx context.Context, c Candidate) (*staged, error) {
	d := &Decision{URL: c.URL, MTime: c.MTime}

	if c.Fetch == nil {
		return p.finished(p.skip(d, errors.New("no fetch function"))), nil
	}
	data, err := c.Fetch(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return p.finished(p.skip(d, fmt.Errorf("fetch: %w", err))), nil
	}
	d.Digest = media.Digest(data)

	blob, img, err := media.Decode(data)
	if err != nil {
		return p.finished(p.skip(d, err)), nil
	}

	if blob.Kind == media.Opaque {
		d.Action = Opaque
		return &staged{d: d}, nil
	}
	d.Format = blob.Format

	hash, err := phash.Compute(img)
	if err != nil {
		return p.finished(p.skip(d, &media.DecodeError{Format: blob.Format, Err: err})), nil
	}
	d.Hash, d.HasHash = hash, true

	st := &staged{d: d, hash: hash}
	// Duplicates never use the thumbnail, but whether this is one is only
	// known at commit time.
	st.encoded, st.encErr = p.thumbs.Encode(img)
	return st, nil
}

// commit runs the dedup check and the writes for a prepared candidate.
// Commits are serialized, so the first of two near-identical candidates
// committed is the one that becomes canonical.
func (p *Processor) commit(ctx context.Context, st *staged) (*Decision, error) {
	d := st.d
	if st.final {
		return d, nil
	}

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if d.Action == Opaque {
		if err := p.record(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	if !p.opts.DisableDedup {
		match, err := p.checker.Check(ctx, st.hash)
		if err != nil {
			return nil, err
		}
		if match != nil {
			d.Action = Duplicate
			d.CanonicalID = match.ID
			d.Distance = match.Distance
			if err := p.record(ctx, d); err != nil {
				return nil, err
			}
			return d, nil
		}
	}

	// A bad thumbnail leaves no trace of the item.
	if st.encErr != nil {
		return p.skip(d, st.encErr), nil
	}

	d.Action = Accepted
	if err := p.record(ctx, d); err != nil {
		return nil, err
	}
	if p.opts.DryRun || d.Action != Accepted {
		return d, nil
	}

	now := p.opts.Now()
	if err := p.index.Insert(ctx, d.ItemID, st.hash, now); err != nil {
		return nil, err
	}
	if err := p.thumbs.Save(ctx, d.ItemID, st.encoded, now); err != nil {
		return nil, err
	}
	d.Thumbnail = true

	p.log.Debug("accepted", "url", d.URL, "item_id", d.ItemID, "dhash", phash.Format(st.hash))
	return d, nil
}

// record writes the sync-state row for d. Losing a race to another writer
// turns d into AlreadySynced, and a row the store refuses turns it into
// Skipped. Only storage and context errors are returned.
func (p *Processor) record(ctx context.Context, d *Decision) error {
	if p.opts.DryRun {
		return nil
	}

	id, err := p.store.RecordSynced(ctx, d.MTime, d.URL, p.opts.Now())
	switch {
	case err == nil:
		d.ItemID = id
		return nil
	case errors.Is(err, store.ErrDuplicateKey):
		p.log.Debug("recorded concurrently", "url", d.URL, "mtime", d.MTime)
		d.Action = AlreadySynced
		d.ItemID, _, err = p.store.Lookup(ctx, d.MTime, d.URL)
		return err
	case store.IsStorageError(err):
		p.log.Error("record synced failed", "url", d.URL, "error", err)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.skip(d, err)
	return nil
}

func (p *Processor) skip(d *Decision, err error) *Decision {
	d.Action = Skipped
	d.Err = err
	p.log.Warn("skipping item", "url", d.URL, "mtime", d.MTime, "error", err)
	return d
}
