package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdxmph/goopho/pkg/duplicate"
	"github.com/pdxmph/goopho/pkg/media"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/thumbnail"
)

// seedImage draws eight horizontal bands; band k brightens to the right when
// bit k of seed is set and darkens otherwise. Images from seeds differing in
// n bits have hashes 8n bits apart.
func seedImage(seed uint8) *image.Gray {
	const w, h = 288, 256
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		rising := seed&(1<<(y/32)) != 0
		for x := 0; x < w; x++ {
			v := x * 255 / (w - 1)
			if !rising {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func bytesFetch(data []byte) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return data, nil }
}

type fixture struct {
	store *store.Store
	index *duplicate.Index
	cache *thumbnail.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "goopho.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &fixture{store: s, index: duplicate.NewIndex(s), cache: thumbnail.NewCache(s)}
}

func (f *fixture) processor(mutate func(*Options)) *Processor {
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	return New(f.store, opts)
}

var (
	t1 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
)

func TestRun_SameURLDifferentMTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	x := seedImage(0b01010101)
	candidates := []Candidate{
		{URL: "A", MTime: t3, Fetch: bytesFetch(pngBytes(t, x))},
		{URL: "B", MTime: t2, Fetch: bytesFetch(pngBytes(t, seedImage(0b10101010)))},
		{URL: "A", MTime: t1, Fetch: bytesFetch(jpegBytes(t, x, 85))},
	}

	report, err := p.Run(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	for _, c := range candidates {
		ok, err := f.store.HasSynced(ctx, c.MTime, c.URL)
		if err != nil {
			t.Fatalf("HasSynced error: %v", err)
		}
		if !ok {
			t.Errorf("(%v, %s) was not recorded", c.MTime, c.URL)
		}
	}
	if n, _ := f.store.Count(ctx); n != 3 {
		t.Errorf("store holds %d records, want 3", n)
	}

	if len(report.Decisions) != 3 {
		t.Fatalf("report has %d decisions, want 3", len(report.Decisions))
	}
	wantActions := []Action{Accepted, Accepted, Duplicate}
	for i, want := range wantActions {
		if got := report.Decisions[i].Action; got != want {
			t.Errorf("decision %d = %v, want %v", i, got, want)
		}
	}
	if report.Decisions[2].CanonicalID != report.Decisions[0].ItemID {
		t.Errorf("duplicate points at %d, want %d", report.Decisions[2].CanonicalID, report.Decisions[0].ItemID)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}
}

func TestProcess_Accepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	data := pngBytes(t, seedImage(0x0f))
	d, err := p.Process(ctx, Candidate{URL: "u", MTime: t1, Fetch: bytesFetch(data)})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if d.Action != Accepted {
		t.Fatalf("Action = %v, want accepted (err %v)", d.Action, d.Err)
	}
	if d.ItemID == 0 || !d.HasHash || !d.Thumbnail || d.Format != "png" {
		t.Errorf("decision = %+v", d)
	}
	if d.Digest != media.Digest(data) {
		t.Errorf("Digest = %q, want %q", d.Digest, media.Digest(data))
	}

	e, err := f.index.Get(ctx, d.ItemID)
	if err != nil || e == nil || e.Hash != d.Hash {
		t.Errorf("index entry = %+v, %v; want hash %x", e, err, d.Hash)
	}
	if _, ok, err := f.cache.Get(ctx, d.ItemID); err != nil || !ok {
		t.Errorf("thumbnail missing: %v", err)
	}
}

func TestProcess_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	img := seedImage(0x33)
	first, err := p.Process(ctx, Candidate{URL: "orig", MTime: t1, Fetch: bytesFetch(pngBytes(t, img))})
	if err != nil || first.Action != Accepted {
		t.Fatalf("first Process = %+v, %v", first, err)
	}

	dup, err := p.Process(ctx, Candidate{URL: "reserved", MTime: t2, Fetch: bytesFetch(jpegBytes(t, img, 60))})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if dup.Action != Duplicate {
		t.Fatalf("Action = %v, want duplicate", dup.Action)
	}
	if dup.CanonicalID != first.ItemID {
		t.Errorf("CanonicalID = %d, want %d", dup.CanonicalID, first.ItemID)
	}
	if dup.Distance > duplicate.DefaultMaxDistance {
		t.Errorf("Distance = %d", dup.Distance)
	}

	// Recorded so it is not fetched again, but nothing else.
	if ok, _ := f.store.HasSynced(ctx, t2, "reserved"); !ok {
		t.Error("duplicate was not recorded in sync state")
	}
	if e, _ := f.index.Get(ctx, dup.ItemID); e != nil {
		t.Error("duplicate got its own hash entry")
	}
	if _, ok, _ := f.cache.Get(ctx, dup.ItemID); ok {
		t.Error("duplicate got its own thumbnail")
	}
	if n, _ := f.index.Count(ctx); n != 1 {
		t.Errorf("index holds %d entries, want 1", n)
	}
}

func TestProcess_DedupDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(func(o *Options) { o.DisableDedup = true })

	data := pngBytes(t, seedImage(0x81))
	for i, url := range []string{"a", "b"} {
		d, err := p.Process(ctx, Candidate{URL: url, MTime: t1, Fetch: bytesFetch(data)})
		if err != nil {
			t.Fatalf("Process #%d error: %v", i, err)
		}
		if d.Action != Accepted {
			t.Errorf("Process #%d Action = %v, want accepted", i, d.Action)
		}
	}
}

func TestProcess_Opaque(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	mp4 := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypmp42\x00\x00\x00\x00mp42isom")...)
	d, err := p.Process(ctx, Candidate{URL: "clip.mp4", MTime: t1, Fetch: bytesFetch(mp4)})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if d.Action != Opaque {
		t.Fatalf("Action = %v, want opaque", d.Action)
	}
	if d.HasHash || d.Thumbnail || d.Digest == "" {
		t.Errorf("decision = %+v", d)
	}
	if ok, _ := f.store.HasSynced(ctx, t1, "clip.mp4"); !ok {
		t.Error("opaque item was not recorded")
	}
	if n, _ := f.index.Count(ctx); n != 0 {
		t.Errorf("opaque item was hashed")
	}
}

func TestProcess_SkipsAreNotRecorded(t *testing.T) {
	truncated := func(t *testing.T) []byte {
		return jpegBytes(t, seedImage(1), 90)[:80]
	}

	tests := []struct {
		name  string
		fetch func(t *testing.T) func(context.Context) ([]byte, error)
		opts  func(*Options)
		check func(t *testing.T, err error)
	}{
		{
			name: "decode error",
			fetch: func(t *testing.T) func(context.Context) ([]byte, error) {
				return bytesFetch(truncated(t))
			},
			check: func(t *testing.T, err error) {
				var de *media.DecodeError
				if !errors.As(err, &de) {
					t.Errorf("Err = %v, want *media.DecodeError", err)
				}
			},
		},
		{
			name: "empty body",
			fetch: func(t *testing.T) func(context.Context) ([]byte, error) {
				return bytesFetch(nil)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, media.ErrEmpty) {
					t.Errorf("Err = %v, want ErrEmpty", err)
				}
			},
		},
		{
			name: "fetch error",
			fetch: func(t *testing.T) func(context.Context) ([]byte, error) {
				return func(context.Context) ([]byte, error) { return nil, errors.New("connection reset") }
			},
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("Err is nil")
				}
			},
		},
		{
			name: "encode error",
			fetch: func(t *testing.T) func(context.Context) ([]byte, error) {
				return bytesFetch(pngBytes(t, seedImage(7)))
			},
			opts: func(o *Options) { o.Thumbnail.MaxEncodedLen = 10 },
			check: func(t *testing.T, err error) {
				var ee *thumbnail.EncodeError
				if !errors.As(err, &ee) {
					t.Errorf("Err = %v, want *thumbnail.EncodeError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			p := f.processor(tt.opts)

			d, err := p.Process(ctx, Candidate{URL: "u", MTime: t1, Fetch: tt.fetch(t)})
			if err != nil {
				t.Fatalf("Process returned a run error: %v", err)
			}
			if d.Action != Skipped {
				t.Fatalf("Action = %v, want skipped", d.Action)
			}
			tt.check(t, d.Err)

			if ok, _ := f.store.HasSynced(ctx, t1, "u"); ok {
				t.Error("skipped item was recorded")
			}
			if n, _ := f.index.Count(ctx); n != 0 {
				t.Error("skipped item was hashed")
			}
		})
	}
}

func TestProcess_AlreadySyncedDoesNotFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	var fetches atomic.Int32
	data := pngBytes(t, seedImage(0x3c))
	c := Candidate{URL: "u", MTime: t1, Fetch: func(context.Context) ([]byte, error) {
		fetches.Add(1)
		return data, nil
	}}

	first, err := p.Process(ctx, c)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	second, err := p.Process(ctx, c)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}

	if second.Action != AlreadySynced || second.ItemID != first.ItemID {
		t.Errorf("second decision = %v id %d, want already_synced id %d", second.Action, second.ItemID, first.ItemID)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestRun_StopAtSynced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(func(o *Options) {
		o.StopAtSynced = true
		o.Workers = 2
	})

	if _, err := f.store.RecordSynced(ctx, t2, "old", time.Now()); err != nil {
		t.Fatalf("RecordSynced error: %v", err)
	}

	var lateFetch atomic.Bool
	candidates := []Candidate{
		{URL: "new1", MTime: t3.Add(time.Hour), Fetch: bytesFetch(pngBytes(t, seedImage(0x01)))},
		{URL: "new2", MTime: t3, Fetch: bytesFetch(pngBytes(t, seedImage(0xfe)))},
		{URL: "old", MTime: t2, Fetch: bytesFetch(pngBytes(t, seedImage(0x0f)))},
		{URL: "older", MTime: t1, Fetch: func(context.Context) ([]byte, error) {
			lateFetch.Store(true)
			return pngBytes(t, seedImage(0xf0)), nil
		}},
	}

	report, err := p.Run(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !report.Stopped {
		t.Error("report.Stopped = false")
	}
	if lateFetch.Load() {
		t.Error("candidate after the synced one was fetched")
	}

	s := report.Summary()
	if s.Total != 3 || s.Accepted != 2 || s.AlreadySynced != 1 {
		t.Errorf("summary = %+v", s)
	}
	if ok, _ := f.store.HasSynced(ctx, t1, "older"); ok {
		t.Error("candidate after the synced one was recorded")
	}
}

func TestRun_ParallelWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(func(o *Options) { o.Workers = 4 })

	// Seeds pairwise at least two bits apart, so every pair is 16+ hash
	// bits apart.
	seeds := []uint8{0x00, 0x03, 0x0c, 0x30, 0xc0, 0x0f, 0xf0, 0x3c}
	var candidates []Candidate
	for i, seed := range seeds {
		candidates = append(candidates, Candidate{
			URL:   "item-" + string(rune('a'+i)),
			MTime: t3.Add(-time.Duration(i) * time.Hour),
			Fetch: bytesFetch(pngBytes(t, seedImage(seed))),
		})
	}

	var (
		mu      sync.Mutex
		emitted []string
		runIDs  = map[string]bool{}
	)
	report, err := p.Run(ctx, candidates, func(runID string, d *Decision) {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, d.URL)
		runIDs[runID] = true
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if got := report.Summary().Accepted; got != len(seeds) {
		t.Errorf("accepted %d, want %d", got, len(seeds))
	}
	if len(emitted) != len(seeds) {
		t.Errorf("emitted %d decisions, want %d", len(emitted), len(seeds))
	}
	for i, url := range emitted {
		if url != candidates[i].URL {
			t.Errorf("emitted #%d is %s, want %s", i, url, candidates[i].URL)
		}
	}
	if len(runIDs) != 1 || !runIDs[report.RunID] {
		t.Errorf("decisions tagged with run ids %v, want only %s", runIDs, report.RunID)
	}
	for i, d := range report.Decisions {
		if d.URL != candidates[i].URL {
			t.Errorf("decision %d is for %s, want %s", i, d.URL, candidates[i].URL)
		}
	}
	if n, _ := f.index.Count(ctx); n != int64(len(seeds)) {
		t.Errorf("index holds %d entries, want %d", n, len(seeds))
	}
}

func TestRun_EarliestCopyIsCanonical(t *testing.T) {
	img := seedImage(0x5a)
	copies := [][]byte{
		pngBytes(t, img),
		jpegBytes(t, img, 90),
		jpegBytes(t, img, 70),
		jpegBytes(t, img, 50),
		pngBytes(t, img),
	}

	// The earliest copy is the slowest to fetch, so without ordered commits
	// a later copy would usually win.
	for iter := 0; iter < 20; iter++ {
		ctx := context.Background()
		f := newFixture(t)
		p := f.processor(func(o *Options) { o.Workers = 8 })

		var candidates []Candidate
		for i, data := range copies {
			fetch := bytesFetch(data)
			if i == 0 {
				fetch = func(context.Context) ([]byte, error) {
					time.Sleep(20 * time.Millisecond)
					return data, nil
				}
			}
			candidates = append(candidates, Candidate{
				URL:   "copy-" + string(rune('a'+i)),
				MTime: t3.Add(-time.Duration(i) * time.Minute),
				Fetch: fetch,
			})
		}

		report, err := p.Run(ctx, candidates, nil)
		if err != nil {
			t.Fatalf("iteration %d: Run error: %v", iter, err)
		}
		if len(report.Decisions) != len(copies) {
			t.Fatalf("iteration %d: %d decisions, want %d", iter, len(report.Decisions), len(copies))
		}

		first := report.Decisions[0]
		if first.Action != Accepted || first.URL != "copy-a" {
			t.Fatalf("iteration %d: first decision = %v for %s, want accepted for copy-a", iter, first.Action, first.URL)
		}
		for i, d := range report.Decisions[1:] {
			if d.Action != Duplicate || d.CanonicalID != first.ItemID {
				t.Errorf("iteration %d: decision %d = %v canonical %d, want duplicate of %d",
					iter, i+1, d.Action, d.CanonicalID, first.ItemID)
			}
		}
		if n, _ := f.index.Count(ctx); n != 1 {
			t.Errorf("iteration %d: index holds %d entries, want 1", iter, n)
		}
	}
}

func TestRun_SkipsInvalidCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(func(o *Options) { o.Workers = 2 })

	var fetched atomic.Int32
	counting := func(data []byte) func(context.Context) ([]byte, error) {
		return func(context.Context) ([]byte, error) {
			fetched.Add(1)
			return data, nil
		}
	}
	candidates := []Candidate{
		{URL: "no-mtime", Fetch: counting(pngBytes(t, seedImage(0x11)))},
		{URL: "", MTime: t2, Fetch: counting(pngBytes(t, seedImage(0x22)))},
		{URL: "good", MTime: t1, Fetch: counting(pngBytes(t, seedImage(0x44)))},
	}

	report, err := p.Run(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(report.Decisions) != 3 {
		t.Fatalf("report has %d decisions, want 3", len(report.Decisions))
	}
	for i, d := range report.Decisions[:2] {
		if d.Action != Skipped || d.Err == nil {
			t.Errorf("decision %d = %v (err %v), want skipped with an error", i, d.Action, d.Err)
		}
	}
	if d := report.Decisions[2]; d.Action != Accepted {
		t.Errorf("valid candidate = %v (err %v), want accepted", d.Action, d.Err)
	}
	if n := fetched.Load(); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Errorf("store holds %d records, want 1", n)
	}

	d, err := p.Process(ctx, Candidate{URL: "no-mtime", Fetch: bytesFetch(pngBytes(t, seedImage(0x11)))})
	if err != nil {
		t.Fatalf("Process returned a run error: %v", err)
	}
	if d.Action != Skipped {
		t.Errorf("Process Action = %v, want skipped", d.Action)
	}
}

func TestProcess_ForgottenItemIsAcceptedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	c := Candidate{URL: "A", MTime: t1, Fetch: bytesFetch(pngBytes(t, seedImage(0x69)))}
	first, err := p.Process(ctx, c)
	if err != nil || first.Action != Accepted {
		t.Fatalf("first Process = %+v, %v", first, err)
	}

	if ok, err := f.store.Forget(ctx, c.MTime, c.URL); err != nil || !ok {
		t.Fatalf("Forget = %v, %v", ok, err)
	}

	again, err := p.Process(ctx, c)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if again.Action != Accepted {
		t.Fatalf("Action = %v canonical %d, want accepted", again.Action, again.CanonicalID)
	}
	if again.ItemID == first.ItemID {
		t.Errorf("ItemID = %d, want a fresh id", again.ItemID)
	}
	if again.CanonicalID != 0 {
		t.Errorf("CanonicalID = %d, want none", again.CanonicalID)
	}

	// The forgotten entry stays until pruned.
	orphans, err := f.index.Orphans(ctx)
	if err != nil {
		t.Fatalf("Orphans error: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != first.ItemID {
		t.Errorf("orphans = %+v, want item %d", orphans, first.ItemID)
	}

	// A third copy under a new url is a duplicate of the live item.
	dup, err := p.Process(ctx, Candidate{URL: "B", MTime: t2, Fetch: bytesFetch(jpegBytes(t, seedImage(0x69), 80))})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if dup.Action != Duplicate || dup.CanonicalID != again.ItemID {
		t.Errorf("copy = %v canonical %d, want duplicate of %d", dup.Action, dup.CanonicalID, again.ItemID)
	}
}

func TestRun_DryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(func(o *Options) { o.DryRun = true })

	candidates := []Candidate{
		{URL: "a", MTime: t2, Fetch: bytesFetch(pngBytes(t, seedImage(0x55)))},
		{URL: "b", MTime: t1, Fetch: bytesFetch(pngBytes(t, seedImage(0xaa)))},
	}
	report, err := p.Run(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !report.DryRun || report.Summary().Accepted != 2 {
		t.Errorf("summary = %+v", report.Summary())
	}
	if n, _ := f.store.Count(ctx); n != 0 {
		t.Errorf("dry run wrote %d records", n)
	}
	if n, _ := f.index.Count(ctx); n != 0 {
		t.Errorf("dry run wrote %d hashes", n)
	}
}

func TestRun_StorageErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(nil)

	if err := f.store.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	_, err := p.Run(ctx, []Candidate{
		{URL: "a", MTime: t1, Fetch: bytesFetch(pngBytes(t, seedImage(1)))},
	}, nil)
	if err == nil {
		t.Fatal("Run on a closed store succeeded")
	}
	if !store.IsStorageError(err) {
		t.Errorf("error = %v (%T), want a storage error", err, err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, []Candidate{
		{URL: "a", MTime: t1, Fetch: bytesFetch(pngBytes(t, seedImage(1)))},
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDecisionResult(t *testing.T) {
	d := &Decision{
		URL:         "u",
		MTime:       t1,
		Action:      Duplicate,
		ItemID:      4,
		CanonicalID: 2,
		Distance:    3,
		Hash:        0xabc,
		HasHash:     true,
	}
	r := d.Result()
	if r.Action != "duplicate" || r.ItemID != 4 || r.CanonicalID != 2 {
		t.Errorf("Result = %+v", r)
	}
	if r.Distance == nil || *r.Distance != 3 {
		t.Errorf("Result.Distance = %v, want 3", r.Distance)
	}
	if r.DHash != "0000000000000abc" {
		t.Errorf("Result.DHash = %q", r.DHash)
	}
	if r.Error != nil {
		t.Errorf("Result.Error = %q, want nil", *r.Error)
	}

	skipped := (&Decision{Action: Skipped, Err: errors.New("boom")}).Result()
	if skipped.Error == nil || *skipped.Error != "boom" || skipped.Distance != nil {
		t.Errorf("skipped Result = %+v", skipped)
	}
}
